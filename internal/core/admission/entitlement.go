package admission

import (
	"context"
	"errors"
	"fmt"

	"mealplan-gateway/internal/core/subscription"
	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"go.uber.org/zap"
)

// Entitlement 訂閱資格閘門
type Entitlement struct {
	store store.Client
}

// NewEntitlement 建立資格閘門
func NewEntitlement(st store.Client) *Entitlement {
	return &Entitlement{store: st}
}

// Require 檢查裝置是否具備生成資格。
// 查無記錄是刻意的 fail-open：新裝置享有隱含免費試用，
// 不可與真正的存儲錯誤（fail closed）混為一談。
func (e *Entitlement) Require(ctx context.Context, deviceID string) (bool, error) {
	data, err := e.store.Get(ctx, subscription.RecordKey(deviceID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("entitlement lookup failed: %w", err)
	}

	var rec subscription.Record
	if err := common.ParseJSONBytes(data, &rec); err != nil {
		return false, fmt.Errorf("entitlement record corrupt: %w", err)
	}

	if !rec.Entitled() {
		common.LogInfo("裝置無生成資格",
			zap.String("device_id", deviceID),
			zap.String("status", string(rec.Status)),
			zap.Int("plans_generated", rec.PlansGenerated),
		)
		return false, nil
	}

	return true, nil
}

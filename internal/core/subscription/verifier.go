// Package subscription 驗證平台簽發的購買憑證並維護裝置的訂閱狀態。
package subscription

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mealplan-gateway/internal/infrastructure/config"
	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"go.uber.org/zap"
)

// VerifyResult 驗證結果
type VerifyResult struct {
	Status      Status     `json:"status"`
	ExpiresDate *time.Time `json:"expiresDate,omitempty"`
}

// Verifier 訂閱狀態驗證器
type Verifier struct {
	store       store.Client
	roots       *x509.CertPool
	bundleID    string
	environment string
	now         func() time.Time
}

// NewVerifier 建立驗證器。roots 為平台信任根憑證池。
func NewVerifier(st store.Client, roots *x509.CertPool, cfg *config.AppleConfig) *Verifier {
	v := &Verifier{
		store: st,
		roots: roots,
		now:   time.Now,
	}
	if cfg != nil {
		v.bundleID = cfg.BundleID
		v.environment = cfg.Environment
	}
	return v
}

// deriveStatus 依優先序推導狀態：退款撤銷 > 效期內 > 過期
func (v *Verifier) deriveStatus(payload *TransactionPayload) Status {
	if payload.RevocationDate > 0 {
		return StatusRevoked
	}
	if expires := msToTime(payload.ExpiresDate); expires != nil && expires.After(v.now()) {
		return StatusActive
	}
	return StatusExpired
}

// VerifyAndStore 驗證簽名交易憑證並合併寫入訂閱記錄。
// 簽名驗證失敗時不落任何資料。
func (v *Verifier) VerifyAndStore(ctx context.Context, deviceID, signedToken string) (*VerifyResult, error) {
	payload, err := ParseSignedTransaction(signedToken, v.roots)
	if err != nil {
		return nil, err
	}

	if v.bundleID != "" && payload.BundleID != "" && payload.BundleID != v.bundleID {
		return nil, fmt.Errorf("bundle id mismatch")
	}
	if v.environment != "" && payload.Environment != "" && payload.Environment != v.environment {
		common.LogWarn("收據環境與設定不符",
			zap.String("expected", v.environment),
			zap.String("got", payload.Environment),
		)
	}

	status := v.deriveStatus(payload)
	expires := msToTime(payload.ExpiresDate)
	now := v.now()

	// merge 寫入：首次建立 plansGenerated=0，後續更新一律不碰該欄位
	err = v.store.Update(ctx, RecordKey(deviceID), func(current []byte, exists bool) ([]byte, error) {
		var rec Record
		if exists {
			if err := json.Unmarshal(current, &rec); err != nil {
				return nil, err
			}
		} else {
			rec = Record{DeviceID: deviceID}
		}

		rec.OriginalTransactionID = payload.OriginalTransactionID
		rec.ProductID = payload.ProductID
		rec.Status = status
		rec.ExpiresDate = expires
		rec.PurchaseDate = msToTime(payload.PurchaseDate)
		rec.UpdatedAt = now

		return json.Marshal(rec)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist subscription: %w", err)
	}

	// webhook 沒有 deviceId，只能靠這個反查指標找到記錄
	if err := v.store.Set(ctx, TransactionIndexKey(payload.OriginalTransactionID), []byte(deviceID)); err != nil {
		return nil, fmt.Errorf("failed to index transaction: %w", err)
	}

	common.LogInfo("訂閱驗證完成",
		zap.String("device_id", deviceID),
		zap.String("status", string(status)),
		zap.String("product_id", payload.ProductID),
	)

	return &VerifyResult{Status: status, ExpiresDate: expires}, nil
}

// UpdateStatusByOriginalTransactionID 供非同步 webhook 路徑更新訂閱狀態。
// status 為空字串時僅更新附帶欄位。查無記錄只記日誌不回錯誤：
// 通知可能先於該裝置的首次驗證抵達。
func (v *Verifier) UpdateStatusByOriginalTransactionID(ctx context.Context, originalTransactionID string, status Status, expiresDate *time.Time, autoRenewEnabled *bool) error {
	idx, err := v.store.Get(ctx, TransactionIndexKey(originalTransactionID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			common.LogWarn("webhook 找不到對應的訂閱記錄",
				zap.String("original_transaction_id", originalTransactionID),
				zap.String("status", string(status)),
			)
			return nil
		}
		return fmt.Errorf("transaction index lookup failed: %w", err)
	}
	deviceID := string(idx)

	err = v.store.Update(ctx, RecordKey(deviceID), func(current []byte, exists bool) ([]byte, error) {
		if !exists {
			common.LogWarn("webhook 指標存在但訂閱記錄遺失",
				zap.String("device_id", deviceID),
			)
			return nil, nil
		}
		var rec Record
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, err
		}

		if status != "" {
			rec.Status = status
		}
		if expiresDate != nil {
			rec.ExpiresDate = expiresDate
		}
		if autoRenewEnabled != nil {
			rec.AutoRenewEnabled = *autoRenewEnabled
		}
		rec.UpdatedAt = v.now()

		return json.Marshal(rec)
	})
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	common.LogInfo("webhook 更新訂閱狀態",
		zap.String("device_id", deviceID),
		zap.String("status", string(status)),
	)
	return nil
}

// IncrementPlansGenerated 成功生成後遞增免費額度計數（只增不減）。
// 裝置可能從未驗證過訂閱，此時以 merge 方式建立最小記錄。
func (v *Verifier) IncrementPlansGenerated(ctx context.Context, deviceID string) error {
	err := v.store.Update(ctx, RecordKey(deviceID), func(current []byte, exists bool) ([]byte, error) {
		var rec Record
		if exists {
			if err := json.Unmarshal(current, &rec); err != nil {
				return nil, err
			}
		} else {
			rec = Record{
				DeviceID: deviceID,
				Status:   StatusNone,
			}
		}
		rec.PlansGenerated++
		rec.UpdatedAt = v.now()
		return json.Marshal(rec)
	})
	if err != nil {
		return fmt.Errorf("failed to increment plansGenerated: %w", err)
	}
	return nil
}

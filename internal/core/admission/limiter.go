// Package admission 是所有受限請求的第一道關卡：
// 固定視窗配額計數加上訂閱資格檢查。
package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"

	"go.uber.org/zap"
)

// Endpoint 端點配額設定
type Endpoint struct {
	Limit  int
	Window time.Duration
}

// rateLimitRecord 存儲中的配額計數文件
type rateLimitRecord struct {
	DeviceID    string    `json:"deviceId"`
	Endpoint    string    `json:"endpoint"`
	WindowStart time.Time `json:"windowStart"`
	Count       int       `json:"count"`
	LastRequest time.Time `json:"lastRequest"`
}

// Decision 配額判定結果。拒絕不是錯誤，呼叫端需依 Allowed 分支。
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
	Limit     int       `json:"limit"`
}

// Limiter 固定視窗配額計數器。視窗到期即整組重置（非滑動視窗），
// 跨視窗邊界最多可通過 2×limit 個請求，這是既定取捨。
type Limiter struct {
	store     store.Client
	endpoints map[string]Endpoint
	now       func() time.Time
}

// NewLimiter 建立配額計數器
func NewLimiter(st store.Client, endpoints map[string]Endpoint) *Limiter {
	return &Limiter{
		store:     st,
		endpoints: endpoints,
		now:       time.Now,
	}
}

func rateLimitKey(deviceID, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", deviceID, endpoint)
}

// CheckAndConsume 檢查並消耗一次配額。讀取-遞增（或重置視窗）在
// 單一樂觀交易內完成，兩個併發請求不可能同時觀察到 count < limit
// 而雙雙放行。
func (l *Limiter) CheckAndConsume(ctx context.Context, deviceID, endpoint string) (*Decision, error) {
	ep, ok := l.endpoints[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", endpoint)
	}

	now := l.now()
	var decision Decision

	err := l.store.Update(ctx, rateLimitKey(deviceID, endpoint), func(current []byte, exists bool) ([]byte, error) {
		var rec rateLimitRecord
		if exists {
			if err := json.Unmarshal(current, &rec); err != nil {
				// 壞掉的文件視同不存在，直接開新視窗
				common.LogWarn("配額記錄損毀，重置視窗",
					zap.String("device_id", deviceID),
					zap.String("endpoint", endpoint),
					zap.Error(err),
				)
				exists = false
			}
		}

		inWindow := exists && now.Before(rec.WindowStart.Add(ep.Window))

		if inWindow {
			if rec.Count >= ep.Limit {
				decision = Decision{
					Allowed:   false,
					Remaining: 0,
					ResetTime: rec.WindowStart.Add(ep.Window),
					Limit:     ep.Limit,
				}
				// 拒絕時不寫入，計數維持在 limit
				return nil, nil
			}
			rec.Count++
			rec.LastRequest = now
		} else {
			// 視窗過期或首次請求：開新視窗，count 從 1 起算
			rec = rateLimitRecord{
				DeviceID:    deviceID,
				Endpoint:    endpoint,
				WindowStart: now,
				Count:       1,
				LastRequest: now,
			}
		}

		decision = Decision{
			Allowed:   true,
			Remaining: ep.Limit - rec.Count,
			ResetTime: rec.WindowStart.Add(ep.Window),
			Limit:     ep.Limit,
		}
		return json.Marshal(rec)
	})
	if err != nil {
		// 交易重試耗盡一律視為內部錯誤（fail closed）
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	if !decision.Allowed {
		common.LogInfo("配額已用盡",
			zap.String("device_id", deviceID),
			zap.String("endpoint", endpoint),
			zap.Time("reset_time", decision.ResetTime),
		)
	}

	return &decision, nil
}

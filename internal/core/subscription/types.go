package subscription

import (
	"fmt"
	"time"
)

// Status 訂閱狀態
type Status string

const (
	StatusNone         Status = "none"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusRevoked      Status = "revoked"
	StatusBillingRetry Status = "billing_retry"
)

// Record 訂閱記錄。首次驗證時建立，之後由驗證與 webhook 更新，永不刪除。
// PlansGenerated 是唯一由請求處理器遞增的欄位（只增不減，merge 寫入）。
type Record struct {
	DeviceID              string     `json:"deviceId"`
	OriginalTransactionID string     `json:"originalTransactionId"`
	ProductID             string     `json:"productId"`
	Status                Status     `json:"status"`
	ExpiresDate           *time.Time `json:"expiresDate,omitempty"`
	PurchaseDate          *time.Time `json:"purchaseDate,omitempty"`
	PlansGenerated        int        `json:"plansGenerated"`
	AutoRenewEnabled      bool       `json:"autoRenewEnabled"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// Entitled 判斷記錄是否具備生成資格：
// 有效訂閱（active / billing_retry），或從未用過免費額度。
func (r *Record) Entitled() bool {
	if r.PlansGenerated == 0 {
		return true
	}
	return r.Status == StatusActive || r.Status == StatusBillingRetry
}

// RecordKey 訂閱文件鍵
func RecordKey(deviceID string) string {
	return fmt.Sprintf("subscription:%s", deviceID)
}

// TransactionIndexKey originalTransactionId 反查 deviceId 的指標鍵
func TransactionIndexKey(originalTransactionID string) string {
	return fmt.Sprintf("subscription:otx:%s", originalTransactionID)
}

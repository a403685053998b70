package subscription

import (
	"context"
	"crypto/x509"
	"fmt"

	"mealplan-gateway/internal/pkg/common"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// 平台伺服器通知類型（App Store Server Notifications V2）
const (
	NotificationSubscribed             = "SUBSCRIBED"
	NotificationDidRenew               = "DID_RENEW"
	NotificationOfferRedeemed          = "OFFER_REDEEMED"
	NotificationExpired                = "EXPIRED"
	NotificationGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	NotificationDidFailToRenew         = "DID_FAIL_TO_RENEW"
	NotificationRefund                 = "REFUND"
	NotificationRevoke                 = "REVOKE"
	NotificationDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	NotificationTest                   = "TEST"
)

// NotificationPayload 通知外層 JWS 的解碼內容
type NotificationPayload struct {
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype"`
	NotificationUUID string           `json:"notificationUUID"`
	Data             NotificationData `json:"data"`
	jwt.RegisteredClaims
}

// NotificationData 通知資料區塊，內含再一層簽名的交易與續訂資訊
type NotificationData struct {
	BundleID              string `json:"bundleId"`
	Environment           string `json:"environment"`
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// RenewalPayload 簽名續訂資訊的解碼內容
type RenewalPayload struct {
	AutoRenewStatus       int    `json:"autoRenewStatus"`
	AutoRenewProductID    string `json:"autoRenewProductId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	jwt.RegisteredClaims
}

// ParseSignedNotification 驗證並解碼通知外層 JWS。
// webhook 本身不過准入控制，簽名驗證是唯一的信任邊界。
func ParseSignedNotification(signedPayload string, roots *x509.CertPool) (*NotificationPayload, error) {
	var payload NotificationPayload
	_, err := jwt.ParseWithClaims(signedPayload, &payload, chainKeyfunc(roots),
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, fmt.Errorf("signed notification verification failed: %w", err)
	}
	if payload.NotificationType == "" {
		return nil, fmt.Errorf("signed notification missing notificationType")
	}
	return &payload, nil
}

// parseSignedRenewal 解碼續訂資訊，失敗不阻斷通知處理
func parseSignedRenewal(signedRenewal string, roots *x509.CertPool) *RenewalPayload {
	if signedRenewal == "" {
		return nil
	}
	var payload RenewalPayload
	_, err := jwt.ParseWithClaims(signedRenewal, &payload, chainKeyfunc(roots),
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		common.LogWarn("續訂資訊解碼失敗", zap.Error(err))
		return nil
	}
	return &payload
}

// statusForNotification 將通知類型映射成訂閱狀態。
// 回傳空字串表示該通知不改變狀態（如僅續訂意願變更）。
func statusForNotification(notificationType string) Status {
	switch notificationType {
	case NotificationSubscribed, NotificationDidRenew, NotificationOfferRedeemed:
		return StatusActive
	case NotificationExpired, NotificationGracePeriodExpired:
		return StatusExpired
	case NotificationRefund, NotificationRevoke:
		return StatusRevoked
	case NotificationDidFailToRenew:
		return StatusBillingRetry
	default:
		return ""
	}
}

// HandleNotification 處理一則平台伺服器通知：驗證外層簽名、解碼內層
// 交易資訊，並依 originalTransactionId 更新訂閱記錄。
func (v *Verifier) HandleNotification(ctx context.Context, signedPayload string) error {
	note, err := ParseSignedNotification(signedPayload, v.roots)
	if err != nil {
		return err
	}

	if note.NotificationType == NotificationTest {
		common.LogInfo("收到平台測試通知", zap.String("uuid", note.NotificationUUID))
		return nil
	}

	if note.Data.SignedTransactionInfo == "" {
		common.LogWarn("通知缺少交易資訊",
			zap.String("type", note.NotificationType),
			zap.String("uuid", note.NotificationUUID),
		)
		return nil
	}

	txn, err := ParseSignedTransaction(note.Data.SignedTransactionInfo, v.roots)
	if err != nil {
		return fmt.Errorf("notification transaction info: %w", err)
	}

	var autoRenew *bool
	if renewal := parseSignedRenewal(note.Data.SignedRenewalInfo, v.roots); renewal != nil {
		enabled := renewal.AutoRenewStatus == 1
		autoRenew = &enabled
	}

	status := statusForNotification(note.NotificationType)

	common.LogInfo("處理平台通知",
		zap.String("type", note.NotificationType),
		zap.String("subtype", note.Subtype),
		zap.String("original_transaction_id", txn.OriginalTransactionID),
		zap.String("derived_status", string(status)),
	)

	return v.UpdateStatusByOriginalTransactionID(ctx, txn.OriginalTransactionID, status, msToTime(txn.ExpiresDate), autoRenew)
}

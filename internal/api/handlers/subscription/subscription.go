// Package subscription 提供收據驗證與平台 webhook 的 HTTP 介面。
package subscription

import (
	"net/http"
	"time"

	core "mealplan-gateway/internal/core/subscription"
	"mealplan-gateway/internal/pkg/common"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 訂閱端點處理程序
type Handler struct {
	verifier *core.Verifier
}

// NewHandler 創建訂閱端點處理程序
func NewHandler(verifier *core.Verifier) *Handler {
	return &Handler{verifier: verifier}
}

// VerifyRequest 用戶端發起的收據驗證請求
type VerifyRequest struct {
	DeviceID          string `json:"deviceId" binding:"required"`
	SignedTransaction string `json:"signedTransaction" binding:"required"`
}

// VerifyResponse 收據驗證回應
type VerifyResponse struct {
	Status      string     `json:"status"`
	ExpiresDate *time.Time `json:"expiresDate,omitempty"`
}

// HandleVerify 驗證簽名交易並更新訂閱狀態
func (h *Handler) HandleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "deviceId and signedTransaction are required",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	result, err := h.verifier.VerifyAndStore(c.Request.Context(), req.DeviceID, req.SignedTransaction)
	if err != nil {
		// 不洩漏驗證失敗細節
		common.LogWarn("收據驗證失敗",
			zap.String("device_id", req.DeviceID),
			zap.Error(err),
		)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "receipt verification failed",
			"code":  common.ErrCodeInvalidReceipt,
		})
		return
	}

	c.JSON(http.StatusOK, VerifyResponse{
		Status:      string(result.Status),
		ExpiresDate: result.ExpiresDate,
	})
}

// NotificationRequest 平台伺服器通知（V2 格式，整包是一個 JWS）
type NotificationRequest struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

// HandleNotification 處理平台非同步通知。此端點不經配額管控，
// 通知本身的簽名驗證就是信任邊界。
func (h *Handler) HandleNotification(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "signedPayload is required",
			"code":  common.ErrCodeInvalidRequest,
		})
		return
	}

	if err := h.verifier.HandleNotification(c.Request.Context(), req.SignedPayload); err != nil {
		common.LogWarn("平台通知處理失敗", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "notification verification failed",
			"code":  common.ErrCodeUnauthorized,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

package common

// 預定義錯誤代碼，處理器以 {"error", "code"} 形式回應，
// 用戶端依 code 分支。
const (
	// 客戶端錯誤 (4xx)
	ErrCodeInvalidRequest   = "INVALID_REQUEST"    // 400
	ErrCodeUnauthorized     = "UNAUTHORIZED"       // 401
	ErrCodeForbidden        = "FORBIDDEN"          // 403
	ErrCodeNotFound         = "NOT_FOUND"          // 404
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED" // 405
	ErrCodeRequestTimeout   = "REQUEST_TIMEOUT"    // 408
	ErrCodeConflict         = "CONFLICT"           // 409
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"  // 429

	// 服務器錯誤 (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrCodeNotImplemented     = "NOT_IMPLEMENTED"     // 501
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"     // 504

	// 業務錯誤代碼
	ErrCodeQuotaExceeded        = "QUOTA_EXCEEDED"        // 429 配額用盡
	ErrCodeSubscriptionRequired = "SUBSCRIPTION_REQUIRED" // 403 需要訂閱
	ErrCodeInvalidReceipt       = "INVALID_RECEIPT"       // 401 收據驗證失敗
	ErrCodeGenerationFailed     = "GENERATION_FAILED"     // 503 生成服務失敗
)

package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mealplan-gateway/internal/infrastructure/store"
	"mealplan-gateway/internal/pkg/common"
)

func fingerprintKey(hash string) string {
	return "reqdedup:" + hash
}

// Deduplication 請求去重中間件：同一請求體在 window 內重複送出直接拒絕。
// 這擋的是用戶端連點與重送，與生成結果的內容判重無關。
// 指紋記錄存在共享存儲並帶 TTL，多實例部署下仍然一致；
// 檢查與寫入非原子，極端併發下可能放過一次重送，配額計數器才是權威關卡。
func Deduplication(st store.Client, window time.Duration) gin.HandlerFunc {
	if window <= 0 {
		window = 1 * time.Second
	}

	return func(c *gin.Context) {
		// 只處理 POST 請求
		if c.Request.Method != "POST" {
			c.Next()
			return
		}

		// 計算請求體哈希
		bodyHash := ""
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				common.LogError("Failed to read request body", zap.Error(err))
				c.Next()
				return
			}

			hash := sha256.Sum256(body)
			bodyHash = hex.EncodeToString(hash[:])

			// 恢復請求體
			c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
		}

		// 生成請求指紋
		fingerprint := c.Request.Method + ":" + c.Request.URL.Path
		if bodyHash != "" {
			fingerprint += ":" + bodyHash
		}

		hash := sha256.Sum256([]byte(fingerprint))
		key := fingerprintKey(hex.EncodeToString(hash[:]))

		// 檢查是否是重複請求
		_, err := st.Get(c.Request.Context(), key)
		if err == nil {
			c.JSON(429, gin.H{
				"error": "Request too frequent",
				"code":  common.ErrCodeTooManyRequests,
			})
			c.Abort()
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			// 存儲故障時放行，這層只是盡力而為的防護
			common.LogWarn("請求指紋查詢失敗", zap.Error(err))
			c.Next()
			return
		}

		// 記錄指紋，到期自動消失
		if err := st.SetWithTTL(c.Request.Context(), key, []byte("1"), window); err != nil {
			common.LogWarn("請求指紋寫入失敗", zap.Error(err))
		}

		c.Next()
	}
}

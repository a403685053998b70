package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 查無文件
var ErrNotFound = errors.New("store: document not found")

// UpdateFn 在樂觀交易內轉換文件內容。exists 表示文件是否已存在；
// 回傳 nil 表示放棄寫入（交易仍視為成功）。
type UpdateFn func(current []byte, exists bool) ([]byte, error)

// Client 共享文件存儲介面。所有跨請求狀態都經由它讀寫，
// 以便測試注入記憶體實作，不依賴任何全局單例。
type Client interface {
	// Get 讀取單一文件，查無時回傳 ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Set 直接覆寫單一文件
	Set(ctx context.Context, key string, value []byte) error

	// SetWithTTL 覆寫單一文件並設定存活時間，到期後視同不存在。
	// 供短生命週期的標記（如請求指紋）使用，避免殘留
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Update 以樂觀讀-改-寫交易更新文件：讀取、套用 fn、條件寫入，
	// 衝突時帶退避重試。併發計數等原子操作必須走這裡，不可先讀後寫。
	Update(ctx context.Context, key string, fn UpdateFn) error

	// PushList 將成員加到列表頭（最新在前）
	PushList(ctx context.Context, key string, member string) error

	// ListRange 讀取列表最前面的 limit 個成員
	ListRange(ctx context.Context, key string, limit int64) ([]string, error)

	// Close 釋放連線資源
	Close() error
}

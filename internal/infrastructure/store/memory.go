package store

import (
	"context"
	"sync"
	"time"
)

// Memory 記憶體版文件存儲，介面與 Redis 版一致，供測試與本地開發注入。
// 單一互斥鎖讓 Update 天然原子，語義與樂觀交易等價。
type Memory struct {
	mu     sync.Mutex
	docs   map[string][]byte
	expiry map[string]time.Time
	lists  map[string][]string
}

// NewMemory 建立記憶體存儲
func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string][]byte),
		expiry: make(map[string]time.Time),
		lists:  make(map[string][]string),
	}
}

// load 讀取文件並惰性清除已過期的鍵。呼叫端須持有鎖。
func (m *Memory) load(key string) ([]byte, bool) {
	if deadline, ok := m.expiry[key]; ok && time.Now().After(deadline) {
		delete(m.docs, key)
		delete(m.expiry, key)
		return nil, false
	}
	data, ok := m.docs[key]
	return data, ok
}

// Get 讀取單一文件
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.load(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set 覆寫單一文件
func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.docs[key] = stored
	delete(m.expiry, key)
	return nil
}

// SetWithTTL 覆寫單一文件並設定存活時間
func (m *Memory) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.docs[key] = stored
	m.expiry[key] = time.Now().Add(ttl)
	return nil
}

// Update 在鎖內執行讀-改-寫
func (m *Memory) Update(ctx context.Context, key string, fn UpdateFn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.load(key)
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	stored := make([]byte, len(next))
	copy(stored, next)
	m.docs[key] = stored
	delete(m.expiry, key)
	return nil
}

// PushList 將成員加到列表頭
func (m *Memory) PushList(ctx context.Context, key string, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[key] = append([]string{member}, m.lists[key]...)
	return nil
}

// ListRange 讀取列表最前面的 limit 個成員
func (m *Memory) ListRange(ctx context.Context, key string, limit int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	if limit > 0 && int64(len(list)) > limit {
		list = list[:limit]
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// Close 無資源需要釋放
func (m *Memory) Close() error {
	return nil
}

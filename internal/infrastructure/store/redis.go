package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mealplan-gateway/internal/infrastructure/config"
	"mealplan-gateway/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Redis 以 Redis 為後端的文件存儲
type Redis struct {
	client    *redis.Client
	txRetries int
	txBackoff time.Duration
}

// NewRedis 建立 Redis 存儲客戶端
func NewRedis(cfg *config.StoreConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	// 測試連接
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{
		client:    client,
		txRetries: cfg.TxRetries,
		txBackoff: cfg.TxBackoff,
	}, nil
}

// Get 讀取單一文件
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

// Set 覆寫單一文件（不設過期，記錄由各自的擁有者管理生命週期）
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetWithTTL 覆寫單一文件並設定存活時間
func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Update 樂觀交易更新：WATCH 文件鍵，讀取後套用 fn，在 MULTI/EXEC 內寫回。
// 其他客戶端搶先改動時 EXEC 失敗，帶退避重試直到次數用盡。
func (r *Redis) Update(ctx context.Context, key string, fn UpdateFn) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		exists := true
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				return err
			}
			current = nil
			exists = false
		}

		next, err := fn(current, exists)
		if err != nil {
			return err
		}
		if next == nil {
			// fn 放棄寫入
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < r.txRetries; attempt++ {
		err := r.client.Watch(ctx, txn, key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		lastErr = err

		common.LogDebug("存儲交易衝突，重試",
			zap.String("key", key),
			zap.Int("attempt", attempt+1),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.txBackoff * time.Duration(attempt+1)):
		}
	}

	return fmt.Errorf("update %s: transaction retries exhausted: %w", key, lastErr)
}

// PushList 將成員加到列表頭
func (r *Redis) PushList(ctx context.Context, key string, member string) error {
	if err := r.client.LPush(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

// ListRange 讀取列表最前面的 limit 個成員
func (r *Redis) ListRange(ctx context.Context, key string, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	members, err := r.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", key, err)
	}
	return members, nil
}

// Close 關閉連線
func (r *Redis) Close() error {
	return r.client.Close()
}

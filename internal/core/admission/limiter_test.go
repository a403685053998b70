package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"mealplan-gateway/internal/infrastructure/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(limit int, window time.Duration) (*Limiter, *store.Memory) {
	st := store.NewMemory()
	l := NewLimiter(st, map[string]Endpoint{
		"generate-plan": {Limit: limit, Window: window},
	})
	return l, st
}

func TestCheckAndConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("前 N 次放行且 remaining 遞減", func(t *testing.T) {
		l, _ := testLimiter(3, time.Hour)

		var resetTime time.Time
		for i := 0; i < 3; i++ {
			d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 2-i, d.Remaining)
			assert.Equal(t, 3, d.Limit)

			// 同一視窗內 resetTime 必須一致
			if i == 0 {
				resetTime = d.ResetTime
			} else {
				assert.Equal(t, resetTime, d.ResetTime)
			}
		}
	})

	t.Run("超出配額的請求被拒絕", func(t *testing.T) {
		l, _ := testLimiter(2, time.Hour)

		for i := 0; i < 2; i++ {
			d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}

		d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, 2, d.Limit)

		// 拒絕不寫入，再次請求仍然被拒
		d, err = l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("視窗到期後整組重置", func(t *testing.T) {
		l, _ := testLimiter(1, time.Hour)

		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		l.now = func() time.Time { return base }

		d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		require.False(t, d.Allowed)

		// 撥快超過視窗長度
		l.now = func() time.Time { return base.Add(time.Hour + time.Minute) }

		d, err = l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
	})

	t.Run("不同裝置與端點各自計數", func(t *testing.T) {
		st := store.NewMemory()
		l := NewLimiter(st, map[string]Endpoint{
			"generate-plan": {Limit: 1, Window: time.Hour},
			"swap-meal":     {Limit: 1, Window: time.Hour},
		})

		d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		require.True(t, d.Allowed)

		d, err = l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		// 同裝置不同端點不受影響
		d, err = l.CheckAndConsume(ctx, "device-1", "swap-meal")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		// 不同裝置同端點不受影響
		d, err = l.CheckAndConsume(ctx, "device-2", "generate-plan")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("未設定的端點回傳錯誤", func(t *testing.T) {
		l, _ := testLimiter(1, time.Hour)

		_, err := l.CheckAndConsume(ctx, "device-1", "unknown-endpoint")
		assert.Error(t, err)
	})

	t.Run("損毀的記錄視同新視窗", func(t *testing.T) {
		l, st := testLimiter(1, time.Hour)

		require.NoError(t, st.Set(ctx, "ratelimit:device-1:generate-plan", []byte("not json")))

		d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("併發請求最多放行 limit 個", func(t *testing.T) {
		const limit = 5
		const workers = 20

		l, _ := testLimiter(limit, time.Hour)

		var wg sync.WaitGroup
		var mu sync.Mutex
		allowed := 0

		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := l.CheckAndConsume(ctx, "device-1", "generate-plan")
				if err == nil && d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, limit, allowed)
	})
}

package subscription

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"mealplan-gateway/internal/infrastructure/config"
	"mealplan-gateway/internal/infrastructure/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T) (*Verifier, *testAuthority, *store.Memory) {
	t.Helper()
	auth := newTestAuthority(t)
	st := store.NewMemory()
	v := NewVerifier(st, auth.roots, &config.AppleConfig{
		BundleID:    "com.example.mealplan",
		Environment: "Production",
	})
	v.now = func() time.Time { return testNow }
	return v, auth, st
}

func testTransaction(expires time.Time) *TransactionPayload {
	return &TransactionPayload{
		TransactionID:         "txn-1",
		OriginalTransactionID: "otx-1",
		ProductID:             "premium_monthly",
		BundleID:              "com.example.mealplan",
		PurchaseDate:          testNow.Add(-24 * time.Hour).UnixMilli(),
		ExpiresDate:           expires.UnixMilli(),
		Environment:           "Production",
	}
}

func loadSubscription(t *testing.T, st *store.Memory, deviceID string) Record {
	t.Helper()
	data, err := st.Get(context.Background(), RecordKey(deviceID))
	require.NoError(t, err)
	var rec Record
	require.NoError(t, json.Unmarshal(data, &rec))
	return rec
}

func TestParseSignedTransaction(t *testing.T) {
	auth := newTestAuthority(t)

	t.Run("合法憑證解碼成功", func(t *testing.T) {
		signed := auth.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))

		payload, err := ParseSignedTransaction(signed, auth.roots)
		require.NoError(t, err)
		assert.Equal(t, "otx-1", payload.OriginalTransactionID)
		assert.Equal(t, "premium_monthly", payload.ProductID)
	})

	t.Run("簽名機構不在信任根內拒絕", func(t *testing.T) {
		other := newTestAuthority(t)
		signed := other.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))

		_, err := ParseSignedTransaction(signed, auth.roots)
		assert.Error(t, err)
	})

	t.Run("缺少 originalTransactionId 拒絕", func(t *testing.T) {
		payload := testTransaction(testNow.Add(30 * 24 * time.Hour))
		payload.OriginalTransactionID = ""
		signed := auth.sign(t, payload)

		_, err := ParseSignedTransaction(signed, auth.roots)
		assert.Error(t, err)
	})

	t.Run("非 JWS 字串拒絕", func(t *testing.T) {
		_, err := ParseSignedTransaction("not a jws", auth.roots)
		assert.Error(t, err)
	})
}

func TestVerifyAndStore(t *testing.T) {
	ctx := context.Background()

	t.Run("效期內憑證判為 active 並落記錄", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		expires := testNow.Add(30 * 24 * time.Hour)
		signed := auth.sign(t, testTransaction(expires))

		result, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)
		assert.Equal(t, StatusActive, result.Status)
		require.NotNil(t, result.ExpiresDate)
		assert.Equal(t, expires.UnixMilli(), result.ExpiresDate.UnixMilli())

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, StatusActive, rec.Status)
		assert.Equal(t, "otx-1", rec.OriginalTransactionID)
		assert.Equal(t, 0, rec.PlansGenerated)

		// 反查指標必須指回裝置
		idx, err := st.Get(ctx, TransactionIndexKey("otx-1"))
		require.NoError(t, err)
		assert.Equal(t, "device-1", string(idx))
	})

	t.Run("過期憑證判為 expired", func(t *testing.T) {
		v, auth, _ := newTestVerifier(t)
		signed := auth.sign(t, testTransaction(testNow.Add(-time.Hour)))

		result, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)
		assert.Equal(t, StatusExpired, result.Status)
	})

	t.Run("撤銷優先於效期", func(t *testing.T) {
		v, auth, _ := newTestVerifier(t)
		payload := testTransaction(testNow.Add(30 * 24 * time.Hour))
		payload.RevocationDate = testNow.Add(-time.Hour).UnixMilli()
		signed := auth.sign(t, payload)

		result, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)
		assert.Equal(t, StatusRevoked, result.Status)
	})

	t.Run("bundle id 不符拒絕", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		payload := testTransaction(testNow.Add(30 * 24 * time.Hour))
		payload.BundleID = "com.other.app"
		signed := auth.sign(t, payload)

		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		assert.Error(t, err)

		// 驗證失敗不得落資料
		_, err = st.Get(ctx, RecordKey("device-1"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("簽名無效時不落資料", func(t *testing.T) {
		v, _, st := newTestVerifier(t)
		other := newTestAuthority(t)
		signed := other.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))

		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		assert.Error(t, err)

		_, err = st.Get(ctx, RecordKey("device-1"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("重複驗證保留既有的 plansGenerated", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		signed := auth.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))

		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, v.IncrementPlansGenerated(ctx, "device-1"))
		}

		_, err = v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, 3, rec.PlansGenerated)
	})
}

func TestUpdateStatusByOriginalTransactionID(t *testing.T) {
	ctx := context.Background()

	t.Run("依反查指標更新狀態", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		signed := auth.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))
		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)

		newExpires := testNow.Add(60 * 24 * time.Hour)
		autoRenew := false
		err = v.UpdateStatusByOriginalTransactionID(ctx, "otx-1", StatusExpired, &newExpires, &autoRenew)
		require.NoError(t, err)

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, StatusExpired, rec.Status)
		assert.Equal(t, newExpires.UnixMilli(), rec.ExpiresDate.UnixMilli())
		assert.False(t, rec.AutoRenewEnabled)
	})

	t.Run("空狀態僅更新附帶欄位", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		signed := auth.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))
		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)

		autoRenew := true
		err = v.UpdateStatusByOriginalTransactionID(ctx, "otx-1", "", nil, &autoRenew)
		require.NoError(t, err)

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, StatusActive, rec.Status)
		assert.True(t, rec.AutoRenewEnabled)
	})

	t.Run("查無指標只記日誌不回錯誤", func(t *testing.T) {
		v, _, _ := newTestVerifier(t)
		err := v.UpdateStatusByOriginalTransactionID(ctx, "unknown-otx", StatusExpired, nil, nil)
		assert.NoError(t, err)
	})
}

func TestIncrementPlansGenerated(t *testing.T) {
	ctx := context.Background()

	t.Run("無既有記錄時建立最小記錄", func(t *testing.T) {
		v, _, st := newTestVerifier(t)

		require.NoError(t, v.IncrementPlansGenerated(ctx, "device-1"))

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, 1, rec.PlansGenerated)
		assert.Equal(t, StatusNone, rec.Status)
	})

	t.Run("既有記錄只遞增計數", func(t *testing.T) {
		v, auth, st := newTestVerifier(t)
		signed := auth.sign(t, testTransaction(testNow.Add(30*24*time.Hour)))
		_, err := v.VerifyAndStore(ctx, "device-1", signed)
		require.NoError(t, err)

		require.NoError(t, v.IncrementPlansGenerated(ctx, "device-1"))
		require.NoError(t, v.IncrementPlansGenerated(ctx, "device-1"))

		rec := loadSubscription(t, st, "device-1")
		assert.Equal(t, 2, rec.PlansGenerated)
		assert.Equal(t, StatusActive, rec.Status)
	})
}

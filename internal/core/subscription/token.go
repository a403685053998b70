package subscription

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"crypto/x509"

	"github.com/golang-jwt/jwt/v5"
)

// TransactionPayload 簽名交易憑證的解碼內容。時間欄位皆為毫秒時間戳，
// 0 表示欄位不存在。
type TransactionPayload struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	BundleID              string `json:"bundleId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	RevocationDate        int64  `json:"revocationDate"`
	Environment           string `json:"environment"`
	jwt.RegisteredClaims
}

// LoadRootPool 從 PEM 檔載入平台信任根憑證
func LoadRootPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read root cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// chainKeyfunc 從 JWS 標頭的 x5c 憑證鏈取出簽名公鑰。
// 葉憑證必須能沿著鏈驗到設定的信任根，否則整個憑證不可信。
func chainKeyfunc(roots *x509.CertPool) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		raw, ok := token.Header["x5c"].([]interface{})
		if !ok || len(raw) == 0 {
			return nil, errors.New("missing x5c certificate chain")
		}

		certs := make([]*x509.Certificate, 0, len(raw))
		for _, entry := range raw {
			encoded, ok := entry.(string)
			if !ok {
				return nil, errors.New("invalid x5c entry")
			}
			der, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("invalid x5c encoding: %w", err)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("invalid x5c certificate: %w", err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		if _, err := certs[0].Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
			// 平台簽名憑證帶的是自訂 EKU，不能用預設的 ServerAuth 檢查
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			return nil, fmt.Errorf("certificate chain verification failed: %w", err)
		}

		return certs[0].PublicKey, nil
	}
}

// ParseSignedTransaction 驗證並解碼簽名交易憑證（ES256 JWS）
func ParseSignedTransaction(signedToken string, roots *x509.CertPool) (*TransactionPayload, error) {
	var payload TransactionPayload
	_, err := jwt.ParseWithClaims(signedToken, &payload, chainKeyfunc(roots),
		jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, fmt.Errorf("signed transaction verification failed: %w", err)
	}
	if payload.OriginalTransactionID == "" {
		return nil, errors.New("signed transaction missing originalTransactionId")
	}
	return &payload, nil
}

// msToTime 毫秒時間戳轉 time.Time，0 視為欄位不存在
func msToTime(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

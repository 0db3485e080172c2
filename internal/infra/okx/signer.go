package okx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Signer handles OKX V5 API authentication signatures
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, secretKey, passphrase string) *Signer {
	return &Signer{
		apiKey:     apiKey,
		secretKey:  secretKey,
		passphrase: passphrase,
	}
}

// Sign computes the request signature for one attempt.
// timestamp: ISO-8601 UTC with millisecond precision, Z suffix
// method: GET, POST, etc. (upper-cased here)
// path: /api/v5/trade/order including query string, no host
// body: exact request body bytes as sent (empty if none)
//
// Prehash format: timestamp + method + requestPath + body.
// Same inputs always produce the same signature; callers must generate a
// fresh timestamp per attempt so retried requests are re-signed.
func (s *Signer) Sign(timestamp, method, path, body string) string {
	payload := timestamp + strings.ToUpper(method) + path + body
	return computeHmacSha256(payload, s.secretKey)
}

// Headers creates the full header set for a request at the given instant.
func (s *Signer) Headers(timestamp, method, path, body string) map[string]string {
	return map[string]string{
		"OK-ACCESS-KEY":        s.apiKey,
		"OK-ACCESS-SIGN":       s.Sign(timestamp, method, path, body),
		"OK-ACCESS-TIMESTAMP":  timestamp,
		"OK-ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":         "application/json",
	}
}

func computeHmacSha256(message string, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

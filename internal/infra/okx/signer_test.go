package okx

import (
	"testing"
)

func TestComputeHmacSha256(t *testing.T) {
	// Standard HMAC-SHA256 Test Vector
	key := "key"
	data := "The quick brown fox jumps over the lazy dog"
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	// Hex: f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8
	// Base64: 97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=

	expected := "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg="
	result := computeHmacSha256(data, key)

	if result != expected {
		t.Errorf("HMAC Mismatch. Expected %s, got %s", expected, result)
	}
}

func TestSigner_Determinism(t *testing.T) {
	signer := NewSigner("key", "secret", "pass")

	ts := "2024-01-01T00:00:00.000Z"
	body := `{"instId":"BTC-USDT","side":"buy","sz":"1"}`

	first := signer.Sign(ts, "POST", "/api/v5/trade/order", body)
	second := signer.Sign(ts, "POST", "/api/v5/trade/order", body)

	if first == "" {
		t.Fatal("Computed signature is empty")
	}
	if first != second {
		t.Errorf("Same inputs must produce same signature: %s != %s", first, second)
	}

	// Prehash is timestamp + METHOD + path + body
	expected := computeHmacSha256(ts+"POST"+"/api/v5/trade/order"+body, "secret")
	if first != expected {
		t.Errorf("Signature does not match prehash construction: %s != %s", first, expected)
	}
}

func TestSigner_InputSensitivity(t *testing.T) {
	signer := NewSigner("key", "secret", "pass")

	base := signer.Sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", "{}")

	variants := map[string]string{
		"timestamp": signer.Sign("2024-01-01T00:00:00.001Z", "POST", "/api/v5/trade/order", "{}"),
		"method":    signer.Sign("2024-01-01T00:00:00.000Z", "GET", "/api/v5/trade/order", "{}"),
		"path":      signer.Sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/orders", "{}"),
		"body":      signer.Sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", `{"a":1}`),
	}

	for changed, sig := range variants {
		if sig == base {
			t.Errorf("Changing %s should change the signature", changed)
		}
	}

	other := NewSigner("key", "other-secret", "pass")
	if other.Sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", "{}") == base {
		t.Error("Changing the secret key should change the signature")
	}
}

func TestSigner_MethodUpperCased(t *testing.T) {
	signer := NewSigner("key", "secret", "pass")

	lower := signer.Sign("2024-01-01T00:00:00.000Z", "post", "/api/v5/account/balance", "")
	upper := signer.Sign("2024-01-01T00:00:00.000Z", "POST", "/api/v5/account/balance", "")

	if lower != upper {
		t.Error("Method should be normalized to upper case before signing")
	}
}

func TestSigner_Headers(t *testing.T) {
	signer := NewSigner("my-key", "secret", "my-pass")

	headers := signer.Headers("2024-01-01T00:00:00.000Z", "POST", "/api/v5/trade/order", "{}")

	if headers["OK-ACCESS-KEY"] != "my-key" {
		t.Errorf("Expected OK-ACCESS-KEY to be 'my-key', got %s", headers["OK-ACCESS-KEY"])
	}
	if headers["OK-ACCESS-PASSPHRASE"] != "my-pass" {
		t.Errorf("Expected OK-ACCESS-PASSPHRASE to be 'my-pass', got %s", headers["OK-ACCESS-PASSPHRASE"])
	}
	if headers["OK-ACCESS-TIMESTAMP"] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("Expected header timestamp to match signing instant, got %s", headers["OK-ACCESS-TIMESTAMP"])
	}
	if headers["OK-ACCESS-SIGN"] == "" {
		t.Error("OK-ACCESS-SIGN should not be empty")
	}
	if headers["Content-Type"] != "application/json" {
		t.Errorf("Expected JSON content type, got %s", headers["Content-Type"])
	}
}

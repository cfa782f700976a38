package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(t *testing.T, secret, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event_id":"evt_1","event_type":"subscription.activated"}`)
	valid := sign(t, secret, body)

	tests := []struct {
		name   string
		secret []byte
		body   []byte
		sig    string
		wantOK bool
	}{
		{"valid signature over matching body", secret, body, valid, true},
		{"tampered body invalidates signature", secret, append([]byte{}, append(body, 'x')...), valid, false},
		{"wrong secret invalidates signature", []byte("other-secret"), body, valid, false},
		{"empty signature is rejected", secret, body, "", false},
		{"non-hex signature is rejected", secret, body, "not-hex!!", false},
		{"empty secret is rejected", nil, body, valid, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifySignature(tt.secret, tt.body, tt.sig); got != tt.wantOK {
				t.Errorf("VerifySignature() = %v, want %v", got, tt.wantOK)
			}
		})
	}
}

func TestVerifySignatureSingleByteTamper(t *testing.T) {
	secret := []byte("webhook-secret")
	body := []byte(`{"event_id":"evt_2","amount":100}`)
	sig := sign(t, secret, body)

	tampered := make([]byte, len(body))
	copy(tampered, body)
	tampered[len(tampered)-1] ^= 0x01

	if VerifySignature(secret, tampered, sig) {
		t.Fatal("VerifySignature should reject a body tampered by a single byte after signing")
	}
}

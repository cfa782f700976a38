package subscription

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature computes a keyed SHA-256 MAC over the raw request body
// and compares it against the hex-encoded signature the provider sent,
// using a constant-time comparison so a partial match cannot be detected
// by timing. There is no payment-provider SDK in this codebase's
// dependency set, so this generalizes the same verifier shape used for
// the chat-platform webhooks elsewhere in this codebase to a provider
// that signs with a plain HMAC header instead of a signed-secrets scheme.
func VerifySignature(secret []byte, body []byte, signatureHex string) bool {
	if len(secret) == 0 || signatureHex == "" {
		return false
	}

	sig, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	return hmac.Equal(sig, expected)
}

package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/forgehost/controlplane/internal/apperr"
)

// proxyCredentialBytes is 256 bits of entropy per spec §4.1 — the
// workspace-level secret a client presents to reach its own workspace
// through the reverse proxy.
const proxyCredentialBytes = 32

// GenerateProxyCredential returns a new random hex-encoded secret and the
// SHA-256 hash that should be persisted in place of the plaintext value.
// The plaintext is returned to the caller exactly once, at creation time.
func GenerateProxyCredential() (plaintext string, hash string, err error) {
	buf := make([]byte, proxyCredentialBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", apperr.Wrap(apperr.KindInternal, "generating proxy credential", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, HashProxyCredential(plaintext), nil
}

// HashProxyCredential hashes a plaintext proxy credential for storage and
// comparison. Unlike passwords, proxy credentials are high-entropy random
// values, so a fast hash (no per-call salt, no adjustable cost) is
// sufficient and keeps the hot proxy path cheap.
func HashProxyCredential(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// VerifyProxyCredential reports whether plaintext hashes to storedHash,
// using a constant-time comparison to avoid leaking timing information
// about how much of the hash matched.
func VerifyProxyCredential(storedHash, plaintext string) bool {
	candidate := HashProxyCredential(plaintext)
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(candidate)) == 1
}

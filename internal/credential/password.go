package credential

import (
	"crypto/sha256"
	"encoding/base64"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/forgehost/controlplane/internal/apperr"
)

// PasswordHasher hashes and verifies account passwords with bcrypt. The
// cost factor is configurable so tests can run with a cheap cost while
// production uses a cost high enough to resist offline attack.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher builds a hasher at the given bcrypt cost. A cost of 0
// falls back to bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// minPasswordLength and maxPasswordLength are the code-point bounds from
// spec §4.3.
const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// passwordSymbols is the fixed symbol set spec §4.3 requires at least one
// of. It intentionally excludes whitespace.
const passwordSymbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// ValidatePolicy checks a candidate password against the account policy in
// spec §4.3: 8-128 code points, at least one lowercase letter, one
// uppercase letter, one digit, and one symbol from the fixed set.
func ValidatePolicy(password string) error {
	length := utf8.RuneCountInString(password)
	if length < minPasswordLength || length > maxPasswordLength {
		return apperr.New(apperr.KindValidation, "password must be 8-128 characters")
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case containsRune(passwordSymbols, r):
			hasSymbol = true
		}
	}
	if !hasLower || !hasUpper || !hasDigit || !hasSymbol {
		return apperr.New(apperr.KindValidation,
			"password must include a lowercase letter, an uppercase letter, a digit, and a symbol")
	}
	return nil
}

func containsRune(set string, r rune) bool {
	for _, s := range set {
		if s == r {
			return true
		}
	}
	return false
}

// prehash collapses an arbitrary-length UTF-8 password to a fixed 44-byte
// base64 string before it reaches bcrypt, which silently truncates input
// past 72 bytes. Hashing the SHA-256 digest instead of the raw password
// means the full 128-code-point policy range is honored exactly, not
// truncated.
func prehash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Hash produces a bcrypt hash suitable for storage.
func (p *PasswordHasher) Hash(password string) (string, error) {
	if err := ValidatePolicy(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(prehash(password)), p.cost)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "hashing password", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored hash. Any mismatch,
// including a malformed hash, collapses to a single AuthFailed error so
// callers cannot distinguish failure modes.
func (p *PasswordHasher) Verify(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(prehash(password))); err != nil {
		return apperr.New(apperr.KindAuthFailed, "invalid email or password")
	}
	return nil
}

// Package auth implements self-registration, login, and session lookup
// for control-plane users (spec §4.2), issuing the opaque bearer tokens
// internal/credential signs and validates.
package auth

import (
	"time"

	"github.com/google/uuid"
)

// User is a control-plane account. PasswordDigest is never serialized to
// JSON; it only ever leaves the store through PasswordHasher.Verify.
type User struct {
	ID             uuid.UUID
	Email          string
	PasswordDigest string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/credential"
)

// Service implements registration and login, gluing the user store to the
// password hasher and token issuer in internal/credential.
type Service struct {
	store  *Store
	hasher *credential.PasswordHasher
	issuer *credential.TokenIssuer
	ttl    time.Duration
}

// NewService builds an auth Service. ttl is the bearer token lifetime
// reported back to clients as expires_in on login (spec §6).
func NewService(store *Store, hasher *credential.PasswordHasher, issuer *credential.TokenIssuer, ttl time.Duration) *Service {
	return &Service{store: store, hasher: hasher, issuer: issuer, ttl: ttl}
}

// LoginResult carries the bearer token issued at login alongside its
// lifetime and the user it belongs to.
type LoginResult struct {
	User      User
	Token     string
	ExpiresIn int64 // seconds
}

// Register creates a new account. Per spec §6 it does not issue a session
// token — the caller logs in separately to obtain one.
func (s *Service) Register(ctx context.Context, email, password string) (User, error) {
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return User{}, err
	}
	return s.store.Create(ctx, email, digest)
}

// Login verifies email/password and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.hasher.Verify(user.PasswordDigest, password); err != nil {
		return LoginResult{}, err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{User: user, Token: token, ExpiresIn: int64(s.ttl.Seconds())}, nil
}

// Me returns the caller's current account, for GET /api/auth/me.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (User, error) {
	return s.store.Get(ctx, userID)
}

func (s *Service) issueToken(user User) (string, error) {
	return s.issuer.Issue(credential.Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
	})
}

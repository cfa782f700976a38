package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/dbx"
)

const userColumns = `id, email, password_digest, created_at, updated_at`

// Store provides raw-SQL persistence for users, matching the rest of the
// codebase's hand-written query style.
type Store struct {
	db *dbx.Gateway
}

// NewStore builds a Store backed by the shared persistence gateway.
func NewStore(db *dbx.Gateway) *Store {
	return &Store{db: db}
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordDigest, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Create inserts a new user with an already-hashed password digest.
func (s *Store) Create(ctx context.Context, email, passwordDigest string) (User, error) {
	query := `INSERT INTO users (email, password_digest) VALUES ($1, $2) RETURNING ` + userColumns
	u, err := scanUser(s.db.QueryRow(ctx, query, email, passwordDigest))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, apperr.New(apperr.KindConflict, "an account with this email already exists")
		}
		return User{}, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

// GetByEmail fetches a user by email, for login.
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(s.db.QueryRow(ctx, query, email))
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, apperr.New(apperr.KindAuthFailed, "invalid email or password")
		}
		return User{}, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}

// Get fetches a user by ID, for the /me endpoint.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, apperr.New(apperr.KindNotFound, "user not found")
		}
		return User{}, fmt.Errorf("fetching user: %w", err)
	}
	return u, nil
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

package workspace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/dbx"
)

const workspaceColumns = `id, owner_id, name, state, container_id, proxy_credential_hash, cpu_quota, memory_bytes, last_started_at, created_at, updated_at`

// Store provides raw-SQL persistence for workspaces. There is no ORM or
// generated query layer in this codebase; every query is written out and
// scanned by hand, matching the rest of the persistence gateway.
type Store struct {
	db *dbx.Gateway
}

// NewStore builds a Store backed by the shared persistence gateway.
func NewStore(db *dbx.Gateway) *Store {
	return &Store{db: db}
}

func scanWorkspace(row pgx.Row) (Workspace, error) {
	var w Workspace
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.Name, &w.State, &w.ContainerID, &w.ProxyCredentialHash,
		&w.CPUQuota, &w.MemoryBytes, &w.LastStartedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	return w, err
}

// CreateTx inserts a new workspace row in StateStopped with no container yet
// — the container is provisioned lazily on first Start, per spec §4.5. It
// runs within tx so Service.Create's entitlement re-check, per-owner cap
// check, and the insert itself all observe one consistent transaction
// (spec §9 cross-row consistency).
func CreateTx(ctx context.Context, tx *dbx.Tx, ownerID uuid.UUID, name string, cpuQuota float64, memoryBytes int64, proxyCredentialHash string) (Workspace, error) {
	query := `INSERT INTO workspaces (owner_id, name, state, cpu_quota, memory_bytes, proxy_credential_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + workspaceColumns

	w, err := scanWorkspace(tx.QueryRow(ctx, query, ownerID, name, StateStopped, cpuQuota, memoryBytes, proxyCredentialHash))
	if err != nil {
		if isUniqueViolation(err) {
			return Workspace{}, apperr.New(apperr.KindConflict, "a workspace with this name already exists")
		}
		return Workspace{}, fmt.Errorf("inserting workspace: %w", err)
	}
	return w, nil
}

// Get fetches a workspace by ID without locking.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`
	w, err := scanWorkspace(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Workspace{}, apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return Workspace{}, fmt.Errorf("fetching workspace: %w", err)
	}
	return w, nil
}

// ListByOwner returns every workspace owned by ownerID. Deleted workspaces
// have no row at all, so there is no state filter to apply here.
func (s *Store) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE owner_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning workspace row: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CountByOwnerTx counts workspaces for the per-owner cap in spec §5, within
// tx so it sees the same snapshot as the insert that follows it.
func CountByOwnerTx(ctx context.Context, tx *dbx.Tx, ownerID uuid.UUID) (int, error) {
	var count int
	query := `SELECT count(*) FROM workspaces WHERE owner_id = $1`
	if err := tx.QueryRow(ctx, query, ownerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting workspaces: %w", err)
	}
	return count, nil
}

// GetForUpdate fetches a workspace row within tx, taking a row lock so
// concurrent lifecycle operations on the same workspace serialize instead
// of racing (spec §5's single-writer-per-workspace invariant).
func GetForUpdate(ctx context.Context, tx *dbx.Tx, id uuid.UUID) (Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1 FOR UPDATE`
	w, err := scanWorkspace(tx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Workspace{}, apperr.New(apperr.KindNotFound, "workspace not found")
		}
		return Workspace{}, fmt.Errorf("locking workspace row: %w", err)
	}
	return w, nil
}

// UpdateState transitions a workspace's state and optionally its container
// ID within tx. It does not check the transition itself: Stop validates it
// via CanTransition, Start through its own checks of the current state.
func UpdateState(ctx context.Context, tx *dbx.Tx, id uuid.UUID, state State, containerID string) error {
	query := `UPDATE workspaces SET state = $1, container_id = $2, updated_at = now() WHERE id = $3`
	_, err := tx.Exec(ctx, query, state, containerID, id)
	if err != nil {
		return fmt.Errorf("updating workspace state: %w", err)
	}
	return nil
}

// UpdateStateStarted moves a workspace to StateRunning and records
// startedAt as its last_started_at, within tx. Called only on a successful
// container start (spec §4.5: "On success, records last_started_at and
// moves to running").
func UpdateStateStarted(ctx context.Context, tx *dbx.Tx, id uuid.UUID, containerID string, startedAt time.Time) error {
	query := `UPDATE workspaces SET state = $1, container_id = $2, last_started_at = $3, updated_at = now() WHERE id = $4`
	_, err := tx.Exec(ctx, query, StateRunning, containerID, startedAt, id)
	if err != nil {
		return fmt.Errorf("updating workspace state: %w", err)
	}
	return nil
}

// DeleteRow permanently removes a workspace row within tx, called only
// after the backing container has already been force-removed.
func DeleteRow(ctx context.Context, tx *dbx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting workspace: %w", err)
	}
	return nil
}

// GetByProxyCredentialHash looks up a workspace by the hash of its proxy
// credential, for the reverse proxy's constant-lookup-on-unique-column
// step (spec §4.7 step 2).
func (s *Store) GetByProxyCredentialHash(ctx context.Context, hash string) (Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE proxy_credential_hash = $1`
	w, err := scanWorkspace(s.db.QueryRow(ctx, query, hash))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Workspace{}, apperr.New(apperr.KindAuthFailed, "unknown workspace credential")
		}
		return Workspace{}, fmt.Errorf("fetching workspace by credential: %w", err)
	}
	return w, nil
}

// pgUniqueViolation is the Postgres error code for a unique constraint
// violation (23505).
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

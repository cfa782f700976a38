package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/containerengine"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/dbx"
	"github.com/forgehost/controlplane/internal/telemetry"
)

// Limits bounds workspace resource requests, loaded from config.
type Limits struct {
	DefaultCPUQuota    float64
	DefaultMemoryBytes int64
	MaxCPUQuota        float64
	MinMemoryBytes     int64
	MaxMemoryBytes     int64
	MaxPerOwner        int
	Image              string
	StopGrace          time.Duration
}

// TxEntitlementChecker re-reads and locks a user's subscription row inside
// an in-flight transaction, reporting whether it is active at this exact
// moment. Implemented by subscription.GetActiveForUserForUpdate, injected
// so that this package does not import subscription. Every
// workspace-mutating transaction calls this as its
// definitive entitlement gate (spec §9): an earlier, outside-the-
// transaction check is only ever an optimistic pre-check, never the
// source of truth.
type TxEntitlementChecker func(ctx context.Context, tx *dbx.Tx, ownerID uuid.UUID) (bool, error)

// Service implements the workspace lifecycle operations in spec §4.1/§4.5.
// Every state-changing operation locks the workspace row for its duration,
// so two concurrent requests against the same workspace serialize rather
// than racing the container engine.
type Service struct {
	store           *Store
	db              *dbx.Gateway
	engine          containerengine.Engine
	logger          *slog.Logger
	metrics         *telemetry.Metrics
	limits          Limits
	checkEntitledTx TxEntitlementChecker
}

// NewService builds a workspace Service. checkEntitledTx is consulted
// inside the transaction of every operation spec §4.5 requires an active
// entitlement for.
func NewService(store *Store, db *dbx.Gateway, engine containerengine.Engine, logger *slog.Logger, metrics *telemetry.Metrics, limits Limits, checkEntitledTx TxEntitlementChecker) *Service {
	return &Service{store: store, db: db, engine: engine, logger: logger, metrics: metrics, limits: limits, checkEntitledTx: checkEntitledTx}
}

// errUnentitled is returned from inside a WithTx closure when the
// re-checked subscription row is not active, rolling back whatever the
// closure had staged so far.
func errUnentitled() error {
	return apperr.New(apperr.KindUnentitled, "an active subscription is required")
}

// CreateResult carries the one-time plaintext proxy credential alongside
// the created workspace. The credential is never persisted in plaintext
// and never reconstructable after this call returns.
type CreateResult struct {
	Workspace       Workspace
	ProxyCredential string
}

// Create inserts a new workspace row in stopped with no backing container
// yet. The container is provisioned lazily by the first Start call,
// matching spec §4.5's state machine. cpuQuotaReq and memoryLimitReq are
// the caller's optional overrides — nil means "use the configured
// default"; a non-nil value that falls outside the allowed range is a
// Validation error, never silently clamped or swapped for the default.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string, cpuQuotaReq *float64, memoryLimitReq *string) (CreateResult, error) {
	if err := ValidateName(name); err != nil {
		return CreateResult{}, err
	}

	cpuQuota := s.limits.DefaultCPUQuota
	if cpuQuotaReq != nil {
		if *cpuQuotaReq <= 0 || *cpuQuotaReq > s.limits.MaxCPUQuota {
			return CreateResult{}, apperr.New(apperr.KindValidation, "cpu quota must be greater than 0 and at most the allowed maximum").
				WithDetails(map[string]any{"max_cpu_quota": s.limits.MaxCPUQuota})
		}
		cpuQuota = *cpuQuotaReq
	}

	memoryBytes := s.limits.DefaultMemoryBytes
	if memoryLimitReq != nil {
		parsed, err := ParseMemoryLimit(*memoryLimitReq)
		if err != nil {
			return CreateResult{}, err
		}
		if parsed < s.limits.MinMemoryBytes || parsed > s.limits.MaxMemoryBytes {
			return CreateResult{}, apperr.New(apperr.KindValidation, "memory request is outside the allowed range").
				WithDetails(map[string]any{"min_bytes": s.limits.MinMemoryBytes, "max_bytes": s.limits.MaxMemoryBytes})
		}
		memoryBytes = parsed
	}

	plaintext, hash, err := credential.GenerateProxyCredential()
	if err != nil {
		return CreateResult{}, err
	}

	var result CreateResult
	err = s.db.WithTx(ctx, func(ctx context.Context, tx *dbx.Tx) error {
		// Spec §9: the subscription row's state at the moment of this
		// mutating transaction is the definitive entitlement gate, not
		// whatever the HTTP handler's pre-check observed before opening it.
		entitled, err := s.checkEntitledTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if !entitled {
			return errUnentitled()
		}

		count, err := CountByOwnerTx(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if count >= s.limits.MaxPerOwner {
			return apperr.New(apperr.KindLimitReached, "workspace limit reached for this account").
				WithDetails(map[string]any{"limit": s.limits.MaxPerOwner})
		}

		w, err := CreateTx(ctx, tx, ownerID, name, cpuQuota, memoryBytes, hash)
		if err != nil {
			return err
		}
		result = CreateResult{Workspace: w, ProxyCredential: plaintext}
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	s.logger.Info("workspace created", "workspace_id", result.Workspace.ID, "owner_id", ownerID)
	return result, nil
}

// Start moves a workspace toward running. If no container has been
// provisioned yet it is created first (stopped -> creating -> stopped),
// then started (-> running). Starting an already-running workspace is a
// no-op success. An engine failure moves the workspace to error, commits
// that state, and returns the engine error.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (Workspace, error) {
	var result Workspace
	var engineErr error
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *dbx.Tx) error {
		w, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		// Spec §9: re-read the owner's entitlement inside this same
		// transaction rather than trusting the handler's pre-check — if it
		// is no longer active at this moment, the transaction rolls back
		// and nothing about the workspace row or container changes.
		entitled, err := s.checkEntitledTx(ctx, tx, w.OwnerID)
		if err != nil {
			return err
		}
		if !entitled {
			return errUnentitled()
		}

		if w.State == StateRunning {
			result = w
			return nil
		}
		if w.State != StateStopped && w.State != StateError {
			return apperr.New(apperr.KindConflict, "workspace cannot be started from its current state").
				WithDetails(map[string]any{"current_state": string(w.State)})
		}

		containerID := w.ContainerID
		if containerID == "" {
			if err := UpdateState(ctx, tx, id, StateCreating, ""); err != nil {
				return err
			}
			if err := s.engine.EnsureNetwork(ctx); err != nil {
				engineErr = err
				return UpdateState(ctx, tx, id, StateError, "")
			}
			containerID, err = s.engine.CreateContainer(ctx, containerengine.Spec{
				WorkspaceID: w.ID.String(),
				Image:       s.limits.Image,
				CPUQuota:    w.CPUQuota,
				MemoryBytes: w.MemoryBytes,
			})
			if err != nil {
				engineErr = err
				return UpdateState(ctx, tx, id, StateError, "")
			}
			if err := UpdateState(ctx, tx, id, StateStopped, containerID); err != nil {
				return err
			}
		}

		if err := s.engine.Start(ctx, containerID); err != nil {
			engineErr = err
			return UpdateState(ctx, tx, id, StateError, containerID)
		}
		startedAt := time.Now()
		if err := UpdateStateStarted(ctx, tx, id, containerID, startedAt); err != nil {
			return err
		}

		s.metrics.WorkspaceTransitionsTotal.WithLabelValues(string(w.State), string(StateRunning)).Inc()
		result = w
		result.State = StateRunning
		result.ContainerID = containerID
		result.LastStartedAt = &startedAt
		return nil
	})
	if err != nil {
		return Workspace{}, err
	}
	if engineErr != nil {
		return Workspace{}, engineErr
	}
	return result, nil
}

// Stop moves a workspace from running to stopped. Stopping an
// already-stopped workspace is a no-op success. An engine failure moves the
// workspace to error, commits that state, and returns the engine error.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (Workspace, error) {
	var result Workspace
	var engineErr error
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *dbx.Tx) error {
		w, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.State == StateStopped {
			result = w
			return nil
		}
		if !CanTransition(w.State, StateStopped) {
			return apperr.New(apperr.KindConflict, "workspace cannot be stopped from its current state").
				WithDetails(map[string]any{"current_state": string(w.State)})
		}

		if w.ContainerID != "" {
			if err := s.engine.Stop(ctx, w.ContainerID, s.limits.StopGrace); err != nil {
				engineErr = err
				return UpdateState(ctx, tx, id, StateError, w.ContainerID)
			}
		}
		if err := UpdateState(ctx, tx, id, StateStopped, w.ContainerID); err != nil {
			return err
		}

		s.metrics.WorkspaceTransitionsTotal.WithLabelValues(string(w.State), string(StateStopped)).Inc()
		result = w
		result.State = StateStopped
		return nil
	})
	if err != nil {
		return Workspace{}, err
	}
	if engineErr != nil {
		return Workspace{}, engineErr
	}
	return result, nil
}

// Delete force-removes any backing container and then deletes the
// workspace row. It succeeds even if the container is already absent.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithTx(ctx, func(ctx context.Context, tx *dbx.Tx) error {
		w, err := GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.ContainerID != "" {
			if err := s.engine.Remove(ctx, w.ContainerID); err != nil {
				return err
			}
		}
		return DeleteRow(ctx, tx, id)
	})
}

// StopAllForOwner stops every running workspace belonging to ownerID. It
// is the subscription side effect worker's entry point for terminal
// subscription transitions (spec §4.6), so it tolerates and logs
// per-workspace failures rather than aborting the whole fan-out.
func (s *Service) StopAllForOwner(ctx context.Context, ownerID uuid.UUID) error {
	items, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, w := range items {
		if w.State != StateRunning {
			continue
		}
		if _, err := s.Stop(ctx, w.ID); err != nil {
			s.logger.Error("stopping workspace after subscription became non-entitled failed",
				"workspace_id", w.ID, "owner_id", ownerID, "error", err)
		}
	}
	return nil
}

// Get returns a workspace by ID, enforcing that callerID owns it.
func (s *Service) Get(ctx context.Context, id, callerID uuid.UUID) (Workspace, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return Workspace{}, err
	}
	if w.OwnerID != callerID {
		return Workspace{}, apperr.New(apperr.KindNotFound, "workspace not found")
	}
	return w, nil
}

// List returns every workspace owned by callerID.
func (s *Service) List(ctx context.Context, callerID uuid.UUID) ([]Workspace, error) {
	return s.store.ListByOwner(ctx, callerID)
}

// Package workspace implements the per-tenant container workspace lifecycle
// (spec §4.1/§4.5): creation, start, stop, deletion, and the state machine
// that keeps a workspace row and its backing container in sync. The state
// machine tracks the workspace record, independent of whether the backing
// container currently exists — a workspace can sit in stopped with no
// container at all until its first start.
package workspace

import (
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
)

// State is the lifecycle state of a workspace, persisted on its row.
type State string

const (
	StateStopped  State = "stopped"
	StateCreating State = "creating"
	StateRunning  State = "running"
	StateError    State = "error"
)

// Workspace is a tenant's container workspace.
type Workspace struct {
	ID                  uuid.UUID
	OwnerID             uuid.UUID
	Name                string
	State               State
	ContainerID         string
	ProxyCredentialHash string
	CPUQuota            float64
	MemoryBytes         int64
	LastStartedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// validTransitions enumerates the lifecycle edges the state machine
// allows. Any pair not listed here is rejected with a Conflict error.
// Deletion is not a state transition — delete removes the row entirely
// once the backing container (if any) has been force-removed.
var validTransitions = map[State][]State{
	StateStopped:  {StateCreating, StateRunning, StateError},
	StateCreating: {StateStopped, StateRunning, StateError},
	StateRunning:  {StateStopped, StateError},
	StateError:    {StateStopped, StateCreating, StateRunning},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// in the lifecycle state machine.
func CanTransition(from, to State) bool {
	for _, candidate := range validTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// namePattern enforces spec §3's workspace name charset: letters, digits,
// spaces, dashes, and underscores, 1-100 characters.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,100}$`)

// ValidateName checks a requested workspace name against spec §3.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return apperr.New(apperr.KindValidation,
			"name must be 1-100 characters of letters, digits, spaces, dashes, or underscores")
	}
	return nil
}

// memoryLimitPattern matches the mebibyte-suffixed memory request shape
// the workspaces API accepts, e.g. "512m".
var memoryLimitPattern = regexp.MustCompile(`^([0-9]+)m$`)

// ParseMemoryLimit parses a memory request like "512m" (mebibytes) into a
// byte count. It does not itself enforce the min/max bounds from spec
// §3 — callers check the parsed value against Limits.
func ParseMemoryLimit(raw string) (int64, error) {
	m := memoryLimitPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, apperr.New(apperr.KindValidation, `memoryLimit must look like "512m" (mebibytes)`)
	}
	mib, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, apperr.New(apperr.KindValidation, "memoryLimit is not a valid number")
	}
	return mib * (1 << 20), nil
}

// Package containerengine wraps the container runtime that backs each
// tenant workspace. It is the only component that talks to Docker; every
// other package works in terms of workspace IDs and the Spec/Status types
// defined here.
package containerengine

import (
	"context"
	"time"
)

// Spec describes the resources a workspace container should be created
// with. CPUQuota is fractional CPU cores (e.g. 0.5 = half a core);
// MemoryBytes is a hard cap enforced by the cgroup.
type Spec struct {
	WorkspaceID string
	Image       string
	CPUQuota    float64
	MemoryBytes int64
}

// Status reports what the engine currently observes about a workspace's
// container. InternalIP is only meaningful when Running is true.
type Status struct {
	Exists     bool
	Running    bool
	InternalIP string
}

// Engine is the seam between the workspace lifecycle state machine and the
// underlying container runtime. Every method must be safe to retry: the
// workspace package records a failed call by moving the workspace to
// error, and a later Start retries from there.
type Engine interface {
	// EnsureNetwork creates the shared internal network if it does not
	// already exist. Workspace containers never publish ports to the
	// host; they are only reachable over this network, and only from the
	// reverse proxy.
	EnsureNetwork(ctx context.Context) error

	// CreateContainer provisions (but does not start) a container for the
	// given spec, attached to the internal network only.
	CreateContainer(ctx context.Context, spec Spec) (containerID string, err error)

	// Start starts a previously created container.
	Start(ctx context.Context, containerID string) error

	// Stop stops a running container, giving it grace to exit cleanly
	// before the runtime kills it.
	Stop(ctx context.Context, containerID string, grace time.Duration) error

	// Remove deletes a container and its resources. It must succeed even
	// if the container is already stopped or missing.
	Remove(ctx context.Context, containerID string) error

	// Inspect reports the current state of a container.
	Inspect(ctx context.Context, containerID string) (Status, error)
}

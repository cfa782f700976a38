package containerengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgehost/controlplane/internal/apperr"
)

// Fake is an in-memory Engine for tests that exercise workspace lifecycle
// logic without a real Docker daemon. It assigns a deterministic internal
// IP per container so proxy tests can assert on it.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	nextIP     int
	networkOK  bool

	// FailNextCreate, when set, makes the next CreateContainer call return
	// an EngineError, simulating a transient Docker failure.
	FailNextCreate bool
}

type fakeContainer struct {
	spec    Spec
	running bool
	ip      string
}

// NewFake builds an empty Fake engine.
func NewFake() *Fake {
	return &Fake{containers: make(map[string]*fakeContainer)}
}

func (f *Fake) EnsureNetwork(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networkOK = true
	return nil
}

func (f *Fake) CreateContainer(ctx context.Context, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNextCreate {
		f.FailNextCreate = false
		return "", apperr.New(apperr.KindEngineError, "simulated engine failure")
	}
	if spec.CPUQuota <= 0 || spec.MemoryBytes <= 0 {
		return "", apperr.New(apperr.KindValidation, "container resource limits must be positive")
	}

	f.nextIP++
	id := fmt.Sprintf("fake-%s", spec.WorkspaceID)
	f.containers[id] = &fakeContainer{
		spec: spec,
		ip:   fmt.Sprintf("10.88.0.%d", f.nextIP),
	}
	return id, nil
}

func (f *Fake) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return apperr.New(apperr.KindEngineError, "container does not exist")
	}
	c.running = true
	return nil
}

func (f *Fake) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.running = false
	}
	return nil
}

func (f *Fake) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func (f *Fake) Inspect(ctx context.Context, containerID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return Status{Exists: false}, nil
	}
	status := Status{Exists: true, Running: c.running}
	if c.running {
		status.InternalIP = c.ip
	}
	return status, nil
}

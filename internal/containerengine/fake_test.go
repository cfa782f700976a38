package containerengine

import (
	"context"
	"testing"
	"time"
)

func TestFake_FullLifecycle(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	if err := f.EnsureNetwork(ctx); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}

	spec := Spec{WorkspaceID: "ws-1", Image: "forgehost/workspace:latest", CPUQuota: 1, MemoryBytes: 512 << 20}
	id, err := f.CreateContainer(ctx, spec)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}

	status, err := f.Inspect(ctx, id)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.Exists || status.Running {
		t.Errorf("Inspect after create = %+v, want exists=true running=false", status)
	}

	if err := f.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err = f.Inspect(ctx, id)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !status.Running || status.InternalIP == "" {
		t.Errorf("Inspect after start = %+v, want running=true with an IP", status)
	}

	if err := f.Stop(ctx, id, time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	status, _ = f.Inspect(ctx, id)
	if status.Running {
		t.Error("Inspect after stop should report not running")
	}

	if err := f.Remove(ctx, id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	status, _ = f.Inspect(ctx, id)
	if status.Exists {
		t.Error("Inspect after remove should report not exists")
	}
}

func TestFake_RejectsInvalidLimits(t *testing.T) {
	f := NewFake()
	_, err := f.CreateContainer(context.Background(), Spec{WorkspaceID: "ws-1", CPUQuota: 0, MemoryBytes: 0})
	if err == nil {
		t.Error("CreateContainer should reject non-positive resource limits")
	}
}

func TestFake_SimulatedFailure(t *testing.T) {
	f := NewFake()
	f.FailNextCreate = true
	_, err := f.CreateContainer(context.Background(), Spec{WorkspaceID: "ws-1", CPUQuota: 1, MemoryBytes: 1 << 20})
	if err == nil {
		t.Error("CreateContainer should return the simulated failure")
	}

	// The flag resets after one failure.
	_, err = f.CreateContainer(context.Background(), Spec{WorkspaceID: "ws-1", CPUQuota: 1, MemoryBytes: 1 << 20})
	if err != nil {
		t.Errorf("second CreateContainer should succeed, got %v", err)
	}
}

package containerengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/forgehost/controlplane/internal/apperr"
)

// cpuPeriodMicros is the cgroup CPU accounting period Docker applies to a
// NanoCPUs limit. Spec.CPUQuota is passed only as NanoCPUs (cores × 1e9);
// the container's CPUPeriod and CPUQuota fields are left unset.
const cpuPeriodMicros = 100000

// DockerEngine implements Engine against a real Docker daemon. Workspace
// containers never get published ports, run with every capability dropped
// except NET_BIND_SERVICE, and have their swap disabled so the memory cap
// is a hard ceiling.
type DockerEngine struct {
	cli             *client.Client
	networkName     string
	networkID       string
	containerEngine bool
}

// NewDockerEngine builds a Docker-backed engine using the ambient
// DOCKER_HOST / TLS environment, matching how the engine is configured in
// every deployment environment (dev socket, remote daemon in CI, etc).
func NewDockerEngine(networkName string) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindEngineError, "creating docker client", err)
	}
	return &DockerEngine{cli: cli, networkName: networkName}, nil
}

func (d *DockerEngine) EnsureNetwork(ctx context.Context) error {
	nets, err := d.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return apperr.Wrap(apperr.KindEngineError, "listing networks", err)
	}
	for _, n := range nets {
		if n.Name == d.networkName {
			d.networkID = n.ID
			return nil
		}
	}

	resp, err := d.cli.NetworkCreate(ctx, d.networkName, types.NetworkCreate{
		Driver:     "bridge",
		Internal:   true,
		Attachable: true,
	})
	if err != nil {
		return apperr.Wrap(apperr.KindEngineError, "creating internal network", err)
	}
	d.networkID = resp.ID
	return nil
}

func (d *DockerEngine) CreateContainer(ctx context.Context, spec Spec) (string, error) {
	if spec.CPUQuota <= 0 || spec.MemoryBytes <= 0 {
		return "", apperr.New(apperr.KindValidation, "container resource limits must be positive")
	}

	hostConfig := &container.HostConfig{
		NetworkMode:    container.NetworkMode(d.networkName),
		ReadonlyRootfs: false,
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		CapAdd: []string{"NET_BIND_SERVICE"},
		Resources: container.Resources{
			NanoCPUs:   int64(spec.CPUQuota * 1e9),
			Memory:     spec.MemoryBytes,
			MemorySwap: spec.MemoryBytes, // disables swap: swap cap == memory cap
			PidsLimit:  int64Ptr(512),
		},
		RestartPolicy: container.RestartPolicy{Name: "no"},
	}

	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			d.networkName: {},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Hostname:     containerName(spec.WorkspaceID),
		Env:          []string{"WORKSPACE_ID=" + spec.WorkspaceID},
		Labels:       map[string]string{"forgehost.workspace_id": spec.WorkspaceID},
		ExposedPorts: nil,
	}, hostConfig, netConfig, nil, containerName(spec.WorkspaceID))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", apperr.Wrap(apperr.KindEngineError, "workspace image not found", err)
		}
		return "", apperr.Wrap(apperr.KindEngineError, "creating workspace container", err)
	}
	return resp.ID, nil
}

func (d *DockerEngine) Start(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, types.ContainerStartOptions{}); err != nil {
		return apperr.Wrap(apperr.KindEngineError, "starting workspace container", err)
	}
	return nil
}

func (d *DockerEngine) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	if err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return apperr.Wrap(apperr.KindEngineError, "stopping workspace container", err)
	}
	return nil
}

func (d *DockerEngine) Remove(ctx context.Context, containerID string) error {
	err := d.cli.ContainerRemove(ctx, containerID, types.ContainerRemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return apperr.Wrap(apperr.KindEngineError, "removing workspace container", err)
	}
	return nil
}

func (d *DockerEngine) Inspect(ctx context.Context, containerID string) (Status, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) || errors.Is(err, client.ErrConnectionFailed) {
			return Status{Exists: false}, nil
		}
		return Status{}, apperr.Wrap(apperr.KindEngineError, "inspecting workspace container", err)
	}

	status := Status{
		Exists:  true,
		Running: info.State != nil && info.State.Running,
	}
	if info.NetworkSettings != nil {
		if ep, ok := info.NetworkSettings.Networks[d.networkName]; ok && ep != nil {
			status.InternalIP = ep.IPAddress
		}
	}
	return status, nil
}

func containerName(workspaceID string) string {
	return fmt.Sprintf("forgehost-workspace-%s", workspaceID)
}

func int64Ptr(v int64) *int64 { return &v }

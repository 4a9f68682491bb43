// Package containers implements ContainerDriver, a thin adapter over
// the Docker Engine API: images, containers, networks, volumes, exec,
// and logs. It is the only package in this core that talks to the
// container engine; every other component reaches the engine through
// the Driver interface below.
package containers

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/jordanhubbard/portway/internal/apierr"
)

// Driver is the interface the rest of this core programs against.
// Deployer and ExecBridge depend on Driver, not *Client, so tests can
// substitute the in-memory Fake (the "polymorphism" design note: one
// real implementation, one fake for tests).
type Driver interface {
	CreateContainer(ctx context.Context, name, image string, env map[string]string, networkName string, exposePort int) (string, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RemoveContainer(ctx context.Context, name string) error
	InspectContainer(ctx context.Context, name string) (*types.ContainerJSON, error)
	EnsureNetwork(ctx context.Context, name string) (string, error)
	RemoveNetwork(ctx context.Context, name string) error
	EnsureVolume(ctx context.Context, name string) (string, error)
	RemoveVolume(ctx context.Context, name string) error
	AttachNetwork(ctx context.Context, containerName, networkName string) (string, error)
	ExecTTY(ctx context.Context, containerName string, cmd []string, stdin io.Reader, stdout io.Writer) error
	StreamLogs(ctx context.Context, containerName string, tailN int, stdout, stderr io.Writer) error
	InspectImageLabel(ctx context.Context, imageRef, key string) (string, error)
}

// Client is the real Driver over the Docker Engine API Go SDK. It
// connects to the environment-configured host (client.FromEnv) only;
// if that host does not answer a ping, NewClient returns an error and
// no other socket is tried.
type Client struct {
	api *client.Client
}

// NewClient builds a Client, negotiating the API version against
// whichever Docker host it finds.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, apierr.Wrap(apierr.Dependency, "failed to construct docker client", err)
	}
	if pingErr := ping(cli); pingErr == nil {
		return &Client{api: cli}, nil
	} else if os.Getenv("DOCKER_HOST") != "" {
		_ = cli.Close()
		return nil, apierr.Wrap(apierr.Dependency, "docker daemon unreachable at DOCKER_HOST", pingErr)
	}
	_ = cli.Close()
	return nil, apierr.New(apierr.Dependency, "no reachable docker daemon")
}

func ping(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

// Close releases the underlying Docker API connection.
func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// CreateContainer creates (but does not start) a container, publishing
// exposePort on an ephemeral host port. It does not attach networkName
// itself: the caller attaches it afterward via AttachNetwork, which is
// the only path that both connects a network and returns the assigned
// IP. Wiring the network into the create call's NetworkingConfig as
// well would make the later AttachNetwork call race Docker's "already
// attached" rejection on every deploy.
func (c *Client) CreateContainer(ctx context.Context, name, image string, env map[string]string, networkName string, exposePort int) (string, error) {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	cfg := &container.Config{Image: image, Env: envList}
	hostCfg := &container.HostConfig{}

	if exposePort > 0 {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", exposePort))
		if err != nil {
			return "", apierr.Wrap(apierr.Validation, "invalid container port", err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{port: []nat.PortBinding{{HostIP: "127.0.0.1"}}}
	}

	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to create container", err)
	}
	return resp.ID, nil
}

// StartContainer starts an existing container by name.
func (c *Client) StartContainer(ctx context.Context, name string) error {
	if err := c.api.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return apierr.Wrap(apierr.Internal, "failed to start container", err)
	}
	return nil
}

// StopContainer stops a container. Idempotent on an already-stopped
// container, but an absent one is reported as apierr.NotFound rather
// than swallowed, so callers that need to distinguish "already torn
// down" from "nothing to do" (the cascade-delete status map) can.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	timeout := 10
	err := c.api.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if client.IsErrNotFound(err) {
		return apierr.New(apierr.NotFound, "container not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to stop container", err)
	}
	return nil
}

// RemoveContainer force-removes a container. An absent container is
// reported as apierr.NotFound; see StopContainer.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	err := c.api.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return apierr.New(apierr.NotFound, "container not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to remove container", err)
	}
	return nil
}

// InspectContainer returns full container metadata, including its
// attached-network IPs.
func (c *Client) InspectContainer(ctx context.Context, name string) (*types.ContainerJSON, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		return nil, apierr.New(apierr.NotFound, "container not found")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "failed to inspect container", err)
	}
	return &info, nil
}

// EnsureNetwork creates a bridge network if one by this name doesn't
// already exist, and returns its ID either way.
func (c *Client) EnsureNetwork(ctx context.Context, name string) (string, error) {
	args := filters.NewArgs()
	args.Add("name", name)
	list, err := c.api.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to list networks", err)
	}
	for _, n := range list {
		if n.Name == name {
			return n.ID, nil
		}
	}
	resp, err := c.api.NetworkCreate(ctx, name, types.NetworkCreate{Driver: "bridge"})
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to create network", err)
	}
	return resp.ID, nil
}

// RemoveNetwork removes a network by name. An absent network is
// reported as apierr.NotFound; see StopContainer.
func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	err := c.api.NetworkRemove(ctx, name)
	if client.IsErrNotFound(err) {
		return apierr.New(apierr.NotFound, "network not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to remove network", err)
	}
	return nil
}

// EnsureVolume creates a named volume if absent, and returns its name
// either way (Docker volumes are keyed by name, not a separate ID).
func (c *Client) EnsureVolume(ctx context.Context, name string) (string, error) {
	if _, err := c.api.VolumeInspect(ctx, name); err == nil {
		return name, nil
	}
	if _, err := c.api.VolumeCreate(ctx, volume.CreateOptions{Name: name}); err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to create volume", err)
	}
	return name, nil
}

// RemoveVolume removes a volume by name. An absent volume is reported
// as apierr.NotFound; see StopContainer.
func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	err := c.api.VolumeRemove(ctx, name, true)
	if client.IsErrNotFound(err) {
		return apierr.New(apierr.NotFound, "volume not found")
	}
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to remove volume", err)
	}
	return nil
}

// AttachNetwork connects a running container to a network and returns
// the IP address it was assigned on that network. Idempotent: if the
// container is already attached (a redeploy reusing the same network,
// or a retry after a partial failure), Docker's conflict response is
// swallowed rather than surfaced, since the desired end state - the
// container is on the network - already holds.
func (c *Client) AttachNetwork(ctx context.Context, containerName, networkName string) (string, error) {
	if err := c.api.NetworkConnect(ctx, networkName, containerName, nil); err != nil && !errdefs.IsConflict(err) {
		return "", apierr.Wrap(apierr.Internal, "failed to attach network", err)
	}
	info, err := c.InspectContainer(ctx, containerName)
	if err != nil {
		return "", err
	}
	if ep, ok := info.NetworkSettings.Networks[networkName]; ok {
		return ep.IPAddress, nil
	}
	return "", apierr.New(apierr.Internal, "container has no address on the attached network")
}

// ExecTTY spawns an interactive exec session with a pseudo-TTY and
// wires stdin/stdout bidirectionally until the command exits or ctx is
// canceled.
func (c *Client) ExecTTY(ctx context.Context, containerName string, cmd []string, stdin io.Reader, stdout io.Writer) error {
	created, err := c.api.ContainerExecCreate(ctx, containerName, container.ExecOptions{
		Cmd: cmd, Tty: true, AttachStdin: true, AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to create exec session", err)
	}

	attached, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to attach exec session", err)
	}
	defer attached.Close()

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(attached.Conn, stdin)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(stdout, attached.Reader)
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// StreamLogs copies a container's stdout/stderr streams, demultiplexed
// via stdcopy, into the given writers. It returns when the stream ends
// (container exited, tail_n exhausted) or ctx is canceled.
func (c *Client) StreamLogs(ctx context.Context, containerName string, tailN int, stdout, stderr io.Writer) error {
	tail := "all"
	if tailN > 0 {
		tail = fmt.Sprintf("%d", tailN)
	}
	rc, err := c.api.ContainerLogs(ctx, containerName, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail, Follow: tailN <= 0})
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to stream logs", err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && err != io.EOF {
		return apierr.Wrap(apierr.Internal, "failed to demultiplex log stream", err)
	}
	return nil
}

// InspectImageLabel reads a single OCI label off a built image. Used to
// resolve the buildpack-reported "requires a database" signal
// (`io.portway.requires-db`); the Deployer is its only caller.
func (c *Client) InspectImageLabel(ctx context.Context, imageRef, key string) (string, error) {
	info, _, err := c.api.ImageInspectWithRaw(ctx, imageRef)
	if err != nil {
		return "", apierr.Wrap(apierr.Internal, "failed to inspect image", err)
	}
	if info.Config == nil {
		return "", nil
	}
	return info.Config.Labels[key], nil
}

package containers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/jordanhubbard/portway/internal/apierr"
)

// Fake is an in-memory Driver for tests: it captures every call,
// assigns deterministic IPs, and never touches a real container
// engine. Grounded on spec's polymorphism design note (one real
// implementation, one in-memory fake).
type Fake struct {
	mu sync.Mutex

	Containers map[string]*fakeContainer
	Networks   map[string]string
	Volumes    map[string]string
	Labels     map[string]map[string]string // imageRef -> labels

	nextIP int
}

type fakeContainer struct {
	Image   string
	Env     map[string]string
	Network string
	IP      string
	Running bool
}

// NewFake creates an empty Fake driver.
func NewFake() *Fake {
	return &Fake{
		Containers: make(map[string]*fakeContainer),
		Networks:   make(map[string]string),
		Volumes:    make(map[string]string),
		Labels:     make(map[string]map[string]string),
		nextIP:     2,
	}
}

func (f *Fake) CreateContainer(ctx context.Context, name, image string, env map[string]string, networkName string, exposePort int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Containers[name] = &fakeContainer{Image: image, Env: env, Network: networkName}
	return name, nil
}

func (f *Fake) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[name]
	if !ok {
		return apierr.New(apierr.NotFound, "container not found")
	}
	c.Running = true
	return nil
}

// StopContainer mirrors the real driver: an absent container is
// reported as apierr.NotFound rather than silently accepted.
func (f *Fake) StopContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[name]
	if !ok {
		return apierr.New(apierr.NotFound, "container not found")
	}
	c.Running = false
	return nil
}

// RemoveContainer mirrors the real driver: an absent container is
// reported as apierr.NotFound rather than silently accepted.
func (f *Fake) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Containers[name]; !ok {
		return apierr.New(apierr.NotFound, "container not found")
	}
	delete(f.Containers, name)
	return nil
}

func (f *Fake) InspectContainer(ctx context.Context, name string) (*types.ContainerJSON, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[name]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "container not found")
	}
	info := &types.ContainerJSON{}
	info.Image = c.Image
	info.State = &types.ContainerState{Running: c.Running}
	return info, nil
}

func (f *Fake) EnsureNetwork(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.Networks[name]; ok {
		return id, nil
	}
	id := "net-" + name
	f.Networks[name] = id
	return id, nil
}

// RemoveNetwork mirrors the real driver: an absent network is reported
// as apierr.NotFound rather than silently accepted.
func (f *Fake) RemoveNetwork(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Networks[name]; !ok {
		return apierr.New(apierr.NotFound, "network not found")
	}
	delete(f.Networks, name)
	return nil
}

func (f *Fake) EnsureVolume(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Volumes[name] = name
	return name, nil
}

// RemoveVolume mirrors the real driver: an absent volume is reported as
// apierr.NotFound rather than silently accepted.
func (f *Fake) RemoveVolume(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Volumes[name]; !ok {
		return apierr.New(apierr.NotFound, "volume not found")
	}
	delete(f.Volumes, name)
	return nil
}

// AttachNetwork mirrors the real driver's idempotency contract: a
// container already attached to networkName gets its existing IP back
// rather than a fresh one or an error, matching how Client.AttachNetwork
// swallows Docker's "already attached" conflict.
func (f *Fake) AttachNetwork(ctx context.Context, containerName, networkName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.Containers[containerName]
	if !ok {
		return "", apierr.New(apierr.NotFound, "container not found")
	}
	if c.Network == networkName && c.IP != "" {
		return c.IP, nil
	}
	ip := fmt.Sprintf("10.42.0.%d", f.nextIP)
	f.nextIP++
	c.Network = networkName
	c.IP = ip
	return ip, nil
}

// ExecTTY simulates an interactive shell by echoing every line it
// reads from stdin back to stdout, prefixed with "$ ", until stdin is
// closed or ctx is canceled. This is enough for ExecBridge tests to
// exercise both directions without a real container.
func (f *Fake) ExecTTY(ctx context.Context, containerName string, cmd []string, stdin io.Reader, stdout io.Writer) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := stdin.Read(buf)
		if n > 0 {
			fmt.Fprintf(stdout, "$ %s", buf[:n])
		}
		if err != nil {
			return nil
		}
	}
}

func (f *Fake) StreamLogs(ctx context.Context, containerName string, tailN int, stdout, stderr io.Writer) error {
	fmt.Fprintf(stdout, "fake logs for %s\n", containerName)
	return nil
}

func (f *Fake) InspectImageLabel(ctx context.Context, imageRef, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Labels[imageRef][key], nil
}

// SetLabel lets tests pre-seed an image's labels, e.g. to simulate a
// buildpack that reports a database requirement.
func (f *Fake) SetLabel(imageRef, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Labels[imageRef] == nil {
		f.Labels[imageRef] = map[string]string{}
	}
	f.Labels[imageRef][key] = value
}

package defra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage         = "sourcenetwork/defradb:latest"
	DefaultContainerName = "stacks-defra"
	DefaultPort          = "9181"

	containerPort = "9181/tcp"
	dataDir       = "/data"

	// LabelKey marks containers created by stacks so tests can sweep them.
	LabelKey = "io.stacks.defra"
)

// ContainerStatus is the lifecycle state of the DefraDB container.
type ContainerStatus string

const (
	StatusRunning  ContainerStatus = "running"
	StatusStopped  ContainerStatus = "stopped"
	StatusStarting ContainerStatus = "starting"
	StatusNotFound ContainerStatus = "not_found"
)

// DockerConfig configures the DefraDB container.
type DockerConfig struct {
	ContainerName string
	Image         string
	// DataPath is the host directory bound to the node's root dir.
	DataPath string
	HostPort string
	Labels   map[string]string
	Logger   *slog.Logger
}

// DockerManager runs DefraDB as a local Docker container.
type DockerManager struct {
	cli    *client.Client
	cfg    DockerConfig
	labels map[string]string
	logger *slog.Logger
}

// NewDockerManager connects to the Docker daemon described by the
// environment (DOCKER_HOST and friends).
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if cfg.ContainerName == "" {
		cfg.ContainerName = DefaultContainerName
	}
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.HostPort == "" {
		cfg.HostPort = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	labels := map[string]string{LabelKey: "true"}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	return &DockerManager{
		cli:    cli,
		cfg:    cfg,
		labels: labels,
		logger: cfg.Logger.With("container", cfg.ContainerName),
	}, nil
}

func (m *DockerManager) Close() error {
	return m.cli.Close()
}

// URL is the host-side address of the node.
func (m *DockerManager) URL() string {
	return "http://localhost:" + m.cfg.HostPort
}

// Start creates or restarts the container and waits until the node is
// healthy. A running container is left alone.
func (m *DockerManager) Start(ctx context.Context) error {
	if _, err := m.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker is not running: %w", err)
	}

	status, id, err := m.inspect(ctx)
	if err != nil {
		return err
	}
	switch status {
	case StatusRunning:
		m.logger.Debug("container already running")
		return nil
	case StatusNotFound:
		if id, err = m.create(ctx); err != nil {
			return err
		}
	case StatusStopped, StatusStarting:
	default:
		return fmt.Errorf("container in unexpected state: %s", status)
	}

	m.logger.Info("starting container", "id", shortID(id))
	if err := m.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if status == StatusNotFound {
			_ = m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		}
		return fmt.Errorf("failed to start container: %w", err)
	}
	return m.WaitReady(ctx, 30*time.Second)
}

// Stop stops the container, keeping its data.
func (m *DockerManager) Stop(ctx context.Context) error {
	status, id, err := m.inspect(ctx)
	if err != nil || status == StatusNotFound {
		return err
	}
	timeout := 10
	if err := m.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	m.logger.Info("container stopped")
	return nil
}

// Remove deletes the container. The bound data directory is untouched.
func (m *DockerManager) Remove(ctx context.Context) error {
	status, id, err := m.inspect(ctx)
	if err != nil || status == StatusNotFound {
		return err
	}
	if err := m.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (m *DockerManager) Status(ctx context.Context) (ContainerStatus, error) {
	status, _, err := m.inspect(ctx)
	return status, err
}

// Logs returns the last tail lines of container output.
func (m *DockerManager) Logs(ctx context.Context, tail string) (string, error) {
	status, id, err := m.inspect(ctx)
	if err != nil {
		return "", err
	}
	if status == StatusNotFound {
		return "", fmt.Errorf("container %s not found", m.cfg.ContainerName)
	}

	rc, err := m.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		return "", fmt.Errorf("failed to get logs: %w", err)
	}
	defer rc.Close()

	out, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(out), nil
}

// ValidateExisting checks that an existing container uses the configured
// port and data directory.
func (m *DockerManager) ValidateExisting(ctx context.Context) error {
	status, id, err := m.inspect(ctx)
	if err != nil || status == StatusNotFound {
		return err
	}
	info, err := m.cli.ContainerInspect(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}

	bindings := info.HostConfig.PortBindings[containerPort]
	if len(bindings) == 0 {
		return fmt.Errorf("existing container has no port binding for %s", containerPort)
	}
	if got := bindings[0].HostPort; got != m.cfg.HostPort {
		return fmt.Errorf("existing container bound to port %s, expected %s", got, m.cfg.HostPort)
	}

	if m.cfg.DataPath == "" {
		return nil
	}
	for _, mnt := range info.Mounts {
		if mnt.Destination != dataDir {
			continue
		}
		if mnt.Source != m.cfg.DataPath {
			return fmt.Errorf("existing container mounts %s, expected %s", mnt.Source, m.cfg.DataPath)
		}
		return nil
	}
	return fmt.Errorf("existing container has no mount for %s", dataDir)
}

// WaitReady polls the health endpoint once a second until it answers or
// timeout elapses.
func (m *DockerManager) WaitReady(ctx context.Context, timeout time.Duration) error {
	probe := NewClientWithConfig(ClientConfig{URL: m.URL(), Timeout: 2 * time.Second})
	attempts := uint(timeout / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error { return probe.HealthCheck(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (m *DockerManager) create(ctx context.Context) (string, error) {
	if err := m.pullIfMissing(ctx); err != nil {
		return "", err
	}

	cfg := &container.Config{
		Image: m.cfg.Image,
		Cmd: []string{
			"start",
			"--no-keyring",
			"--url", "0.0.0.0:9181",
			"--store", "badger",
			"--rootdir", dataDir,
		},
		Labels:       m.labels,
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
		Healthcheck: &container.HealthConfig{
			Test:        []string{"CMD", "curl", "-sf", "http://localhost:9181/health-check"},
			Interval:    2 * time.Second,
			Timeout:     5 * time.Second,
			Retries:     10,
			StartPeriod: 5 * time.Second,
		},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: m.cfg.HostPort}},
		},
	}
	if m.cfg.DataPath != "" {
		host.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: m.cfg.DataPath, Target: dataDir}}
	}

	resp, err := m.cli.ContainerCreate(ctx, cfg, host, nil, nil, m.cfg.ContainerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	m.logger.Info("container created", "id", shortID(resp.ID), "image", m.cfg.Image)
	return resp.ID, nil
}

func (m *DockerManager) inspect(ctx context.Context) (ContainerStatus, string, error) {
	args := filters.NewArgs()
	args.Add("name", "^/"+m.cfg.ContainerName+"$")

	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	if len(list) == 0 {
		return StatusNotFound, "", nil
	}

	c := list[0]
	switch c.State {
	case "running":
		return StatusRunning, c.ID, nil
	case "exited", "dead":
		return StatusStopped, c.ID, nil
	case "created", "restarting":
		return StatusStarting, c.ID, nil
	default:
		return ContainerStatus(c.State), c.ID, nil
	}
}

func (m *DockerManager) pullIfMissing(ctx context.Context) error {
	if _, err := m.cli.ImageInspect(ctx, m.cfg.Image); err == nil {
		return nil
	}
	m.logger.Info("pulling image", "image", m.cfg.Image)
	rc, err := m.cli.ImagePull(ctx, m.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

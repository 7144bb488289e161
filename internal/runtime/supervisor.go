package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fleetprobe/config"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"fmt"
	"strconv"
	"time"

	. "fleetprobe/internal/models"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Supervisor is the lifecycle boundary to the sandboxed runtime backing each
// test client. Every state-changing call also updates the client's stored
// status; on a runtime failure the client keeps its prior state.
type Supervisor interface {
	Create(ctx context.Context, client *TestClient) error
	Start(ctx context.Context, client *TestClient) error
	Stop(ctx context.Context, client *TestClient) error
	Restart(ctx context.Context, client *TestClient) error
	Destroy(ctx context.Context, client *TestClient) error
	HealthCheck(ctx context.Context, client *TestClient) (Health, error)
	Logs(ctx context.Context, client *TestClient, tail int) ([]string, error)
}

type dockerSupervisor struct {
	docker     client.APIClient
	clientRepo repositories.TestClientRepository
	config     config.Config
	log        logger.Logger
}

func NewDocker(clientRepo repositories.TestClientRepository, cfg config.Config) (Supervisor, error) {
	log := logger.New("runtime")

	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, log.Function("NewDocker").Err("failed to create docker client", err)
	}

	return &dockerSupervisor{
		docker:     docker,
		clientRepo: clientRepo,
		config:     cfg,
		log:        log,
	}, nil
}

// NewDockerWithClient exists for tests that inject a fake API client.
func NewDockerWithClient(docker client.APIClient, clientRepo repositories.TestClientRepository, cfg config.Config) Supervisor {
	return &dockerSupervisor{
		docker:     docker,
		clientRepo: clientRepo,
		config:     cfg,
		log:        logger.New("runtime"),
	}
}

func (s *dockerSupervisor) containerName(client *TestClient) string {
	return "fleetprobe-" + client.Slug
}

func (s *dockerSupervisor) volumeName(client *TestClient) string {
	return "fleetprobe-" + client.Slug + "-data"
}

func (s *dockerSupervisor) Create(ctx context.Context, testClient *TestClient) error {
	log := s.log.Function("Create")

	if _, err := s.docker.VolumeCreate(ctx, volume.VolumeCreateBody{Name: s.volumeName(testClient)}); err != nil {
		return log.Err("failed to create data volume", err, "slug", testClient.Slug)
	}

	commandPort := nat.Port(fmt.Sprintf("%d/tcp", s.config.ClientCommandPort))

	containerConfig := &container.Config{
		Image: s.config.ClientImage,
		Env: []string{
			"CLIENT_SLUG=" + testClient.Slug,
			"CLIENT_DISPLAY_NAME=" + testClient.DisplayName,
			"CLIENT_USE_PROXY=" + strconv.FormatBool(testClient.UseProxy),
			fmt.Sprintf("CLIENT_COMMAND_PORT=%d", s.config.ClientCommandPort),
		},
		ExposedPorts: nat.PortSet{commandPort: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			commandPort: []nat.PortBinding{{
				HostIP:   "127.0.0.1",
				HostPort: strconv.Itoa(testClient.Port),
			}},
		},
		Binds: []string{s.volumeName(testClient) + ":" + s.config.ClientDataDir},
		RestartPolicy: container.RestartPolicy{
			Name: "unless-stopped",
		},
	}

	created, err := s.docker.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, s.containerName(testClient))
	if err != nil {
		return log.Err("failed to create container", err, "slug", testClient.Slug)
	}

	testClient.ContainerID = &created.ID
	testClient.Status = ClientStatusCreated
	if err := s.clientRepo.Update(ctx, testClient); err != nil {
		return log.Err("failed to record container handle", err, "slug", testClient.Slug)
	}

	log.Info("created test client container", "slug", testClient.Slug, "containerID", created.ID, "port", testClient.Port)
	return nil
}

// Start is idempotent: the runtime treats starting a running container as a
// no-op and so do we.
func (s *dockerSupervisor) Start(ctx context.Context, testClient *TestClient) error {
	log := s.log.Function("Start")

	handle, err := s.handle(testClient)
	if err != nil {
		return err
	}

	if err := s.docker.ContainerStart(ctx, handle, types.ContainerStartOptions{}); err != nil {
		return log.Err("failed to start container", err, "slug", testClient.Slug)
	}

	now := time.Now()
	testClient.Status = ClientStatusRunning
	testClient.StartedAt = &now
	if err := s.clientRepo.UpdateStatus(ctx, testClient.ID, ClientStatusRunning, &now); err != nil {
		return err
	}

	log.Info("started test client", "slug", testClient.Slug)
	return nil
}

func (s *dockerSupervisor) Stop(ctx context.Context, testClient *TestClient) error {
	log := s.log.Function("Stop")

	handle, err := s.handle(testClient)
	if err != nil {
		return err
	}

	stopTimeout := 10 * time.Second
	if err := s.docker.ContainerStop(ctx, handle, &stopTimeout); err != nil && !errdefs.IsNotFound(err) {
		return log.Err("failed to stop container", err, "slug", testClient.Slug)
	}

	testClient.Status = ClientStatusStopped
	if err := s.clientRepo.UpdateStatus(ctx, testClient.ID, ClientStatusStopped, nil); err != nil {
		return err
	}

	log.Info("stopped test client", "slug", testClient.Slug)
	return nil
}

func (s *dockerSupervisor) Restart(ctx context.Context, testClient *TestClient) error {
	log := s.log.Function("Restart")

	handle, err := s.handle(testClient)
	if err != nil {
		return err
	}

	restartTimeout := 10 * time.Second
	if err := s.docker.ContainerRestart(ctx, handle, &restartTimeout); err != nil {
		return log.Err("failed to restart container", err, "slug", testClient.Slug)
	}

	now := time.Now()
	testClient.Status = ClientStatusRunning
	testClient.StartedAt = &now
	if err := s.clientRepo.UpdateStatus(ctx, testClient.ID, ClientStatusRunning, &now); err != nil {
		return err
	}

	log.Info("restarted test client", "slug", testClient.Slug)
	return nil
}

// Destroy removes the container and its data volume. A runtime instance
// already removed out-of-band counts as success.
func (s *dockerSupervisor) Destroy(ctx context.Context, testClient *TestClient) error {
	log := s.log.Function("Destroy")

	if testClient.ContainerID != nil {
		err := s.docker.ContainerRemove(ctx, *testClient.ContainerID, types.ContainerRemoveOptions{Force: true})
		if err != nil && !errdefs.IsNotFound(err) {
			return log.Err("failed to remove container", err, "slug", testClient.Slug)
		}
	}

	if err := s.docker.VolumeRemove(ctx, s.volumeName(testClient), true); err != nil && !errdefs.IsNotFound(err) {
		return log.Err("failed to remove data volume", err, "slug", testClient.Slug)
	}

	log.Info("destroyed test client runtime", "slug", testClient.Slug)
	return nil
}

func (s *dockerSupervisor) HealthCheck(ctx context.Context, testClient *TestClient) (Health, error) {
	log := s.log.Function("HealthCheck")

	handle, err := s.handle(testClient)
	if err != nil {
		return HealthUnknown, err
	}

	inspected, err := s.docker.ContainerInspect(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return HealthUnknown, nil
		}
		return HealthUnknown, log.Err("failed to inspect container", err, "slug", testClient.Slug)
	}

	if inspected.State == nil {
		return HealthUnknown, nil
	}

	if !inspected.State.Running {
		return HealthUnhealthy, nil
	}

	if inspected.State.Health != nil && inspected.State.Health.Status == types.Unhealthy {
		return HealthUnhealthy, nil
	}

	return HealthHealthy, nil
}

func (s *dockerSupervisor) Logs(ctx context.Context, testClient *TestClient, tail int) ([]string, error) {
	log := s.log.Function("Logs")

	handle, err := s.handle(testClient)
	if err != nil {
		return nil, err
	}

	if tail <= 0 {
		tail = 100
	}

	reader, err := s.docker.ContainerLogs(ctx, handle, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, log.Err("failed to read container logs", err, "slug", testClient.Slug)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return nil, log.Err("failed to demux container logs", err, "slug", testClient.Slug)
	}

	var lines []string
	for _, buffer := range []*bytes.Buffer{&stdout, &stderr} {
		scanner := bufio.NewScanner(buffer)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
	}

	return lines, nil
}

func (s *dockerSupervisor) handle(testClient *TestClient) (string, error) {
	if testClient.ContainerID == nil || *testClient.ContainerID == "" {
		return "", s.log.Error("test client has no runtime handle", "slug", testClient.Slug)
	}
	return *testClient.ContainerID, nil
}

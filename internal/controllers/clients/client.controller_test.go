package clientController

import (
	"context"
	"errors"
	"fleetprobe/config"
	"fleetprobe/internal/database"
	"fleetprobe/internal/events"
	"fleetprobe/internal/repositories"
	"fleetprobe/internal/runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	. "fleetprobe/internal/models"
)

// fakeSupervisor answers every runtime call without a container engine.
type fakeSupervisor struct {
	createErr error
	health    runtime.Health
	calls     []string
}

func (s *fakeSupervisor) record(call string) { s.calls = append(s.calls, call) }

func (s *fakeSupervisor) Create(ctx context.Context, client *TestClient) error {
	s.record("create")
	return s.createErr
}

func (s *fakeSupervisor) Start(ctx context.Context, client *TestClient) error {
	s.record("start")
	return nil
}

func (s *fakeSupervisor) Stop(ctx context.Context, client *TestClient) error {
	s.record("stop")
	return nil
}

func (s *fakeSupervisor) Restart(ctx context.Context, client *TestClient) error {
	s.record("restart")
	return nil
}

func (s *fakeSupervisor) Destroy(ctx context.Context, client *TestClient) error {
	s.record("destroy")
	return nil
}

func (s *fakeSupervisor) HealthCheck(ctx context.Context, client *TestClient) (runtime.Health, error) {
	s.record("health")
	if s.health == "" {
		return runtime.HealthHealthy, nil
	}
	return s.health, nil
}

func (s *fakeSupervisor) Logs(ctx context.Context, client *TestClient, tail int) ([]string, error) {
	s.record("logs")
	return []string{"line one", "line two"}, nil
}

type controllerFixture struct {
	controller *ClientController
	clientRepo repositories.TestClientRepository
	supervisor *fakeSupervisor
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, gormDB.AutoMigrate(&TestClient{}))

	db := database.DB{SQL: gormDB}
	clientRepo := repositories.NewTestClient(db)
	supervisor := &fakeSupervisor{}
	bus := events.New(nil, config.Config{})

	cfg := config.Config{
		PortRangeStart: 3031,
		PortRangeEnd:   3034,
	}

	return &controllerFixture{
		controller: New(clientRepo, supervisor, bus, cfg),
		clientRepo: clientRepo,
		supervisor: supervisor,
	}
}

func TestClientController_Create(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	client, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-alpha"})
	require.NoError(t, err)

	assert.Equal(t, "probe-alpha", client.Slug)
	assert.Equal(t, "probe-alpha", client.DisplayName) // defaults to slug
	assert.Equal(t, 3031, client.Port)
	assert.Equal(t, ClientStatusCreated, client.Status)
	assert.NotEmpty(t, client.PasswordHash)
	assert.Equal(t, []string{"create"}, f.supervisor.calls)

	// Next client takes the next port.
	second, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-bravo", DisplayName: "Bravo"})
	require.NoError(t, err)
	assert.Equal(t, 3032, second.Port)
	assert.Equal(t, "Bravo", second.DisplayName)
}

func TestClientController_Create_RejectsBadSlug(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	for _, slug := range []string{"", "A", "Probe-Alpha", "has space", "-leading", "x"} {
		_, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: slug})
		assert.Error(t, err, "slug %q should be rejected", slug)
	}
	assert.Empty(t, f.supervisor.calls)
}

func TestClientController_Create_RuntimeFailureMarksError(t *testing.T) {
	f := newControllerFixture(t)
	f.supervisor.createErr = errors.New("image not found")
	ctx := context.Background()

	_, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image not found")

	// The record survives in the error state for inspection.
	client, err := f.clientRepo.GetBySlug(ctx, "probe-alpha")
	require.NoError(t, err)
	assert.Equal(t, ClientStatusError, client.Status)
	require.NotNil(t, client.ErrorMessage)
	assert.Contains(t, *client.ErrorMessage, "image not found")
}

func TestClientController_Lifecycle(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	client, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-alpha"})
	require.NoError(t, err)

	_, err = f.controller.Start(ctx, client.ID)
	require.NoError(t, err)

	_, err = f.controller.Restart(ctx, client.ID)
	require.NoError(t, err)

	_, err = f.controller.Stop(ctx, client.ID)
	require.NoError(t, err)

	require.NoError(t, f.controller.Delete(ctx, client.ID))
	assert.Equal(t, []string{"create", "start", "restart", "stop", "destroy"}, f.supervisor.calls)

	_, err = f.controller.GetByID(ctx, client.ID)
	assert.Error(t, err)
}

func TestClientController_HealthFlipsRunningClientToError(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	client, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-alpha"})
	require.NoError(t, err)
	require.NoError(t, f.clientRepo.UpdateStatus(ctx, client.ID, ClientStatusRunning, nil))

	f.supervisor.health = runtime.HealthUnhealthy

	health, err := f.controller.Health(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, runtime.HealthUnhealthy, health)

	loaded, err := f.clientRepo.GetByID(ctx, client.ID)
	require.NoError(t, err)
	assert.Equal(t, ClientStatusError, loaded.Status)
}

func TestClientController_Logs(t *testing.T) {
	f := newControllerFixture(t)
	ctx := context.Background()

	client, err := f.controller.Create(ctx, &CreateTestClientRequest{Slug: "probe-alpha"})
	require.NoError(t, err)

	lines, err := f.controller.Logs(ctx, client.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"line one", "line two"}, lines)
}

package clientController

import (
	"context"
	"fleetprobe/config"
	"fleetprobe/internal/events"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"fleetprobe/internal/runtime"
	"fmt"
	"regexp"
	"time"

	. "fleetprobe/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}$`)

type ClientController struct {
	clientRepo repositories.TestClientRepository
	supervisor runtime.Supervisor
	eventBus   *events.EventBus
	config     config.Config
	log        logger.Logger
}

func New(
	clientRepo repositories.TestClientRepository,
	supervisor runtime.Supervisor,
	eventBus *events.EventBus,
	cfg config.Config,
) *ClientController {
	return &ClientController{
		clientRepo: clientRepo,
		supervisor: supervisor,
		eventBus:   eventBus,
		config:     cfg,
		log:        logger.New("ClientController"),
	}
}

// Create allocates a port from the pool, provisions the relay-account
// secret, persists the client and creates its runtime instance.
func (c *ClientController) Create(ctx context.Context, request *CreateTestClientRequest) (*TestClient, error) {
	log := c.log.Function("Create")

	if !slugPattern.MatchString(request.Slug) {
		return nil, log.Error("invalid client slug", "slug", request.Slug)
	}

	displayName := request.DisplayName
	if displayName == "" {
		displayName = request.Slug
	}

	port, err := c.clientRepo.AllocatePort(ctx, c.config.PortRangeStart, c.config.PortRangeEnd)
	if err != nil {
		return nil, err
	}

	secret := uuid.New().String()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, log.Err("failed to hash relay account secret", err)
	}

	client := &TestClient{
		Slug:         request.Slug,
		DisplayName:  displayName,
		Port:         port,
		UseProxy:     request.UseProxy,
		Status:       ClientStatusCreated,
		PasswordHash: string(hash),
	}

	if err := c.clientRepo.Create(ctx, client); err != nil {
		return nil, err
	}

	if err := c.supervisor.Create(ctx, client); err != nil {
		if repoErr := c.clientRepo.SetError(ctx, client.ID, err.Error()); repoErr != nil {
			log.Er("failed to record runtime create failure", repoErr, "slug", client.Slug)
		}
		return nil, fmt.Errorf("failed to create runtime instance: %w", err)
	}

	c.publishLifecycle(client, "client_created")
	log.Info("test client created", "slug", client.Slug, "port", port)
	return client, nil
}

func (c *ClientController) Start(ctx context.Context, id string) (*TestClient, error) {
	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.supervisor.Start(ctx, client); err != nil {
		return nil, err
	}

	c.publishLifecycle(client, "client_started")
	return client, nil
}

// Stop is idempotent: stopping a stopped client leaves it stopped without
// an error.
func (c *ClientController) Stop(ctx context.Context, id string) (*TestClient, error) {
	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.supervisor.Stop(ctx, client); err != nil {
		return nil, err
	}

	c.publishLifecycle(client, "client_stopped")
	return client, nil
}

func (c *ClientController) Restart(ctx context.Context, id string) (*TestClient, error) {
	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.supervisor.Restart(ctx, client); err != nil {
		return nil, err
	}

	c.publishLifecycle(client, "client_started")
	return client, nil
}

// Delete destroys the runtime instance (tolerating one already removed
// out-of-band) together with its data volume, then drops the record.
func (c *ClientController) Delete(ctx context.Context, id string) error {
	log := c.log.Function("Delete")

	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := c.supervisor.Destroy(ctx, client); err != nil {
		return err
	}

	if err := c.clientRepo.Delete(ctx, id); err != nil {
		return err
	}

	c.publishLifecycle(client, "client_deleted")
	log.Info("test client deleted", "slug", client.Slug)
	return nil
}

func (c *ClientController) GetByID(ctx context.Context, id string) (*TestClient, error) {
	return c.clientRepo.GetByID(ctx, id)
}

func (c *ClientController) GetAll(ctx context.Context) ([]*TestClient, error) {
	return c.clientRepo.GetAll(ctx)
}

// Health probes the runtime instance. An unhealthy probe on a client we
// believe is running flips it to error.
func (c *ClientController) Health(ctx context.Context, id string) (runtime.Health, error) {
	log := c.log.Function("Health")

	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return runtime.HealthUnknown, err
	}

	health, err := c.supervisor.HealthCheck(ctx, client)
	if err != nil {
		return runtime.HealthUnknown, err
	}

	if health == runtime.HealthUnhealthy && client.Status == ClientStatusRunning {
		if repoErr := c.clientRepo.SetError(ctx, client.ID, "health check failed"); repoErr != nil {
			log.Er("failed to record health failure", repoErr, "slug", client.Slug)
		}
	}

	return health, nil
}

func (c *ClientController) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	client, err := c.clientRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return c.supervisor.Logs(ctx, client, tail)
}

func (c *ClientController) publishLifecycle(client *TestClient, eventType string) {
	log := c.log.Function("publishLifecycle")

	event := events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data: map[string]any{
			"clientId": client.ID,
			"slug":     client.Slug,
			"status":   client.Status,
		},
		Timestamp: time.Now(),
	}

	for _, topic := range []string{events.TopicAllClients, events.ClientTopic(client.Slug)} {
		event.Channel = topic
		if err := c.eventBus.Publish(topic, event); err != nil {
			log.Er("failed to publish lifecycle event", err, "topic", topic)
		}
	}
}

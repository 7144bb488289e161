package repositories

import (
	"context"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/services"
	"time"

	. "fleetprobe/internal/models"

	"gorm.io/gorm"
)

const (
	TEST_CLIENT_CACHE_EXPIRY = 1 * time.Hour
)

type TestClientRepository interface {
	GetByID(ctx context.Context, id string) (*TestClient, error)
	GetBySlug(ctx context.Context, slug string) (*TestClient, error)
	GetAll(ctx context.Context) ([]*TestClient, error)
	GetByStatus(ctx context.Context, status ClientStatus) ([]*TestClient, error)
	Create(ctx context.Context, client *TestClient) error
	Update(ctx context.Context, client *TestClient) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status ClientStatus, startedAt *time.Time) error
	SetError(ctx context.Context, id string, message string) error
	IncrementReceived(ctx context.Context, id string) error
	AllocatePort(ctx context.Context, start, end int) (int, error)
}

type testClientRepository struct {
	db  database.DB
	log logger.Logger
}

func NewTestClient(db database.DB) TestClientRepository {
	return &testClientRepository{
		db:  db,
		log: logger.New("testClientRepository"),
	}
}

func (r *testClientRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := services.GetTransaction(ctx); ok {
		return tx
	}
	return r.db.SQLWithContext(ctx)
}

func (r *testClientRepository) GetByID(ctx context.Context, id string) (*TestClient, error) {
	log := r.log.Function("GetByID")

	var client TestClient
	if found, err := database.NewCacheBuilder(r.db.Cache.Client, id).WithContext(ctx).Get(&client); err == nil && found {
		return &client, nil
	}

	if err := r.getDB(ctx).First(&client, "id = ?", id).Error; err != nil {
		return nil, log.Err("failed to get test client by id", err, "id", id)
	}

	if err := r.addToCache(ctx, &client); err != nil {
		log.Warn("failed to add test client to cache", "clientID", id, "error", err)
	}

	return &client, nil
}

func (r *testClientRepository) GetBySlug(ctx context.Context, slug string) (*TestClient, error) {
	log := r.log.Function("GetBySlug")

	var client TestClient
	if err := r.getDB(ctx).First(&client, "slug = ?", slug).Error; err != nil {
		return nil, log.Err("failed to get test client by slug", err, "slug", slug)
	}

	return &client, nil
}

func (r *testClientRepository) GetAll(ctx context.Context) ([]*TestClient, error) {
	log := r.log.Function("GetAll")

	var clients []*TestClient
	if err := r.getDB(ctx).Order("created_at ASC").Find(&clients).Error; err != nil {
		return nil, log.Err("failed to get all test clients", err)
	}

	return clients, nil
}

func (r *testClientRepository) GetByStatus(ctx context.Context, status ClientStatus) ([]*TestClient, error) {
	log := r.log.Function("GetByStatus")

	var clients []*TestClient
	if err := r.getDB(ctx).Where("status = ?", status).Order("created_at ASC").Find(&clients).Error; err != nil {
		return nil, log.Err("failed to get test clients by status", err, "status", status)
	}

	return clients, nil
}

func (r *testClientRepository) Create(ctx context.Context, client *TestClient) error {
	log := r.log.Function("Create")

	if err := r.getDB(ctx).Create(client).Error; err != nil {
		return log.Err("failed to create test client", err, "slug", client.Slug)
	}

	if err := r.addToCache(ctx, client); err != nil {
		log.Warn("failed to add test client to cache", "clientID", client.ID, "error", err)
	}

	return nil
}

func (r *testClientRepository) Update(ctx context.Context, client *TestClient) error {
	log := r.log.Function("Update")

	if err := r.getDB(ctx).Save(client).Error; err != nil {
		return log.Err("failed to update test client", err, "clientID", client.ID)
	}

	if err := r.addToCache(ctx, client); err != nil {
		log.Warn("failed to update test client in cache", "clientID", client.ID, "error", err)
	}

	return nil
}

func (r *testClientRepository) Delete(ctx context.Context, id string) error {
	log := r.log.Function("Delete")

	if err := r.getDB(ctx).Delete(&TestClient{}, "id = ?", id).Error; err != nil {
		return log.Err("failed to delete test client", err, "id", id)
	}

	if err := database.NewCacheBuilder(r.db.Cache.Client, id).Delete(); err != nil {
		log.Warn("failed to remove test client from cache", "clientID", id, "error", err)
	}

	return nil
}

func (r *testClientRepository) UpdateStatus(ctx context.Context, id string, status ClientStatus, startedAt *time.Time) error {
	log := r.log.Function("UpdateStatus")

	updates := map[string]any{"status": status}
	if startedAt != nil {
		updates["started_at"] = startedAt
	}
	if status != ClientStatusError {
		updates["error_message"] = nil
	}

	if err := r.getDB(ctx).Model(&TestClient{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return log.Err("failed to update test client status", err, "id", id, "status", status)
	}

	r.invalidateCache(ctx, id, log)
	return nil
}

func (r *testClientRepository) SetError(ctx context.Context, id string, message string) error {
	log := r.log.Function("SetError")

	updates := map[string]any{"status": ClientStatusError, "error_message": message}
	if err := r.getDB(ctx).Model(&TestClient{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return log.Err("failed to mark test client errored", err, "id", id)
	}

	r.invalidateCache(ctx, id, log)
	return nil
}

func (r *testClientRepository) IncrementReceived(ctx context.Context, id string) error {
	log := r.log.Function("IncrementReceived")

	if err := r.getDB(ctx).Model(&TestClient{}).Where("id = ?", id).
		UpdateColumn("received_count", gorm.Expr("received_count + 1")).Error; err != nil {
		return log.Err("failed to increment received count", err, "id", id)
	}

	r.invalidateCache(ctx, id, log)
	return nil
}

// AllocatePort returns the lowest port in [start, end] not held by any
// client, including soft-deleted rows so a recycling slug cannot collide
// with a container still draining.
func (r *testClientRepository) AllocatePort(ctx context.Context, start, end int) (int, error) {
	log := r.log.Function("AllocatePort")

	var used []int
	if err := r.getDB(ctx).Unscoped().Model(&TestClient{}).Pluck("port", &used).Error; err != nil {
		return 0, log.Err("failed to list used ports", err)
	}

	taken := make(map[int]bool, len(used))
	for _, p := range used {
		taken[p] = true
	}

	for port := start; port <= end; port++ {
		if !taken[port] {
			return port, nil
		}
	}

	return 0, log.Error("client port pool exhausted", "start", start, "end", end)
}

func (r *testClientRepository) addToCache(ctx context.Context, client *TestClient) error {
	return database.NewCacheBuilder(r.db.Cache.Client, client.ID).
		WithStruct(client).
		WithTTL(TEST_CLIENT_CACHE_EXPIRY).
		WithContext(ctx).
		Set()
}

func (r *testClientRepository) invalidateCache(ctx context.Context, id string, log logger.Logger) {
	if err := database.NewCacheBuilder(r.db.Cache.Client, id).WithContext(ctx).Delete(); err != nil {
		log.Warn("failed to invalidate test client cache", "clientID", id, "error", err)
	}
}

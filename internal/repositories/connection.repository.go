package repositories

import (
	"context"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/services"

	. "fleetprobe/internal/models"

	"gorm.io/gorm"
)

type ConnectionRepository interface {
	GetByID(ctx context.Context, id string) (*Connection, error)
	GetByPair(ctx context.Context, clientAID, clientBID string) (*Connection, error)
	GetPeersOf(ctx context.Context, clientID string) ([]*TestClient, error)
	GetAll(ctx context.Context) ([]*Connection, error)
	Create(ctx context.Context, connection *Connection) error
	UpdateStatus(ctx context.Context, id string, status ConnectionStatus) error
	Delete(ctx context.Context, id string) error
}

type connectionRepository struct {
	db  database.DB
	log logger.Logger
}

func NewConnection(db database.DB) ConnectionRepository {
	return &connectionRepository{
		db:  db,
		log: logger.New("connectionRepository"),
	}
}

func (r *connectionRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := services.GetTransaction(ctx); ok {
		return tx
	}
	return r.db.SQLWithContext(ctx)
}

func (r *connectionRepository) GetByID(ctx context.Context, id string) (*Connection, error) {
	log := r.log.Function("GetByID")

	var connection Connection
	if err := r.getDB(ctx).First(&connection, "id = ?", id).Error; err != nil {
		return nil, log.Err("failed to get connection by id", err, "id", id)
	}

	return &connection, nil
}

func (r *connectionRepository) GetByPair(ctx context.Context, clientAID, clientBID string) (*Connection, error) {
	log := r.log.Function("GetByPair")

	if clientAID > clientBID {
		clientAID, clientBID = clientBID, clientAID
	}

	var connection Connection
	if err := r.getDB(ctx).First(&connection, "client_a_id = ? AND client_b_id = ?", clientAID, clientBID).Error; err != nil {
		return nil, log.Err("failed to get connection by pair", err, "clientAID", clientAID, "clientBID", clientBID)
	}

	return &connection, nil
}

// GetPeersOf returns every client connected to clientID, in stable creation
// order. The campaign engine relies on this ordering for round_robin.
func (r *connectionRepository) GetPeersOf(ctx context.Context, clientID string) ([]*TestClient, error) {
	log := r.log.Function("GetPeersOf")

	var peers []*TestClient
	err := r.getDB(ctx).
		Joins("JOIN connections ON (connections.client_a_id = test_clients.id OR connections.client_b_id = test_clients.id)").
		Where("(connections.client_a_id = ? OR connections.client_b_id = ?)", clientID, clientID).
		Where("test_clients.id != ?", clientID).
		Where("connections.status = ?", ConnectionStatusConnected).
		Where("connections.deleted_at IS NULL").
		Order("test_clients.created_at ASC").
		Find(&peers).Error
	if err != nil {
		return nil, log.Err("failed to get peers", err, "clientID", clientID)
	}

	return peers, nil
}

func (r *connectionRepository) GetAll(ctx context.Context) ([]*Connection, error) {
	log := r.log.Function("GetAll")

	var connections []*Connection
	if err := r.getDB(ctx).Order("created_at ASC").Find(&connections).Error; err != nil {
		return nil, log.Err("failed to get all connections", err)
	}

	return connections, nil
}

func (r *connectionRepository) Create(ctx context.Context, connection *Connection) error {
	log := r.log.Function("Create")

	connection.NormalizePair()
	if err := r.getDB(ctx).Create(connection).Error; err != nil {
		return log.Err("failed to create connection", err,
			"clientAID", connection.ClientAID, "clientBID", connection.ClientBID)
	}

	return nil
}

func (r *connectionRepository) UpdateStatus(ctx context.Context, id string, status ConnectionStatus) error {
	log := r.log.Function("UpdateStatus")

	if err := r.getDB(ctx).Model(&Connection{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return log.Err("failed to update connection status", err, "id", id, "status", status)
	}

	return nil
}

func (r *connectionRepository) Delete(ctx context.Context, id string) error {
	log := r.log.Function("Delete")

	if err := r.getDB(ctx).Delete(&Connection{}, "id = ?", id).Error; err != nil {
		return log.Err("failed to delete connection", err, "id", id)
	}

	return nil
}

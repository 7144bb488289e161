package connectionController

import (
	"context"
	"fleetprobe/internal/command"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"

	. "fleetprobe/internal/models"
)

// ChannelRegistry is the slice of the fleet bridge this controller needs.
// An interface here keeps the controller testable without a live bridge.
type ChannelRegistry interface {
	Sender(clientID string) (command.Sender, error)
}

type ConnectionController struct {
	connectionRepo repositories.ConnectionRepository
	clientRepo     repositories.TestClientRepository
	channels       ChannelRegistry
	log            logger.Logger
}

func New(
	connectionRepo repositories.ConnectionRepository,
	clientRepo repositories.TestClientRepository,
	channels ChannelRegistry,
) *ConnectionController {
	return &ConnectionController{
		connectionRepo: connectionRepo,
		clientRepo:     clientRepo,
		channels:       channels,
		log:            logger.New("ConnectionController"),
	}
}

// Create pairs two running clients: side B is put into auto-accept mode,
// then side A issues the contact request. The row moves pending →
// connecting → connected as the handshake progresses; a failed handshake
// leaves it pending for a retry.
func (c *ConnectionController) Create(ctx context.Context, request *CreateConnectionRequest) (*Connection, error) {
	log := c.log.Function("Create")

	if request.ClientAID == request.ClientBID {
		return nil, log.Error("cannot connect a client to itself", "clientID", request.ClientAID)
	}

	clientA, err := c.clientRepo.GetByID(ctx, request.ClientAID)
	if err != nil {
		return nil, err
	}
	clientB, err := c.clientRepo.GetByID(ctx, request.ClientBID)
	if err != nil {
		return nil, err
	}

	contactNameOnA := request.ContactNameOnA
	if contactNameOnA == "" {
		contactNameOnA = clientB.Slug
	}
	contactNameOnB := request.ContactNameOnB
	if contactNameOnB == "" {
		contactNameOnB = clientA.Slug
	}

	connection := &Connection{
		ClientAID:      clientA.ID,
		ClientBID:      clientB.ID,
		ContactNameOnA: contactNameOnA,
		ContactNameOnB: contactNameOnB,
		Status:         ConnectionStatusPending,
	}
	if err := c.connectionRepo.Create(ctx, connection); err != nil {
		return nil, err
	}

	channelA, err := c.channels.Sender(clientA.ID)
	if err != nil {
		return connection, log.Err("initiating client has no open channel", err, "slug", clientA.Slug)
	}
	channelB, err := c.channels.Sender(clientB.ID)
	if err != nil {
		return connection, log.Err("accepting client has no open channel", err, "slug", clientB.Slug)
	}

	if err := c.connectionRepo.UpdateStatus(ctx, connection.ID, ConnectionStatusConnecting); err != nil {
		return connection, err
	}
	connection.Status = ConnectionStatusConnecting

	if _, err := channelB.Send(ctx, command.CommandSetAutoAccept, map[string]any{"enabled": true}); err != nil {
		c.resetToPending(ctx, connection)
		return connection, log.Err("failed to enable auto-accept on peer", err, "slug", clientB.Slug)
	}

	if _, err := channelA.Send(ctx, command.CommandAddContact, map[string]any{
		"contact": clientB.Slug,
		"name":    contactNameOnA,
	}); err != nil {
		c.resetToPending(ctx, connection)
		return connection, log.Err("failed to issue contact request", err, "slug", clientA.Slug)
	}

	if err := c.connectionRepo.UpdateStatus(ctx, connection.ID, ConnectionStatusConnected); err != nil {
		return connection, err
	}
	connection.Status = ConnectionStatusConnected

	log.Info("connection established", "clientA", clientA.Slug, "clientB", clientB.Slug)
	return connection, nil
}

func (c *ConnectionController) GetAll(ctx context.Context) ([]*Connection, error) {
	return c.connectionRepo.GetAll(ctx)
}

// Delete marks the pair disconnected before removing the row so the
// terminal state survives in the soft-deleted record.
func (c *ConnectionController) Delete(ctx context.Context, id string) error {
	log := c.log.Function("Delete")

	if err := c.connectionRepo.UpdateStatus(ctx, id, ConnectionStatusDisconnected); err != nil {
		log.Er("failed to mark connection disconnected", err, "connectionID", id)
	}

	return c.connectionRepo.Delete(ctx, id)
}

// resetToPending rolls a half-handshaken connection back so the next
// Create attempt starts clean.
func (c *ConnectionController) resetToPending(ctx context.Context, connection *Connection) {
	log := c.log.Function("resetToPending")

	if err := c.connectionRepo.UpdateStatus(ctx, connection.ID, ConnectionStatusPending); err != nil {
		log.Er("failed to reset connection to pending", err, "connectionID", connection.ID)
		return
	}
	connection.Status = ConnectionStatusPending
}

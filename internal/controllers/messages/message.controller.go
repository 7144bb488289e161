package messageController

import (
	"context"
	"fleetprobe/internal/command"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"

	. "fleetprobe/internal/models"

	"github.com/google/uuid"
)

// ChannelRegistry resolves a client's live command channel.
type ChannelRegistry interface {
	Sender(clientID string) (command.Sender, error)
}

type MessageController struct {
	messageRepo repositories.MessageRepository
	clientRepo  repositories.TestClientRepository
	channels    ChannelRegistry
	log         logger.Logger
}

func New(
	messageRepo repositories.MessageRepository,
	clientRepo repositories.TestClientRepository,
	channels ChannelRegistry,
) *MessageController {
	return &MessageController{
		messageRepo: messageRepo,
		clientRepo:  clientRepo,
		channels:    channels,
		log:         logger.New("MessageController"),
	}
}

// Send issues one interactive message. The ledger row is created before the
// command goes out so the ingestor's echo and ack events always find it;
// a failed send moves the row to failed immediately.
func (c *MessageController) Send(ctx context.Context, request *SendMessageRequest) (*Message, error) {
	log := c.log.Function("Send")

	if request.Content == "" {
		return nil, log.ErrMsg("message content is required")
	}
	if request.RecipientID == "" && request.ExternalContact == "" {
		return nil, log.ErrMsg("a recipient or external contact is required")
	}

	sender, err := c.clientRepo.GetByID(ctx, request.SenderID)
	if err != nil {
		return nil, err
	}

	var to string
	message := &Message{
		TrackingID:     uuid.New().String(),
		SenderID:       sender.ID,
		Content:        request.Content,
		DeliveryStatus: DeliveryStatusPending,
	}
	if request.RecipientID != "" {
		recipient, err := c.clientRepo.GetByID(ctx, request.RecipientID)
		if err != nil {
			return nil, err
		}
		message.RecipientID = &recipient.ID
		to = recipient.Slug
	} else {
		message.ExternalContact = &request.ExternalContact
		to = request.ExternalContact
	}

	if err := c.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	channel, err := c.channels.Sender(sender.ID)
	if err != nil {
		c.failMessage(ctx, message.TrackingID, err)
		return nil, log.Err("sender has no open channel", err, "slug", sender.Slug)
	}

	if _, err := channel.Send(ctx, command.CommandSendMessage, map[string]any{
		"to":          to,
		"body":        request.Content,
		"tracking_id": message.TrackingID,
	}); err != nil {
		c.failMessage(ctx, message.TrackingID, err)
		return nil, log.Err("failed to send message", err, "slug", sender.Slug)
	}

	return c.messageRepo.GetByTrackingID(ctx, message.TrackingID)
}

func (c *MessageController) GetByID(ctx context.Context, id string) (*Message, error) {
	return c.messageRepo.GetByID(ctx, id)
}

func (c *MessageController) GetBySender(ctx context.Context, senderID string, limit int) ([]*Message, error) {
	return c.messageRepo.GetBySender(ctx, senderID, limit)
}

func (c *MessageController) GetByCampaign(ctx context.Context, campaignID string) ([]*Message, error) {
	return c.messageRepo.GetByCampaign(ctx, campaignID)
}

func (c *MessageController) failMessage(ctx context.Context, trackingID string, sendErr error) {
	log := c.log.Function("failMessage")

	_, err := c.messageRepo.Transition(ctx, trackingID, DeliveryStatusFailed, func(current *Message) map[string]any {
		return map[string]any{"failure_reason": sendErr.Error()}
	})
	if err != nil {
		log.Er("failed to record send failure", err, "trackingID", trackingID)
	}
}

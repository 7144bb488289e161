package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fleetprobe/internal/command"
	"fleetprobe/internal/events"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/repositories"
	"time"

	. "fleetprobe/internal/models"

	"github.com/google/uuid"
)

// Ingestor classifies one client's unsolicited frames and applies them to
// the message ledger. Errors never escape Handle: unknown frames and stale
// transitions are logged and dropped so a misbehaving client cannot take
// down its channel.
type Ingestor struct {
	clientID    string
	clientSlug  string
	messageRepo repositories.MessageRepository
	clientRepo  repositories.TestClientRepository
	eventBus    *events.EventBus
	log         logger.Logger
}

func New(
	client *TestClient,
	messageRepo repositories.MessageRepository,
	clientRepo repositories.TestClientRepository,
	eventBus *events.EventBus,
) *Ingestor {
	return &Ingestor{
		clientID:    client.ID,
		clientSlug:  client.Slug,
		messageRepo: messageRepo,
		clientRepo:  clientRepo,
		eventBus:    eventBus,
		log:         logger.New("ingest").With("client", client.Slug),
	}
}

// Handle is wired as the channel's EventHandler. Runs on the channel's
// reader goroutine, one event at a time.
func (i *Ingestor) Handle(kind command.EventKind, payload json.RawMessage) {
	log := i.log.Function("Handle")

	switch kind {
	case command.EventNewItems:
		var parsed command.NewItemsPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			log.Er("dropped malformed new_items payload", err)
			return
		}
		i.handleNewItems(parsed)
	case command.EventStatusUpdated:
		var parsed command.StatusUpdatedPayload
		if err := json.Unmarshal(payload, &parsed); err != nil {
			log.Er("dropped malformed status_updated payload", err)
			return
		}
		i.handleStatusUpdated(parsed)
	default:
		log.Warn("dropped unknown event kind", "kind", kind)
	}
}

func (i *Ingestor) handleNewItems(payload command.NewItemsPayload) {
	log := i.log.Function("handleNewItems")
	ctx := context.Background()

	for _, item := range payload.Items {
		switch item.Direction {
		case command.ItemDirectionOutbound:
			i.applyOutboundEcho(ctx, item)
		case command.ItemDirectionInbound:
			if err := i.clientRepo.IncrementReceived(ctx, i.clientID); err != nil {
				log.Er("failed to count inbound message", err, "trackingID", item.TrackingID)
				continue
			}
			i.publish("message_received", map[string]any{
				"clientId":   i.clientID,
				"trackingId": item.TrackingID,
				"from":       item.From,
			})
		default:
			log.Warn("dropped item with unknown direction", "direction", item.Direction, "trackingID", item.TrackingID)
		}
	}
}

// applyOutboundEcho moves a pending message to sent when the client echoes
// the send locally. An echo for a tracking id the ledger has never seen
// (an interactive send issued outside the orchestrator) creates the row.
func (i *Ingestor) applyOutboundEcho(ctx context.Context, item command.NewItem) {
	log := i.log.Function("applyOutboundEcho")
	sentAt := time.UnixMilli(item.Timestamp)

	message, err := i.messageRepo.Transition(ctx, item.TrackingID, DeliveryStatusSent, func(current *Message) map[string]any {
		updates := map[string]any{}
		if current.SentAt == nil {
			updates["sent_at"] = sentAt
		}
		return updates
	})
	if errors.Is(err, repositories.ErrMessageNotFound) {
		message = &Message{
			TrackingID:     item.TrackingID,
			SenderID:       i.clientID,
			Content:        item.Body,
			DeliveryStatus: DeliveryStatusSent,
			SentAt:         &sentAt,
		}
		if item.To != "" {
			message.ExternalContact = &item.To
		}
		if err := i.messageRepo.Create(ctx, message); err != nil {
			log.Er("failed to record echoed message", err, "trackingID", item.TrackingID)
			return
		}
	} else if err != nil {
		if errors.Is(err, repositories.ErrStaleTransition) {
			log.Warn("ignored stale outbound echo", "trackingID", item.TrackingID)
		} else {
			log.Er("failed to apply outbound echo", err, "trackingID", item.TrackingID)
		}
		return
	}

	i.publishDelta(message)
}

func (i *Ingestor) handleStatusUpdated(payload command.StatusUpdatedPayload) {
	log := i.log.Function("handleStatusUpdated")
	ctx := context.Background()
	at := time.UnixMilli(payload.Timestamp)

	var message *Message
	var err error

	switch payload.Status {
	case command.StatusServerAck:
		message, err = i.applyServerAck(ctx, payload.TrackingID, at)
	case command.StatusClientAck:
		message, err = i.messageRepo.Transition(ctx, payload.TrackingID, DeliveryStatusDelivered, func(current *Message) map[string]any {
			updates := map[string]any{"client_ack_at": at}
			if current.ServerAckAt != nil {
				updates["client_latency_ms"] = at.Sub(*current.ServerAckAt).Milliseconds()
			}
			if current.SentAt != nil {
				updates["total_latency_ms"] = at.Sub(*current.SentAt).Milliseconds()
			}
			return updates
		})
	case command.StatusFailed:
		message, err = i.messageRepo.Transition(ctx, payload.TrackingID, DeliveryStatusFailed, func(current *Message) map[string]any {
			updates := map[string]any{}
			if payload.Reason != "" {
				updates["failure_reason"] = payload.Reason
			}
			return updates
		})
	default:
		log.Warn("dropped status update with unknown status", "status", payload.Status, "trackingID", payload.TrackingID)
		return
	}

	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrStaleTransition):
			log.Warn("rejected stale status update", "trackingID", payload.TrackingID, "status", payload.Status)
		case errors.Is(err, repositories.ErrMessageNotFound):
			log.Warn("dropped status update for unknown message", "trackingID", payload.TrackingID)
		default:
			log.Er("failed to apply status update", err, "trackingID", payload.TrackingID)
		}
		return
	}

	i.publishDelta(message)
}

// applyServerAck advances pending messages to sent. When the local echo got
// there first the ack only stamps the server timestamp and latency.
func (i *Ingestor) applyServerAck(ctx context.Context, trackingID string, at time.Time) (*Message, error) {
	message, err := i.messageRepo.Transition(ctx, trackingID, DeliveryStatusSent, func(current *Message) map[string]any {
		return i.serverAckUpdates(current, at)
	})
	if errors.Is(err, repositories.ErrStaleTransition) {
		current, getErr := i.messageRepo.GetByTrackingID(ctx, trackingID)
		if getErr != nil {
			return nil, getErr
		}
		if current.DeliveryStatus != DeliveryStatusSent {
			return nil, err
		}
		return i.messageRepo.Stamp(ctx, trackingID, i.serverAckUpdates(current, at))
	}
	return message, err
}

func (i *Ingestor) serverAckUpdates(current *Message, at time.Time) map[string]any {
	updates := map[string]any{"server_ack_at": at}
	if current.SentAt != nil {
		updates["server_latency_ms"] = at.Sub(*current.SentAt).Milliseconds()
	}
	return updates
}

// publishDelta pushes the minimal message delta to the global topic and the
// client's own topic.
func (i *Ingestor) publishDelta(message *Message) {
	data := map[string]any{
		"clientId":   i.clientID,
		"slug":       i.clientSlug,
		"messageId":  message.ID,
		"trackingId": message.TrackingID,
		"status":     message.DeliveryStatus,
	}
	if message.ServerLatencyMs != nil {
		data["serverLatencyMs"] = *message.ServerLatencyMs
	}
	if message.ClientLatencyMs != nil {
		data["clientLatencyMs"] = *message.ClientLatencyMs
	}
	if message.TotalLatencyMs != nil {
		data["totalLatencyMs"] = *message.TotalLatencyMs
	}

	i.publish("message_status", data)
}

func (i *Ingestor) publish(eventType string, data map[string]any) {
	log := i.log.Function("publish")

	event := events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	for _, topic := range []string{events.TopicAllClients, events.ClientTopic(i.clientSlug)} {
		event.Channel = topic
		if err := i.eventBus.Publish(topic, event); err != nil {
			log.Er("failed to publish delta", err, "topic", topic)
		}
	}
}

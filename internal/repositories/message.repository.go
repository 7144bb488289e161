package repositories

import (
	"context"
	"errors"
	"fleetprobe/internal/database"
	"fleetprobe/internal/logger"
	"fleetprobe/internal/services"

	. "fleetprobe/internal/models"

	"gorm.io/gorm"
)

// ErrStaleTransition is returned when a status update would move a message
// backwards or out of a terminal state. The ledger is left unchanged.
var ErrStaleTransition = errors.New("stale delivery status transition")

// ErrMessageNotFound is returned when no message carries the tracking id.
var ErrMessageNotFound = errors.New("message not found")

// CampaignStats aggregates one campaign's own messages.
type CampaignStats struct {
	Sent      int64
	Delivered int64
	Failed    int64
	MinMs     *int64
	AvgMs     *int64
	MaxMs     *int64
}

type MessageRepository interface {
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByTrackingID(ctx context.Context, trackingID string) (*Message, error)
	GetBySender(ctx context.Context, senderID string, limit int) ([]*Message, error)
	GetByCampaign(ctx context.Context, campaignID string) ([]*Message, error)
	Create(ctx context.Context, message *Message) error
	Transition(ctx context.Context, trackingID string, next DeliveryStatus, apply func(current *Message) map[string]any) (*Message, error)
	Stamp(ctx context.Context, trackingID string, updates map[string]any) (*Message, error)
	CampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error)
}

type messageRepository struct {
	db  database.DB
	log logger.Logger
}

func NewMessage(db database.DB) MessageRepository {
	return &messageRepository{
		db:  db,
		log: logger.New("messageRepository"),
	}
}

func (r *messageRepository) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := services.GetTransaction(ctx); ok {
		return tx
	}
	return r.db.SQLWithContext(ctx)
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*Message, error) {
	log := r.log.Function("GetByID")

	var message Message
	if err := r.getDB(ctx).First(&message, "id = ?", id).Error; err != nil {
		return nil, log.Err("failed to get message by id", err, "id", id)
	}

	return &message, nil
}

func (r *messageRepository) GetByTrackingID(ctx context.Context, trackingID string) (*Message, error) {
	var message Message
	if err := r.getDB(ctx).First(&message, "tracking_id = ?", trackingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, r.log.Function("GetByTrackingID").
			Err("failed to get message by tracking id", err, "trackingID", trackingID)
	}

	return &message, nil
}

func (r *messageRepository) GetBySender(ctx context.Context, senderID string, limit int) ([]*Message, error) {
	log := r.log.Function("GetBySender")

	query := r.getDB(ctx).Where("sender_id = ?", senderID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []*Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, log.Err("failed to get messages by sender", err, "senderID", senderID)
	}

	return messages, nil
}

func (r *messageRepository) GetByCampaign(ctx context.Context, campaignID string) ([]*Message, error) {
	log := r.log.Function("GetByCampaign")

	var messages []*Message
	if err := r.getDB(ctx).Where("campaign_id = ?", campaignID).Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, log.Err("failed to get messages by campaign", err, "campaignID", campaignID)
	}

	return messages, nil
}

func (r *messageRepository) Create(ctx context.Context, message *Message) error {
	log := r.log.Function("Create")

	if message.DeliveryStatus == "" {
		message.DeliveryStatus = DeliveryStatusPending
	}

	if err := r.getDB(ctx).Create(message).Error; err != nil {
		return log.Err("failed to create message", err, "trackingID", message.TrackingID)
	}

	return nil
}

// Transition applies a forward-only status change as a compare-and-set: the
// update is guarded on the status the message held when loaded, so a
// concurrent transition makes this one stale instead of overwriting it.
// apply receives the current row and returns the field updates to stamp
// alongside the status change (ack timestamps, latencies, failure reason).
func (r *messageRepository) Transition(ctx context.Context, trackingID string, next DeliveryStatus, apply func(current *Message) map[string]any) (*Message, error) {
	log := r.log.Function("Transition")

	current, err := r.GetByTrackingID(ctx, trackingID)
	if err != nil {
		return nil, err
	}

	if !current.DeliveryStatus.CanTransitionTo(next) {
		log.Warn("rejected backward delivery transition",
			"trackingID", trackingID, "from", current.DeliveryStatus, "to", next)
		return nil, ErrStaleTransition
	}

	updates := map[string]any{"delivery_status": next}
	if apply != nil {
		for column, value := range apply(current) {
			updates[column] = value
		}
	}

	result := r.getDB(ctx).Model(&Message{}).
		Where("tracking_id = ? AND delivery_status = ?", trackingID, current.DeliveryStatus).
		Updates(updates)
	if result.Error != nil {
		return nil, log.Err("failed to apply delivery transition", result.Error,
			"trackingID", trackingID, "to", next)
	}
	if result.RowsAffected == 0 {
		// Lost the race to a concurrent transition.
		return nil, ErrStaleTransition
	}

	return r.GetByTrackingID(ctx, trackingID)
}

// Stamp records ack timestamps or latencies without a status change, for
// sub-events that arrive after the status already advanced. Terminal
// messages are immutable, so stamping one is stale.
func (r *messageRepository) Stamp(ctx context.Context, trackingID string, updates map[string]any) (*Message, error) {
	log := r.log.Function("Stamp")

	result := r.getDB(ctx).Model(&Message{}).
		Where("tracking_id = ? AND delivery_status IN ?", trackingID,
			[]DeliveryStatus{DeliveryStatusPending, DeliveryStatusSent}).
		Updates(updates)
	if result.Error != nil {
		return nil, log.Err("failed to stamp message", result.Error, "trackingID", trackingID)
	}
	if result.RowsAffected == 0 {
		return nil, ErrStaleTransition
	}

	return r.GetByTrackingID(ctx, trackingID)
}

func (r *messageRepository) CampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	log := r.log.Function("CampaignStats")

	stats := &CampaignStats{}

	counts := []struct {
		statuses []DeliveryStatus
		target   *int64
	}{
		{[]DeliveryStatus{DeliveryStatusSent, DeliveryStatusDelivered, DeliveryStatusFailed, DeliveryStatusPending}, &stats.Sent},
		{[]DeliveryStatus{DeliveryStatusDelivered}, &stats.Delivered},
		{[]DeliveryStatus{DeliveryStatusFailed}, &stats.Failed},
	}

	for _, count := range counts {
		if err := r.getDB(ctx).Model(&Message{}).
			Where("campaign_id = ? AND delivery_status IN ?", campaignID, count.statuses).
			Count(count.target).Error; err != nil {
			return nil, log.Err("failed to count campaign messages", err, "campaignID", campaignID)
		}
	}

	var aggregate struct {
		MinMs *int64
		AvgMs *float64
		MaxMs *int64
	}
	err := r.getDB(ctx).Model(&Message{}).
		Select("MIN(total_latency_ms) AS min_ms, AVG(total_latency_ms) AS avg_ms, MAX(total_latency_ms) AS max_ms").
		Where("campaign_id = ? AND total_latency_ms IS NOT NULL", campaignID).
		Scan(&aggregate).Error
	if err != nil {
		return nil, log.Err("failed to aggregate campaign latencies", err, "campaignID", campaignID)
	}

	stats.MinMs = aggregate.MinMs
	stats.MaxMs = aggregate.MaxMs
	if aggregate.AvgMs != nil {
		avg := int64(*aggregate.AvgMs)
		stats.AvgMs = &avg
	}

	return stats, nil
}

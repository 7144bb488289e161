package models

import "time"

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// rank orders the delivery states for the forward-only transition check.
// Terminal states share the top rank so neither can replace the other.
func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryStatusPending:
		return 0
	case DeliveryStatusSent:
		return 1
	case DeliveryStatusDelivered, DeliveryStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// step. Terminal states accept nothing.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s == DeliveryStatusDelivered || s == DeliveryStatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// Message is one outbound send attempt. Latencies are nil until the event
// that proves them arrives; a missing server ack leaves ServerLatencyMs and
// ClientLatencyMs nil rather than failing the status update.
type Message struct {
	BaseUUIDModel
	TrackingID      string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"trackingId"`
	SenderID        string         `gorm:"type:varchar(64);not null;index"       json:"senderId"`
	RecipientID     *string        `gorm:"type:varchar(64);index"                json:"recipientId,omitempty"`
	ExternalContact *string        `gorm:"type:varchar(255)"                     json:"externalContact,omitempty"`
	Content         string         `gorm:"type:text;not null"                    json:"content"`
	DeliveryStatus  DeliveryStatus `gorm:"type:varchar(20);not null;index"       json:"deliveryStatus"`
	SentAt          *time.Time     `gorm:"type:datetime"                         json:"sentAt,omitempty"`
	ServerAckAt     *time.Time     `gorm:"type:datetime"                         json:"serverAckAt,omitempty"`
	ClientAckAt     *time.Time     `gorm:"type:datetime"                         json:"clientAckAt,omitempty"`
	ServerLatencyMs *int64         `gorm:"type:bigint"                           json:"serverLatencyMs,omitempty"`
	ClientLatencyMs *int64         `gorm:"type:bigint"                           json:"clientLatencyMs,omitempty"`
	TotalLatencyMs  *int64         `gorm:"type:bigint"                           json:"totalLatencyMs,omitempty"`
	FailureReason   *string        `gorm:"type:text"                             json:"failureReason,omitempty"`
	CampaignID      *string        `gorm:"type:varchar(64);index"                json:"campaignId,omitempty"`
}

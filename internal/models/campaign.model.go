package models

import "time"

type CampaignStatus string

const (
	CampaignStatusPending   CampaignStatus = "pending"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
	CampaignStatusFailed    CampaignStatus = "failed"
)

func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled || s == CampaignStatusFailed
}

type RecipientMode string

const (
	RecipientModeAll        RecipientMode = "all"
	RecipientModeRandom     RecipientMode = "random"
	RecipientModeRoundRobin RecipientMode = "round_robin"
	RecipientModeSelected   RecipientMode = "selected"
)

// CampaignRun is one bounded stress-test execution. Live progress is not
// stored here; it is derived from the Messages carrying this run's id. The
// aggregate latency fields are filled once on completion.
type CampaignRun struct {
	BaseUUIDModel
	SenderID      string         `gorm:"type:varchar(64);not null;index" json:"senderId"`
	RecipientMode RecipientMode  `gorm:"type:varchar(20);not null"       json:"recipientMode"`
	RecipientIDs  string         `gorm:"type:text"                       json:"recipientIds"`
	MessageCount  int            `gorm:"not null"                        json:"messageCount"`
	IntervalMs    int            `gorm:"not null"                        json:"intervalMs"`
	PayloadSize   int            `gorm:"not null"                        json:"payloadSize"`
	Status        CampaignStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	MinLatencyMs  *int64         `gorm:"type:bigint"                     json:"minLatencyMs,omitempty"`
	AvgLatencyMs  *int64         `gorm:"type:bigint"                     json:"avgLatencyMs,omitempty"`
	MaxLatencyMs  *int64         `gorm:"type:bigint"                     json:"maxLatencyMs,omitempty"`
	SuccessRate   *float64       `gorm:"type:real"                       json:"successRate,omitempty"`
	ErrorMessage  *string        `gorm:"type:text"                       json:"errorMessage,omitempty"`
	CompletedAt   *time.Time     `gorm:"type:datetime"                   json:"completedAt,omitempty"`
}

// CampaignProgress is the ledger-derived live view of a run.
type CampaignProgress struct {
	RunID     string         `json:"runId"`
	Status    CampaignStatus `json:"status"`
	Sent      int64          `json:"sent"`
	Delivered int64          `json:"delivered"`
	Failed    int64          `json:"failed"`
	Total     int            `json:"total"`
	Percent   float64        `json:"percent"`
}

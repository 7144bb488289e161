package models

import "time"

type ClientStatus string

const (
	ClientStatusCreated ClientStatus = "created"
	ClientStatusRunning ClientStatus = "running"
	ClientStatusStopped ClientStatus = "stopped"
	ClientStatusError   ClientStatus = "error"
)

// TestClient is one managed test identity. The container backing it exposes
// a command socket on Port; ContainerID is the opaque runtime handle.
type TestClient struct {
	BaseUUIDModel
	Slug          string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"slug"`
	DisplayName   string       `gorm:"type:varchar(255);not null"            json:"displayName"`
	Port          int          `gorm:"not null;uniqueIndex"                  json:"port"`
	UseProxy      bool         `gorm:"not null;default:false"                json:"useProxy"`
	ContainerID   *string      `gorm:"type:varchar(128)"                     json:"containerId,omitempty"`
	Status        ClientStatus `gorm:"type:varchar(20);not null"             json:"status"`
	StartedAt     *time.Time   `gorm:"type:datetime"                         json:"startedAt,omitempty"`
	ErrorMessage  *string      `gorm:"type:text"                             json:"errorMessage,omitempty"`
	PasswordHash  string       `gorm:"type:varchar(128);not null"            json:"-"`
	ReceivedCount int          `gorm:"not null;default:0"                    json:"receivedCount"`
}

package models

type ConnectionStatus string

const (
	ConnectionStatusPending      ConnectionStatus = "pending"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
)

// Connection pairs two test clients. The pair is stored normalized with
// ClientAID < ClientBID so the composite unique index holds one row per
// unordered pair.
type Connection struct {
	BaseUUIDModel
	ClientAID      string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_connection_pair" json:"clientAId"`
	ClientBID      string           `gorm:"type:varchar(64);not null;uniqueIndex:idx_connection_pair" json:"clientBId"`
	ContactNameOnA string           `gorm:"type:varchar(255);not null"                                json:"contactNameOnA"`
	ContactNameOnB string           `gorm:"type:varchar(255);not null"                                json:"contactNameOnB"`
	Status         ConnectionStatus `gorm:"type:varchar(20);not null"                                 json:"status"`
}

// NormalizePair orders the two client ids and swaps the contact names to
// match, so callers can build a Connection without caring about order.
func (c *Connection) NormalizePair() {
	if c.ClientAID > c.ClientBID {
		c.ClientAID, c.ClientBID = c.ClientBID, c.ClientAID
		c.ContactNameOnA, c.ContactNameOnB = c.ContactNameOnB, c.ContactNameOnA
	}
}

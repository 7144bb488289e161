package command

import (
	"context"
	"encoding/json"
)

// Sender is the call side of a channel, the only surface most callers need.
type Sender interface {
	Send(ctx context.Context, cmd string, args map[string]any) (json.RawMessage, error)
}

// EventKind classifies unsolicited frames from a test client. The set is
// closed; the ingestor switches exhaustively over it.
type EventKind string

const (
	EventNewItems      EventKind = "new_items"
	EventStatusUpdated EventKind = "status_updated"
)

// Frame is the wire envelope on a client's command socket. Outbound command
// frames carry ID/Command/Args; replies echo the ID with Result or Error;
// unsolicited events carry Event/Payload and no ID.
type Frame struct {
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Args    map[string]any  `json:"args,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   EventKind       `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Commands the orchestrator issues to a test client.
const (
	CommandSendMessage   = "send_message"
	CommandAddContact    = "add_contact"
	CommandSetAutoAccept = "set_auto_accept"
	CommandStatus        = "status"
)

// NewItemsPayload is the payload of a new_items event. Outbound items are
// the client's local echo of a send; inbound items are messages received
// from a peer.
type NewItemsPayload struct {
	Items []NewItem `json:"items"`
}

type NewItem struct {
	TrackingID string `json:"tracking_id"`
	Direction  string `json:"direction"` // "outbound" or "inbound"
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Body       string `json:"body,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

// StatusUpdatedPayload is the payload of a status_updated event.
type StatusUpdatedPayload struct {
	TrackingID string `json:"tracking_id"`
	Status     string `json:"status"` // "server_ack", "client_ack" or "failed"
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"` // unix milliseconds
}

const (
	ItemDirectionOutbound = "outbound"
	ItemDirectionInbound  = "inbound"

	StatusServerAck = "server_ack"
	StatusClientAck = "client_ack"
	StatusFailed    = "failed"
)

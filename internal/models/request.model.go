package models

// Request bodies accepted by the HTTP surface.

type CreateTestClientRequest struct {
	Slug        string `json:"slug"`
	DisplayName string `json:"displayName"`
	UseProxy    bool   `json:"useProxy"`
}

type CreateConnectionRequest struct {
	ClientAID      string `json:"clientAId"`
	ClientBID      string `json:"clientBId"`
	ContactNameOnA string `json:"contactNameOnA"`
	ContactNameOnB string `json:"contactNameOnB"`
}

type SendMessageRequest struct {
	SenderID        string `json:"senderId"`
	RecipientID     string `json:"recipientId,omitempty"`
	ExternalContact string `json:"externalContact,omitempty"`
	Content         string `json:"content"`
}

type CreateCampaignRequest struct {
	SenderID      string        `json:"senderId"`
	RecipientMode RecipientMode `json:"recipientMode"`
	RecipientIDs  []string      `json:"recipientIds,omitempty"`
	MessageCount  int           `json:"messageCount"`
	IntervalMs    int           `json:"intervalMs,omitempty"`
	PayloadSize   int           `json:"payloadSize,omitempty"`
}

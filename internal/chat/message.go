package chat

import (
	"encoding/json"
	"time"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
)

// Status is a message's delivery marker. It only moves forward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// Attachment is an uploaded file referenced by a message.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// Message is one entry in the chat log. ID is assigned by the server.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Status      Status       `json:"status,omitempty"`
}

// UnmarshalJSON accepts numeric ids, "_id", and a missing or malformed
// createdAt.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID          json.RawMessage `json:"id"`
		MongoID     json.RawMessage `json:"_id"`
		From        string          `json:"from"`
		Sender      string          `json:"sender"`
		Text        string          `json:"text"`
		Attachments []Attachment    `json:"attachments"`
		CreatedAt   string          `json:"createdAt"`
		Status      Status          `json:"status"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id := apiclient.FlexibleID(wire.ID)
	if id == "" {
		id = apiclient.FlexibleID(wire.MongoID)
	}
	from := wire.From
	if from == "" {
		from = wire.Sender
	}
	*m = Message{ID: id, From: from, Text: wire.Text, Attachments: wire.Attachments, Status: wire.Status}
	if wire.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, wire.CreatedAt); err == nil {
			m.CreatedAt = t
		}
	}
	return nil
}

// AttachmentLabel is the link text for a, defaulting to "attachment".
func AttachmentLabel(a Attachment) string {
	if a.Name != "" {
		return a.Name
	}
	return "attachment"
}

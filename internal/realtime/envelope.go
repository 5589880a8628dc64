package realtime

import (
	"encoding/json"

	"github.com/wolfman30/homepro-connect/internal/chat"
)

// Event names on the wire.
const (
	EventPresence    = "presence"
	EventMessage     = "message"
	EventTyping      = "typing"
	EventStatus      = "status"
	EventAck         = "ack"
	EventError       = "error"
	EventDelivered   = "delivered"
	EventSendMessage = "sendMessage"
)

// Envelope is one frame in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

type typingOut struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type deliveredOut struct {
	MessageID string `json:"messageId"`
}

type sendMessageOut struct {
	RoomID      string            `json:"roomId"`
	Text        string            `json:"text"`
	Attachments []chat.Attachment `json:"attachments"`
}

type typingIn struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type statusIn struct {
	ID     string      `json:"id"`
	Status chat.Status `json:"status"`
}

type ackIn struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

type errorIn struct {
	Message string `json:"message"`
}

// decodePresence accepts a list of names or a list of {username} objects.
func decodePresence(raw json.RawMessage) ([]string, error) {
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names, nil
	}
	var objs []struct {
		Username string `json:"username"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, err
	}
	names = make([]string, 0, len(objs))
	for _, o := range objs {
		if o.Username != "" {
			names = append(names, o.Username)
		} else {
			names = append(names, o.Name)
		}
	}
	return names, nil
}

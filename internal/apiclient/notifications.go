package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/wolfman30/homepro-connect/internal/apierr"
)

// Notification is one entry in the user's notification feed.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID        json.RawMessage `json:"id"`
		MongoID   json.RawMessage `json:"_id"`
		Message   string          `json:"message"`
		Type      string          `json:"type"`
		Read      bool            `json:"read"`
		CreatedAt string          `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	id := wire.ID
	if len(id) == 0 {
		id = wire.MongoID
	}
	*n = Notification{ID: FlexibleID(id), Message: wire.Message, Type: wire.Type, Read: wire.Read}
	if wire.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, wire.CreatedAt); err == nil {
			n.CreatedAt = t
		}
	}
	return nil
}

// Notifications returns the user's feed, newest first as the server sends it.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	const op = "notifications.list"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/notifications", nil, &raw); err != nil {
		return nil, err
	}
	items, err := unwrapList(op, raw, "notifications")
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(items))
	for _, item := range items {
		var n Notification
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, apierr.Transport(op, fmt.Errorf("decode notification: %w", err))
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkNotificationRead flags one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	const op = "notifications.read"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodPatch, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// ClearNotifications deletes the whole feed.
func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.doJSON(ctx, "notifications.clear", http.MethodDelete, "/notifications/clear", nil, nil)
}

// FlexibleID renders a JSON string or number id as a string. Anything else
// yields "".
func FlexibleID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

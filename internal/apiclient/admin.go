package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// AdminStats is the dashboard summary. Unknown counters are kept in Extra.
type AdminStats struct {
	Users     int            `json:"users"`
	Providers int            `json:"providers"`
	Bookings  int            `json:"bookings"`
	Revenue   float64        `json:"revenue"`
	Extra     map[string]any `json:"-"`
}

func (s *AdminStats) UnmarshalJSON(data []byte) error {
	type alias AdminStats
	var base alias
	if err := json.Unmarshal(data, &base); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"users", "providers", "bookings", "revenue"} {
		delete(all, k)
	}
	*s = AdminStats(base)
	if len(all) > 0 {
		s.Extra = all
	}
	return nil
}

// AdminStats fetches the dashboard counters.
func (c *Client) AdminStats(ctx context.Context) (*AdminStats, error) {
	var stats AdminStats
	if err := c.doJSON(ctx, "admin.stats", http.MethodGet, "/admin/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// AdminUsers lists every account.
func (c *Client) AdminUsers(ctx context.Context) ([]json.RawMessage, error) {
	return c.adminList(ctx, "admin.users", "/admin/users", "users")
}

// AdminBookings lists every booking.
func (c *Client) AdminBookings(ctx context.Context, status string) ([]json.RawMessage, error) {
	const op = "admin.bookings"
	q := url.Values{}
	if status != "" && status != "all" {
		q.Set("status", status)
	}
	var raw json.RawMessage
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/admin/bookings", query: q}, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, "bookings")
}

// AdminProviders lists every provider.
func (c *Client) AdminProviders(ctx context.Context) ([]json.RawMessage, error) {
	return c.adminList(ctx, "admin.providers", "/admin/providers", "providers")
}

// AdminUpdateBookingStatus overrides a booking's status.
func (c *Client) AdminUpdateBookingStatus(ctx context.Context, id, status string) error {
	const op = "admin.booking_status"
	if err := requireID(op, id); err != nil {
		return err
	}
	path := "/admin/booking/" + url.PathEscape(id) + "/status"
	return c.doJSON(ctx, op, http.MethodPatch, path, map[string]string{"status": status}, nil)
}

func (c *Client) adminList(ctx context.Context, op, path, key string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, key)
}

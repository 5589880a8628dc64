package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// BookingQuery narrows GET /bookings.
type BookingQuery struct {
	Status string
	Limit  int
}

func (q BookingQuery) values() url.Values {
	v := url.Values{}
	if q.Status != "" && q.Status != "all" {
		v.Set("status", q.Status)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// CreateBookingRequest is the body of POST /bookings.
type CreateBookingRequest struct {
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName,omitempty"`
	Service      string `json:"service"`
	When         string `json:"when"`
	Notes        string `json:"notes,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	CalendarSync bool   `json:"calendarSync"`
}

// ReminderRequest is the body of POST /bookings/remind.
type ReminderRequest struct {
	Email    string `json:"email"`
	Service  string `json:"service"`
	Provider string `json:"provider"`
	When     string `json:"when"`
}

func bookingPath(id string, suffix string) string {
	p := "/bookings/" + url.PathEscape(id)
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

// ListBookings returns the signed-in customer's bookings.
func (c *Client) ListBookings(ctx context.Context, q BookingQuery) ([]json.RawMessage, error) {
	const op = "bookings.list"
	var raw json.RawMessage
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/bookings", query: q.values()}, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, "bookings")
}

// GetBooking fetches one booking.
func (c *Client) GetBooking(ctx context.Context, id string) (json.RawMessage, error) {
	const op = "bookings.get"
	if err := requireID(op, id); err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, bookingPath(id, ""), nil, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "booking"), nil
}

// CreateBooking submits a new booking and returns the stored record.
func (c *Client) CreateBooking(ctx context.Context, req CreateBookingRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "bookings.create", http.MethodPost, "/bookings", req, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "booking"), nil
}

// UpdateBooking applies a partial update, used to reschedule.
func (c *Client) UpdateBooking(ctx context.Context, id string, update any) error {
	const op = "bookings.update"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodPut, bookingPath(id, ""), update, nil)
}

// DeleteBooking removes a booking permanently.
func (c *Client) DeleteBooking(ctx context.Context, id string) error {
	const op = "bookings.delete"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodDelete, bookingPath(id, ""), nil, nil)
}

// UpdateBookingStatus sets an arbitrary status.
func (c *Client) UpdateBookingStatus(ctx context.Context, id, status string) error {
	const op = "bookings.update_status"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodPatch, bookingPath(id, "status"), map[string]string{"status": status}, nil)
}

// CancelBooking cancels a scheduled booking as the customer.
func (c *Client) CancelBooking(ctx context.Context, id string) error {
	const op = "bookings.cancel"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodPut, bookingPath(id, "cancel"), nil, nil)
}

// CompleteBooking marks a booking complete as the customer.
func (c *Client) CompleteBooking(ctx context.Context, id string) error {
	const op = "bookings.complete"
	if err := requireID(op, id); err != nil {
		return err
	}
	return c.doJSON(ctx, op, http.MethodPut, bookingPath(id, "complete"), nil, nil)
}

// SendReminder asks the server to send a reminder for an upcoming booking.
func (c *Client) SendReminder(ctx context.Context, req ReminderRequest) error {
	return c.doJSON(ctx, "bookings.remind", http.MethodPost, "/bookings/remind", req, nil)
}

// ProviderBookings lists bookings assigned to the signed-in provider.
func (c *Client) ProviderBookings(ctx context.Context, status string) ([]json.RawMessage, error) {
	const op = "providers.bookings"
	q := url.Values{}
	if status != "" && status != "all" {
		q.Set("status", status)
	}
	var raw json.RawMessage
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/providers/bookings", query: q}, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, "bookings")
}

func (c *Client) providerAction(ctx context.Context, id, action string) error {
	op := "providers.bookings." + action
	if err := requireID(op, id); err != nil {
		return err
	}
	path := fmt.Sprintf("/providers/bookings/%s/%s", url.PathEscape(id), action)
	return c.doJSON(ctx, op, http.MethodPut, path, nil, nil)
}

// AcceptBooking accepts a pending booking as the provider.
func (c *Client) AcceptBooking(ctx context.Context, id string) error {
	return c.providerAction(ctx, id, "accept")
}

// DeclineBooking declines a pending booking as the provider.
func (c *Client) DeclineBooking(ctx context.Context, id string) error {
	return c.providerAction(ctx, id, "decline")
}

// ProviderCompleteBooking marks a booking complete as the provider.
func (c *Client) ProviderCompleteBooking(ctx context.Context, id string) error {
	return c.providerAction(ctx, id, "complete")
}

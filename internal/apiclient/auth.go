package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
)

// Credentials is the login body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the signup body.
type Registration struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// AuthResponse is returned by login and register. User is left raw for the
// session package to decode.
type AuthResponse struct {
	Token         string          `json:"token"`
	User          json.RawMessage `json:"user,omitempty"`
	RealtimeToken string          `json:"realtimeToken,omitempty"`
	GoogleTokens  json.RawMessage `json:"googleTokens,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// Login exchanges credentials for a token.
func (c *Client) Login(ctx context.Context, creds Credentials) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, "auth.login", http.MethodPost, "/auth/login", creds, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, "auth.register", http.MethodPost, "/auth/register", reg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me fetches the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "auth.me", http.MethodGet, "/auth/me", nil, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "user"), nil
}

// UpdateMe applies a partial profile update and returns the stored profile.
func (c *Client) UpdateMe(ctx context.Context, update any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "auth.update_me", http.MethodPut, "/auth/me", update, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "user"), nil
}

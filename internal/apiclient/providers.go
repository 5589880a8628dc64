package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/wolfman30/homepro-connect/internal/apierr"
)

// TimeRange is one available slot within a weekday, in "15:04" form.
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Availability maps a weekday name to its open ranges.
type Availability map[string][]TimeRange

// ListProviders returns the catalog. The backend answers with either a bare
// array or {"providers": [...]}.
func (c *Client) ListProviders(ctx context.Context) ([]json.RawMessage, error) {
	const op = "providers.list"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/providers", nil, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, "providers")
}

// MyProvider returns the provider profile of the signed-in provider.
func (c *Client) MyProvider(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "providers.me", http.MethodGet, "/providers/me", nil, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "provider"), nil
}

// UpdateMyProvider saves the signed-in provider's profile.
func (c *Client) UpdateMyProvider(ctx context.Context, update any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "providers.update_me", http.MethodPut, "/providers/me", update, &raw); err != nil {
		return nil, err
	}
	return unwrapObject(raw, "provider"), nil
}

// UploadAvatar replaces the provider's profile image and returns its URL.
func (c *Client) UploadAvatar(ctx context.Context, fileName string, r io.Reader) (string, error) {
	const op = "providers.upload_avatar"
	if r == nil {
		return "", apierr.Validation(op, "avatar file required")
	}
	body, contentType, err := multipartBody("avatar", fileName, "", r)
	if err != nil {
		return "", apierr.Validation(op, err.Error())
	}
	var resp struct {
		URL    string `json:"url"`
		Avatar string `json:"avatar"`
		Image  string `json:"image"`
	}
	if err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/providers/me/avatar", raw: body, contentType: contentType}, &resp); err != nil {
		return "", err
	}
	switch {
	case resp.URL != "":
		return resp.URL, nil
	case resp.Avatar != "":
		return resp.Avatar, nil
	default:
		return resp.Image, nil
	}
}

// Availability returns the provider's weekly schedule.
func (c *Client) Availability(ctx context.Context) (Availability, error) {
	var raw json.RawMessage
	if err := c.doJSON(ctx, "providers.availability", http.MethodGet, "/providers/me/availability", nil, &raw); err != nil {
		return nil, err
	}
	return decodeAvailability("providers.availability", raw)
}

// UpdateAvailability saves the provider's weekly schedule.
func (c *Client) UpdateAvailability(ctx context.Context, avail Availability) (Availability, error) {
	const op = "providers.update_availability"
	var raw json.RawMessage
	body := map[string]Availability{"availability": avail}
	if err := c.doJSON(ctx, op, http.MethodPut, "/providers/me/availability", body, &raw); err != nil {
		return nil, err
	}
	return decodeAvailability(op, raw)
}

func decodeAvailability(op string, raw json.RawMessage) (Availability, error) {
	if len(raw) == 0 {
		return Availability{}, nil
	}
	var wrapped struct {
		Availability Availability `json:"availability"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Availability != nil {
		return wrapped.Availability, nil
	}
	var bare Availability
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, apierr.Transport(op, fmt.Errorf("decode availability: %w", err))
	}
	return bare, nil
}

func multipartBody(field, fileName, mimeType string, r io.Reader) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	var (
		part io.Writer
		err  error
	)
	if mimeType == "" {
		part, err = writer.CreateFormFile(field, fileName)
	} else {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
		h.Set("Content-Type", mimeType)
		part, err = writer.CreatePart(h)
	}
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(part, r)
	if err != nil {
		return nil, "", fmt.Errorf("copy file: %w", err)
	}
	if n == 0 {
		return nil, "", errEmptyUpload
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/wolfman30/homepro-connect/internal/apierr"
)

// UploadResult is the response of POST /upload.
type UploadResult struct {
	Success      bool   `json:"success"`
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	MIME         string `json:"mime"`
	Message      string `json:"message,omitempty"`
}

// MessageHistory returns the stored chat log, oldest first.
func (c *Client) MessageHistory(ctx context.Context) ([]json.RawMessage, error) {
	const op = "chat.history"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/messages", nil, &raw); err != nil {
		return nil, err
	}
	return unwrapList(op, raw, "messages")
}

// Upload posts a chat attachment as multipart field "file".
func (c *Client) Upload(ctx context.Context, fileName, mimeType string, r io.Reader) (*UploadResult, error) {
	const op = "chat.upload"
	if r == nil {
		return nil, apierr.Validation(op, "file required")
	}
	body, contentType, err := multipartBody("file", fileName, mimeType, r)
	if err != nil {
		return nil, apierr.Validation(op, err.Error())
	}
	var res UploadResult
	if err := c.do(ctx, request{op: op, method: http.MethodPost, path: "/upload", raw: body, contentType: contentType}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

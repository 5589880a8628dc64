// Package attachments uploads chat files before a message references them.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/chat"
)

// File is one local file to upload.
type File struct {
	Name string
	MIME string
	Body io.Reader
}

// Uploader stores a file and returns the attachment a message can carry.
type Uploader interface {
	Upload(ctx context.Context, f File) (chat.Attachment, error)
}

// ErrRejected is returned when the backend answers an upload with success=false.
var ErrRejected = errors.New("attachments: upload rejected")

// UploadAPI is the part of the API client HTTPUploader needs.
type UploadAPI interface {
	Upload(ctx context.Context, fileName, mimeType string, r io.Reader) (*apiclient.UploadResult, error)
}

// HTTPUploader posts files to the backend's /upload endpoint.
type HTTPUploader struct {
	api UploadAPI
}

// NewHTTPUploader wraps the API client.
func NewHTTPUploader(api UploadAPI) *HTTPUploader {
	if api == nil {
		panic("attachments: upload api required")
	}
	return &HTTPUploader{api: api}
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, f File) (chat.Attachment, error) {
	res, err := u.api.Upload(ctx, f.Name, f.MIME, f.Body)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("attachments: upload %q: %w", f.Name, err)
	}
	if !res.Success || res.URL == "" {
		if res.Message != "" {
			return chat.Attachment{}, fmt.Errorf("%w: %s", ErrRejected, res.Message)
		}
		return chat.Attachment{}, ErrRejected
	}
	name := res.OriginalName
	if name == "" {
		name = f.Name
	}
	mime := res.MIME
	if mime == "" {
		mime = f.MIME
	}
	return chat.Attachment{URL: res.URL, Name: name, MIME: mime}, nil
}

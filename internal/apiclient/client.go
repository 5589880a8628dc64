// Package apiclient wraps the HomePro Connect REST API. Domain records are
// returned as raw JSON so the owning package decides how to decode them.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/observability/metrics"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

const (
	defaultBaseURL   = "http://localhost:5000/api"
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "homepro-connect-go/0.1"
	maxLoggedBody    = 300
)

// TokenSource supplies the bearer token for each request. An empty token
// means the request goes out unauthenticated.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Config controls how the client behaves.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Tokens     TokenSource
	Logger     *logging.Logger
	Metrics    *metrics.ClientMetrics
	Tracer     trace.Tracer
	UserAgent  string
}

// Client issues authenticated JSON requests against the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *logging.Logger
	metrics    *metrics.ClientMetrics
	tracer     trace.Tracer
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("homepro.internal.apiclient")
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = StaticToken("")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		metrics:    cfg.Metrics,
		tracer:     tracer,
		userAgent:  userAgent,
	}
}

// BaseURL returns the normalised API root.
func (c *Client) BaseURL() string { return c.baseURL }

// HasToken reports whether requests currently carry a bearer token.
func (c *Client) HasToken() bool { return c.tokens.Token() != "" }

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        any
	raw         []byte
	contentType string
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	return c.do(ctx, request{op: op, method: method, path: path, body: body}, out)
}

func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "apiclient."+r.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", r.method),
		attribute.String("homepro.path", r.path),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apierr.KindOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.metrics.ObserveRequest(r.op, outcome, time.Since(start))
	}()

	payload := r.raw
	contentType := r.contentType
	if r.body != nil {
		payload, err = json.Marshal(r.body)
		if err != nil {
			return apierr.Validation(r.op, fmt.Sprintf("marshal request: %v", err))
		}
		contentType = "application/json"
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.buildURL(r.path, r.query), bodyReader)
	if err != nil {
		return apierr.Transport(r.op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apierr.Transport(r.op, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Transport(r.op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > maxLoggedBody {
			msg = msg[:maxLoggedBody]
		}
		c.logger.Warn("apiclient: non-2xx response", "op", r.op, "status", resp.StatusCode, "path", r.path, "body", msg)
		return apierr.FromStatus(r.op, resp.StatusCode, serverMessage(respBody))
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apierr.Transport(r.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

// serverMessage pulls the human-readable message out of an error body. The
// backend uses both "message" and "error".
func serverMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	return strings.TrimSpace(string(body))
}

// unwrapList accepts either a bare JSON array or an object holding the array
// under key.
func unwrapList(op string, data json.RawMessage, key string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var list []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, apierr.Transport(op, fmt.Errorf("decode list: %w", err))
		}
		return list, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, apierr.Transport(op, fmt.Errorf("decode list: %w", err))
	}
	inner, ok := wrapped[key]
	if !ok {
		inner, ok = wrapped["data"]
	}
	if !ok {
		return nil, nil
	}
	if err := json.Unmarshal(inner, &list); err != nil {
		return nil, apierr.Transport(op, fmt.Errorf("decode %s: %w", key, err))
	}
	return list, nil
}

// unwrapObject returns the record under key when the response wraps it, or
// the body itself.
func unwrapObject(data json.RawMessage, key string) json.RawMessage {
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return data
	}
	if inner, ok := wrapped[key]; ok && len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return data
}

func requireID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return apierr.Validation(op, "id is required")
	}
	return nil
}

var errEmptyUpload = errors.New("empty upload body")

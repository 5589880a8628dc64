// Package realtime keeps the chat socket open for the signed-in user: it
// feeds inbound events into a chat.Timeline, sends messages and typing
// notices, and redials after unexpected disconnects.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/attachments"
	"github.com/wolfman30/homepro-connect/internal/chat"
	"github.com/wolfman30/homepro-connect/internal/observability/metrics"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

var (
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrClosed             = errors.New("realtime: channel closed")
	ErrNotConnected       = errors.New("realtime: not connected")
	ErrAckTimeout         = errors.New("realtime: ack timed out")
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second

	attachmentText = "[attachment]"
	voiceText      = "[voice message]"
)

// Credentials supplies the token presented on the handshake.
type Credentials interface {
	RealtimeCredential() string
}

// HistoryAPI loads the stored chat log.
type HistoryAPI interface {
	MessageHistory(ctx context.Context) ([]json.RawMessage, error)
}

// Config controls the channel. Zero values take the defaults.
type Config struct {
	URL               string
	Origin            string
	Room              string
	TypingRate        float64
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	ReconnectAttempts int
	AckTimeout        time.Duration
}

// SendAck is the server's acknowledgement of a sent message.
type SendAck struct {
	AckID     string
	MessageID string
	Data      json.RawMessage
}

// Option configures a Channel.
type Option func(*Channel)

// WithUploader sets where attachments are uploaded before a send.
func WithUploader(u attachments.Uploader) Option {
	return func(c *Channel) { c.uploader = u }
}

// WithHistory loads the chat log on connect and after each reconnect.
func WithHistory(h HistoryAPI) Option {
	return func(c *Channel) { c.history = h }
}

// WithMetrics records events and reconnects.
func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(c *Channel) { c.metrics = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Channel) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithJitter replaces the full-jitter function applied to backoff delays.
func WithJitter(f func(time.Duration) time.Duration) Option {
	return func(c *Channel) {
		if f != nil {
			c.jitter = f
		}
	}
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// Channel is one realtime session. It is safe for concurrent use.
type Channel struct {
	cfg      Config
	creds    Credentials
	timeline *chat.Timeline
	uploader attachments.Uploader
	history  HistoryAPI
	metrics  *metrics.ClientMetrics
	logger   *logging.Logger
	dialer   *websocket.Dialer
	jitter   func(time.Duration) time.Duration
	typing   *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool
	err     error
	pending map[string]chan ackResult

	writeMu    sync.Mutex
	done       chan struct{}
	loopDone   chan struct{}
	finishOnce sync.Once
}

// New builds a channel. It does not dial until Connect.
func New(cfg Config, creds Credentials, timeline *chat.Timeline, logger *logging.Logger, opts ...Option) *Channel {
	if creds == nil {
		panic("realtime: credentials required")
	}
	if timeline == nil {
		panic("realtime: timeline required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Room == "" {
		cfg.Room = "global"
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectBase {
		cfg.ReconnectMax = cfg.ReconnectBase
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 10
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.TypingRate > 0 {
		limit = rate.Limit(cfg.TypingRate)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		cfg:      cfg,
		creds:    creds,
		timeline: timeline,
		logger:   logger,
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout},
		jitter:   fullJitter,
		typing:   rate.NewLimiter(limit, 1),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]chan ackResult),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Timeline returns the display state the channel feeds.
func (c *Channel) Timeline() *chat.Timeline { return c.timeline }

// Connect dials the server and starts the read loop. It returns
// AuthRequired without dialing when the session holds no credential.
func (c *Channel) Connect(ctx context.Context) error {
	const op = "realtime.connect"
	cred := c.creds.RealtimeCredential()
	if cred == "" {
		return apierr.AuthRequired(op, "Please log in to use chat.")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, cred)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.started {
		closed := c.closed
		c.mu.Unlock()
		_ = conn.Close()
		if closed {
			return ErrClosed
		}
		return nil
	}
	c.started = true
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("realtime: connected", "url", c.cfg.URL, "room", c.cfg.Room)
	go c.run(conn)

	if _, err := c.History(ctx); err != nil {
		c.logger.Warn("realtime: history load failed", "error", err)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context, cred string) (*websocket.Conn, error) {
	const op = "realtime.dial"
	u, err := url.Parse(c.cfg.URL)
	if err != nil || u.Host == "" {
		return nil, apierr.Validation(op, fmt.Sprintf("invalid realtime url %q", c.cfg.URL))
	}
	q := u.Query()
	q.Set("token", cred)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred)
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apierr.FromStatus(op, resp.StatusCode, "realtime handshake rejected")
		}
		return nil, apierr.Transport(op, err)
	}
	return conn, nil
}

// run owns the read side until Close or until reconnecting gives up.
func (c *Channel) run(conn *websocket.Conn) {
	defer close(c.loopDone)
	for {
		err := c.readLoop(conn)
		_ = conn.Close()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		closed := c.closed
		c.mu.Unlock()
		c.failPending(apierr.Transport("realtime.ack", ErrNotConnected))

		if closed {
			c.finish(nil)
			return
		}
		c.logger.Warn("realtime: disconnected", "error", err)

		next, rerr := c.reconnect()
		if next == nil {
			c.finish(rerr)
			return
		}
		conn = next
		if _, err := c.History(c.ctx); err != nil {
			c.logger.Warn("realtime: history reload failed", "error", err)
		}
	}
}

// reconnect redials with exponential backoff and full jitter. A nil conn with
// a nil error means the channel was closed meanwhile.
func (c *Channel) reconnect() (*websocket.Conn, error) {
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		delay := c.jitter(backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, attempt))
		if err := sleep(c.ctx, delay); err != nil {
			return nil, nil
		}
		cred := c.creds.RealtimeCredential()
		if cred == "" {
			return nil, apierr.AuthRequired("realtime.reconnect", "session ended")
		}

		dctx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
		conn, err := c.dial(dctx, cred)
		cancel()
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				_ = conn.Close()
				return nil, nil
			}
			c.conn = conn
			c.mu.Unlock()
			c.metrics.ObserveReconnect()
			c.logger.Info("realtime: reconnected", "attempt", attempt)
			return conn, nil
		}
		if c.ctx.Err() != nil {
			return nil, nil
		}
		if apierr.KindOf(err) == apierr.KindAuthRequired {
			c.logger.Warn("realtime: handshake rejected, not retrying", "error", err)
			return nil, err
		}
		c.logger.Warn("realtime: reconnect failed", "attempt", attempt, "delay", delay, "error", err)
	}
	c.logger.Error("realtime: giving up", "attempts", c.cfg.ReconnectAttempts)
	return nil, ErrReconnectExhausted
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("realtime: malformed frame", "error", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Channel) handle(env Envelope) {
	c.metrics.ObserveRealtimeEvent("in", env.Event)
	switch env.Event {
	case EventPresence:
		names, err := decodePresence(env.Data)
		if err != nil {
			c.logger.Debug("realtime: bad presence payload", "error", err)
			return
		}
		c.timeline.ApplyPresence(names)
	case EventMessage:
		var m chat.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			c.logger.Debug("realtime: bad message payload", "error", err)
			return
		}
		c.timeline.AppendMessage(m)
		if m.ID != "" {
			if err := c.emit(EventDelivered, deliveredOut{MessageID: m.ID}, ""); err != nil {
				c.logger.Debug("realtime: delivered receipt not sent", "message_id", m.ID, "error", err)
			}
		}
	case EventTyping:
		var t typingIn
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return
		}
		c.timeline.ApplyTyping(t.Username, t.IsTyping)
	case EventStatus:
		var s statusIn
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return
		}
		c.timeline.ApplyStatus(s.ID, s.Status)
	case EventAck:
		var a ackIn
		id, data := env.Ack, env.Data
		if err := json.Unmarshal(env.Data, &a); err == nil && a.ID != "" {
			id, data = a.ID, a.Data
		}
		c.resolve(id, ackResult{data: data})
	case EventError:
		var e errorIn
		_ = json.Unmarshal(env.Data, &e)
		c.logger.Warn("realtime: server error", "message", e.Message)
	default:
		c.logger.Debug("realtime: unhandled event", "event", env.Event)
	}
}

// emit writes one frame. gorilla connections allow a single writer.
func (c *Channel) emit(event string, payload any, ack string) error {
	const op = "realtime.emit"
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return apierr.Transport(op, ErrNotConnected)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(Envelope{Event: event, Data: data, Ack: ack}); err != nil {
		return apierr.Transport(op, err)
	}
	c.metrics.ObserveRealtimeEvent("out", event)
	return nil
}

// Typing tells the room the user started or stopped typing. Start notices
// beyond the configured rate are dropped; stop notices always go out.
func (c *Channel) Typing(ctx context.Context, isTyping bool) error {
	if err := ctx.Err(); err != nil {
		return apierr.Transport("realtime.typing", err)
	}
	if isTyping && !c.typing.Allow() {
		return nil
	}
	return c.emit(EventTyping, typingOut{RoomID: c.cfg.Room, IsTyping: isTyping}, "")
}

// SendMessage uploads files, then sends text with the uploaded attachments.
// A file that fails to upload is logged and left out.
func (c *Channel) SendMessage(ctx context.Context, text string, files []attachments.File) (SendAck, error) {
	const op = "realtime.send_message"
	atts := []chat.Attachment{}
	for _, f := range files {
		if c.uploader == nil {
			c.logger.Warn("realtime: no uploader configured, dropping attachment", "file", f.Name)
			continue
		}
		a, err := c.uploader.Upload(ctx, f)
		if err != nil {
			c.logger.Warn("realtime: attachment upload failed, dropping", "file", f.Name, "error", err)
			continue
		}
		atts = append(atts, a)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		if len(atts) == 0 {
			return SendAck{}, apierr.Validation(op, "Message is empty.")
		}
		text = attachmentText
	}
	return c.send(ctx, op, text, atts)
}

// SendVoice uploads a recording and sends it as a voice message. Unlike
// SendMessage, an upload failure aborts the send.
func (c *Channel) SendVoice(ctx context.Context, f attachments.File) (SendAck, error) {
	const op = "realtime.send_voice"
	if c.uploader == nil {
		return SendAck{}, apierr.Validation(op, "uploads are not configured")
	}
	a, err := c.uploader.Upload(ctx, f)
	if err != nil {
		return SendAck{}, fmt.Errorf("realtime: voice upload: %w", err)
	}
	return c.send(ctx, op, voiceText, []chat.Attachment{a})
}

func (c *Channel) send(ctx context.Context, op, text string, atts []chat.Attachment) (SendAck, error) {
	ackID := uuid.NewString()
	ch := make(chan ackResult, 1)
	c.mu.Lock()
	c.pending[ackID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ackID)
		c.mu.Unlock()
	}()

	if err := c.emit(EventSendMessage, sendMessageOut{RoomID: c.cfg.Room, Text: text, Attachments: atts}, ackID); err != nil {
		return SendAck{}, err
	}

	timer := time.NewTimer(c.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return SendAck{AckID: ackID}, res.err
		}
		return SendAck{AckID: ackID, MessageID: ackMessageID(res.data), Data: res.data}, nil
	case <-timer.C:
		return SendAck{AckID: ackID}, apierr.Transport(op, ErrAckTimeout)
	case <-ctx.Done():
		return SendAck{AckID: ackID}, apierr.Transport(op, ctx.Err())
	case <-c.done:
		return SendAck{AckID: ackID}, apierr.Transport(op, ErrClosed)
	}
}

func ackMessageID(data json.RawMessage) string {
	var ref struct {
		ID      json.RawMessage `json:"id"`
		MongoID json.RawMessage `json:"_id"`
	}
	if json.Unmarshal(data, &ref) != nil {
		return ""
	}
	if id := apiclient.FlexibleID(ref.ID); id != "" {
		return id
	}
	return apiclient.FlexibleID(ref.MongoID)
}

func (c *Channel) resolve(id string, res ackResult) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("realtime: ack for unknown id", "ack", id)
		return
	}
	ch <- res
}

func (c *Channel) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan ackResult)
	c.mu.Unlock()
	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
}

// History loads the stored chat log into the timeline and returns how many
// messages were new.
func (c *Channel) History(ctx context.Context) (int, error) {
	if c.history == nil {
		return 0, nil
	}
	raw, err := c.history.MessageHistory(ctx)
	if err != nil {
		return 0, err
	}
	msgs := make([]chat.Message, 0, len(raw))
	for _, r := range raw {
		var m chat.Message
		if err := json.Unmarshal(r, &m); err != nil {
			c.logger.Debug("realtime: skipping undecodable history entry", "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	return c.timeline.LoadHistory(msgs), nil
}

// Connected reports whether a socket is currently open.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Done is closed when the channel stops for good.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the channel stopped: nil after Close,
// ErrReconnectExhausted, or an AuthRequired error.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) finish(err error) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("realtime: channel stopped", "error", err)
		}
		close(c.done)
	})
}

// Close stops the channel. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	if started {
		<-c.loopDone
	} else {
		c.finish(nil)
	}
	c.timeline.Close()
	return nil
}

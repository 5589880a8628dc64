// Package app wires the client components in dependency order.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/attachments"
	"github.com/wolfman30/homepro-connect/internal/bookings"
	"github.com/wolfman30/homepro-connect/internal/catalog"
	"github.com/wolfman30/homepro-connect/internal/chat"
	"github.com/wolfman30/homepro-connect/internal/config"
	"github.com/wolfman30/homepro-connect/internal/localstore"
	"github.com/wolfman30/homepro-connect/internal/notify"
	"github.com/wolfman30/homepro-connect/internal/observability/metrics"
	"github.com/wolfman30/homepro-connect/internal/realtime"
	"github.com/wolfman30/homepro-connect/internal/session"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// Option customises New.
type Option func(*options)

type options struct {
	httpClient  *http.Client
	registerer  prometheus.Registerer
	redisClient *redis.Client
	s3Client    attachments.S3API
	now         func() time.Time
	realtime    []realtime.Option
}

// WithHTTPClient replaces the HTTP client used for REST calls.
func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithRegisterer registers client metrics on reg. Metrics are only collected
// when METRICS_ENABLED is set.
func WithRegisterer(reg prometheus.Registerer) Option { return func(o *options) { o.registerer = reg } }

// WithRedisClient reuses an existing Redis client instead of dialing
// REDIS_ADDR. The caller keeps ownership of it.
func WithRedisClient(c *redis.Client) Option { return func(o *options) { o.redisClient = c } }

// WithS3Client replaces the S3 client built from the AWS config.
func WithS3Client(c attachments.S3API) Option { return func(o *options) { o.s3Client = c } }

// WithClock sets the reminder clock.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithRealtimeOptions passes extra options to the chat channel.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *options) { o.realtime = append(o.realtime, opts...) }
}

// App holds every component for one signed-in user.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Local     localstore.Store
	Session   *session.Store
	API       *apiclient.Client
	Catalog   *catalog.Catalog
	Bookings  *bookings.Repository
	Reminders *notify.ReminderNotifier
	Uploader  attachments.Uploader
	Metrics   *metrics.ClientMetrics

	realtimeOpts []realtime.Option
	redis        *redis.Client
	ownsRedis    bool

	mu     sync.Mutex
	chat   *realtime.Channel
	closed bool
}

// New builds the components and restores any saved session.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{Config: cfg, Logger: logger, realtimeOpts: o.realtime}

	if cfg.MetricsEnabled {
		reg := o.registerer
		if reg == nil {
			reg = prometheus.NewRegistry()
		}
		a.Metrics = metrics.NewClientMetrics(reg)
	}

	a.redis = o.redisClient
	needsRedis := cfg.StateBackend == config.StateBackendRedis
	if a.redis == nil && needsRedis {
		client, err := BuildRedisClient(ctx, cfg, logger, true)
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.ownsRedis = true
	}

	local, err := BuildLocalStore(cfg, a.redis)
	if err != nil {
		a.closeRedis()
		return nil, err
	}
	a.Local = local

	a.Session = session.New(local, nil, logger)
	a.API = apiclient.New(apiclient.Config{
		BaseURL:    cfg.APIBaseURL,
		HTTPClient: o.httpClient,
		Timeout:    cfg.HTTPTimeout,
		Tokens:     a.Session,
		Logger:     logger,
		Metrics:    a.Metrics,
	})
	a.Session.SetAuthenticator(a.API)
	if err := a.Session.Restore(ctx); err != nil {
		logger.Warn("app: session restore failed", "error", err)
	}

	a.Catalog = catalog.New(a.API, logger)

	a.Reminders = notify.NewReminderNotifier(a.API, logger, notify.Config{
		Window:  cfg.ReminderWindow,
		Policy:  notify.Policy(cfg.ReminderPolicy),
		Ledger:  BuildReminderLedger(cfg, a.redis, local),
		Now:     o.now,
		Metrics: a.Metrics,
	})
	a.Bookings = bookings.NewRepository(a.API, a.Session, logger,
		bookings.WithReloadHook(a.Reminders.OnReload),
		bookings.WithMetrics(a.Metrics),
	)

	a.Uploader, err = BuildUploader(ctx, cfg, a.API, o.s3Client, logger)
	if err != nil {
		a.closeRedis()
		return nil, err
	}

	logger.Info("app: ready",
		"api", a.API.BaseURL(),
		"state_backend", cfg.StateBackend,
		"signed_in", a.Session.IsLoggedIn(),
	)
	return a, nil
}

// Chat returns the connected realtime channel, dialing on first use. A
// channel that stopped for good is replaced on the next call.
func (a *App) Chat(ctx context.Context) (*realtime.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, realtime.ErrClosed
	}
	if a.chat != nil {
		select {
		case <-a.chat.Done():
			a.chat = nil
		default:
			return a.chat, nil
		}
	}

	me := a.Session.User().Name
	if me == "" {
		me = a.Session.User().Email
	}
	timeline := chat.NewTimeline(me, chat.WithTypingTTL(a.Config.RealtimeTypingTTL))
	opts := []realtime.Option{
		realtime.WithUploader(a.Uploader),
		realtime.WithHistory(a.API),
		realtime.WithMetrics(a.Metrics),
	}
	opts = append(opts, a.realtimeOpts...)
	ch := realtime.New(realtime.Config{
		URL:               a.Config.RealtimeURL,
		Origin:            a.Config.Origin,
		Room:              a.Config.RealtimeRoom,
		TypingRate:        a.Config.RealtimeTypingRate,
		ReconnectBase:     a.Config.RealtimeReconnectBase,
		ReconnectMax:      a.Config.RealtimeReconnectMax,
		ReconnectAttempts: a.Config.RealtimeReconnectAttempts,
		AckTimeout:        a.Config.RealtimeAckTimeout,
	}, a.Session, timeline, a.Logger, opts...)
	if err := ch.Connect(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}
	a.chat = ch
	return ch, nil
}

// Close shuts the chat channel, waits for reminder sends and releases Redis.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	ch := a.chat
	a.chat = nil
	a.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	a.Reminders.Wait()
	return a.closeRedis()
}

func (a *App) closeRedis() error {
	if a.redis == nil || !a.ownsRedis {
		return nil
	}
	err := a.redis.Close()
	a.redis = nil
	return err
}

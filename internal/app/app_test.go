package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/bookings"
	"github.com/wolfman30/homepro-connect/internal/catalog"
	"github.com/wolfman30/homepro-connect/internal/chat"
	"github.com/wolfman30/homepro-connect/internal/config"
	"github.com/wolfman30/homepro-connect/internal/fakebackend"
	"github.com/wolfman30/homepro-connect/internal/realtime"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

type env struct {
	fb  *fakebackend.Server
	srv *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fb := fakebackend.New(logging.Discard())
	fb.AddUser(fakebackend.User{Name: "casey", Email: "casey@example.com", Password: "pw"})
	fb.AddUser(fakebackend.User{Name: "volt", Email: "volt@example.com", Password: "pw", Role: "provider", ProviderID: "p1"})
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return &env{fb: fb, srv: srv}
}

func (e *env) config() *config.Config {
	return &config.Config{
		APIBaseURL:                e.srv.URL + "/api",
		RealtimeURL:               "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws",
		Origin:                    e.srv.URL,
		HTTPTimeout:               5 * time.Second,
		StateBackend:              config.StateBackendMemory,
		StateKeyPrefix:            "homepro:",
		ReminderWindow:            24 * time.Hour,
		ReminderPolicy:            config.ReminderPolicyEveryReload,
		RealtimeRoom:              "global",
		RealtimeTypingTTL:         2500 * time.Millisecond,
		RealtimeTypingRate:        2,
		RealtimeReconnectBase:     5 * time.Millisecond,
		RealtimeReconnectMax:      50 * time.Millisecond,
		RealtimeReconnectAttempts: 3,
		RealtimeAckTimeout:        2 * time.Second,
		UploadBackend:             config.UploadBackendHTTP,
	}
}

func (e *env) app(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logging.Discard(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func localWhen(d time.Duration) string {
	return time.Now().Add(d).Format("2006-01-02T15:04")
}

func TestCreateAcceptLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	customer := e.app(t, e.config())
	_, err := customer.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)

	created, err := customer.Bookings.Create(ctx, bookings.CreateRequest{
		ProviderID:   "p1",
		ProviderName: "Volt Brothers",
		Service:      "Panel Upgrade",
		When:         localWhen(72 * time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	snap := customer.Bookings.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, bookings.StatusPending, snap[0].Status)

	provider := e.app(t, e.config())
	_, err = provider.Session.Login(ctx, "volt@example.com", "pw")
	require.NoError(t, err)
	list, err := provider.Bookings.List(ctx, bookings.Filter{Status: bookings.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Contains(t, list[0].Actions("provider"), bookings.ActionAccept)

	require.NoError(t, provider.Bookings.Accept(ctx, created.ID))
	assert.Equal(t, 1, e.fb.Calls("PUT /api/providers/bookings/"+created.ID+"/accept"))

	list, err = customer.Bookings.List(ctx, bookings.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, bookings.StatusScheduled, list[0].Status)
}

func TestCreateWithoutWhenMakesNoRequest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.app(t, e.config())
	_, err := a.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)
	before := e.fb.TotalCalls()

	_, err = a.Bookings.Create(ctx, bookings.CreateRequest{ProviderID: "p1", Service: "Panel Upgrade"})
	assert.Equal(t, apierr.KindValidation, apierr.KindOf(err))
	assert.Equal(t, before, e.fb.TotalCalls())
}

func TestCreateWhileSignedOutMakesNoRequest(t *testing.T) {
	e := newEnv(t)
	a := e.app(t, e.config())

	_, err := a.Bookings.Create(context.Background(), bookings.CreateRequest{ProviderID: "p1", When: localWhen(time.Hour)})
	assert.Equal(t, apierr.KindAuthRequired, apierr.KindOf(err))
	assert.Zero(t, e.fb.TotalCalls())
}

func TestCatalogFallsBackWhenBackendFails(t *testing.T) {
	e := newEnv(t)
	e.fb.Fail("GET /api/providers", http.StatusInternalServerError, "db down")
	a := e.app(t, e.config())

	providers := a.Catalog.Load(context.Background())
	assert.Len(t, providers, 6)
	assert.True(t, a.Catalog.FromFallback())

	var values []string
	for _, c := range a.Catalog.Categories() {
		values = append(values, c.Value)
	}
	assert.Len(t, values, 6)
	assert.Contains(t, values, "Electrician")
	assert.Empty(t, a.Catalog.Render(catalog.Criteria{Query: "no such thing"}).Cards)
}

func TestCatalogFromBackend(t *testing.T) {
	e := newEnv(t)
	a := e.app(t, e.config())

	providers := a.Catalog.Load(context.Background())
	require.Len(t, providers, 3)
	assert.False(t, a.Catalog.FromFallback())
	assert.Equal(t, []string{"p2"}, ids(a.Catalog.Filter(catalog.Criteria{Category: "plumber"})))
}

func ids(ps []catalog.Provider) []string {
	var out []string
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestEveryReloadRemindsAgain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.app(t, e.config())
	_, err := a.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)

	e.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", ProviderName: "Sparkle Home", CustomerEmail: "casey@example.com",
		Service: "Deep Cleaning", When: localWhen(2 * time.Hour), Status: "scheduled",
	})
	e.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p1", ProviderName: "Volt Brothers", CustomerEmail: "casey@example.com",
		Service: "Panel Upgrade", When: localWhen(72 * time.Hour), Status: "scheduled",
	})

	_, err = a.Bookings.List(ctx, bookings.Filter{})
	require.NoError(t, err)
	_, err = a.Bookings.List(ctx, bookings.Filter{})
	require.NoError(t, err)
	a.Reminders.Wait()

	reminders := e.fb.Reminders()
	require.Len(t, reminders, 2)
	for _, r := range reminders {
		assert.Equal(t, "casey@example.com", r.Email)
		assert.Equal(t, "Deep Cleaning", r.Service)
		assert.Equal(t, "Sparkle Home", r.Provider)
	}
}

func TestOncePerBookingPolicySharesRedisLedger(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := e.config()
	cfg.StateBackend = config.StateBackendRedis
	cfg.ReminderPolicy = config.ReminderPolicyOncePerBooking
	a := e.app(t, cfg, WithRedisClient(client))
	_, err := a.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)

	e.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", CustomerEmail: "casey@example.com", Service: "Deep Cleaning",
		When: localWhen(2 * time.Hour), Status: "scheduled",
	})
	for i := 0; i < 3; i++ {
		_, err = a.Bookings.List(ctx, bookings.Filter{})
		require.NoError(t, err)
	}
	a.Reminders.Wait()
	assert.Len(t, e.fb.Reminders(), 1)

	restored := e.app(t, cfg, WithRedisClient(client))
	assert.True(t, restored.Session.IsLoggedIn())
	assert.Equal(t, "casey@example.com", restored.Session.User().Email)
}

func TestOncePerBookingPersistsInStateFile(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config()
	cfg.StateBackend = config.StateBackendFile
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	cfg.ReminderPolicy = config.ReminderPolicyOncePerBooking

	e.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", CustomerEmail: "casey@example.com", Service: "Deep Cleaning",
		When: localWhen(2 * time.Hour), Status: "scheduled",
	})

	first := e.app(t, cfg)
	_, err := first.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)
	_, err = first.Bookings.List(ctx, bookings.Filter{})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := e.app(t, cfg)
	require.True(t, second.Session.IsLoggedIn())
	_, err = second.Bookings.List(ctx, bookings.Filter{})
	require.NoError(t, err)
	second.Reminders.Wait()

	assert.Len(t, e.fb.Reminders(), 1)
}

func TestChatWithoutNameUsesEmail(t *testing.T) {
	e := newEnv(t)
	e.fb.AddUser(fakebackend.User{Email: "anon@example.com", Password: "pw"})
	ctx := context.Background()
	a := e.app(t, e.config())
	_, err := a.Session.Login(ctx, "anon@example.com", "pw")
	require.NoError(t, err)
	require.Empty(t, a.Session.User().Name)

	ch, err := a.Chat(ctx)
	require.NoError(t, err)
	ack, err := ch.SendMessage(ctx, "hello", nil)
	require.NoError(t, err)

	tl := ch.Timeline()
	assert.Eventually(t, func() bool {
		got, ok := tl.Message(ack.MessageID)
		return ok && tl.Mine(got)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatMessageThenStatusUpdatesInPlace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cfg := e.config()
	cfg.MetricsEnabled = true
	a := e.app(t, cfg, WithRegisterer(prometheus.NewRegistry()))

	_, err := a.Chat(ctx)
	assert.Equal(t, apierr.KindAuthRequired, apierr.KindOf(err))
	assert.Zero(t, e.fb.Calls("GET /ws"))

	_, err = a.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)
	ch, err := a.Chat(ctx)
	require.NoError(t, err)
	again, err := a.Chat(ctx)
	require.NoError(t, err)
	assert.Same(t, ch, again)

	m := e.fb.Hub().Post("sam", "on my way")
	tl := ch.Timeline()
	assert.Eventually(t, func() bool {
		got, ok := tl.Message(m.ID)
		return ok && got.Status == chat.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	e.fb.Hub().SetStatus(m.ID, "read")
	assert.Eventually(t, func() bool {
		got, _ := tl.Message(m.ID)
		return got.Status == chat.StatusRead
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, tl.Messages(), 1)
	assert.False(t, tl.Mine(tl.Messages()[0]))

	ack, err := ch.SendMessage(ctx, "see you soon", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		got, ok := tl.Message(ack.MessageID)
		return ok && tl.Mine(got)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsChat(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, err := New(ctx, e.config(), logging.Discard())
	require.NoError(t, err)
	_, err = a.Session.Login(ctx, "casey@example.com", "pw")
	require.NoError(t, err)
	ch, err := a.Chat(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	<-ch.Done()
	_, err = a.Chat(ctx)
	assert.ErrorIs(t, err, realtime.ErrClosed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	e := newEnv(t)
	cfg := e.config()
	cfg.UploadBackend = config.UploadBackendS3
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorContains(t, err, "S3_BUCKET")
}

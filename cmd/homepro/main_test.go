package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homepro-connect/internal/config"
	"github.com/wolfman30/homepro-connect/internal/fakebackend"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

type harness struct {
	fb        *fakebackend.Server
	srv       *httptest.Server
	stateFile string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fb := fakebackend.New(logging.Discard())
	fb.AddUser(fakebackend.User{Name: "casey", Email: "casey@example.com", Password: "pw"})
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	return &harness{fb: fb, srv: srv, stateFile: filepath.Join(t.TempDir(), "state.json")}
}

func (h *harness) config() *config.Config {
	return &config.Config{
		APIBaseURL:                h.srv.URL + "/api",
		RealtimeURL:               "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws",
		Origin:                    h.srv.URL,
		LogLevel:                  "error",
		LogFormat:                 "text",
		HTTPTimeout:               5 * time.Second,
		StateBackend:              config.StateBackendFile,
		StateFile:                 h.stateFile,
		ReminderWindow:            24 * time.Hour,
		ReminderPolicy:            config.ReminderPolicyEveryReload,
		RealtimeRoom:              "global",
		RealtimeTypingRate:        2,
		RealtimeReconnectBase:     5 * time.Millisecond,
		RealtimeReconnectMax:      20 * time.Millisecond,
		RealtimeReconnectAttempts: 1,
		RealtimeAckTimeout:        time.Second,
		UploadBackend:             config.UploadBackendHTTP,
	}
}

type result struct {
	code   int
	stdout string
	stderr string
}

func (h *harness) run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut, h.config())
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "", "frobnicate")
	assert.Equal(t, 2, res.code)
	assert.Contains(t, res.stderr, `unknown command "frobnicate"`)
	assert.Zero(t, h.fb.TotalCalls())
}

func TestHelpListsCommands(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "", "help")
	assert.Equal(t, 0, res.code)
	for _, name := range commandOrder {
		assert.Contains(t, res.stdout, name)
	}
}

func TestLoginPersistsAcrossRuns(t *testing.T) {
	h := newHarness(t)

	res := h.run(t, "", "login", "-email", "casey@example.com", "-password", "pw")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Signed in as casey")

	when := time.Now().Add(48 * time.Hour).Format("2006-01-02T15:04")
	res = h.run(t, "", "book", "-provider", "p1", "-when", when, "-notes", "side door")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "(pending)")

	res = h.run(t, "", "bookings")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Panel Upgrade")
	assert.Contains(t, res.stdout, "Volt Brothers")
	assert.Contains(t, res.stdout, "[delete]")
}

func TestBadLoginPrintsServerMessage(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "", "login", "-email", "casey@example.com", "-password", "nope")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Invalid email or password")
}

func TestSignedOutBookingAsksForLogin(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "", "book", "-provider", "p1", "-when", "2030-01-01T10:00")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Please log in to continue.")
	assert.Zero(t, h.fb.Calls("POST /api/bookings"))
}

func TestDeleteRefusedKeepsBooking(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.run(t, "", "login", "-email", "casey@example.com", "-password", "pw").code)
	b := h.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", CustomerEmail: "casey@example.com", Service: "Deep Cleaning",
		When: "2030-01-01T10:00", Status: "scheduled",
	})

	res := h.run(t, "n\n", "delete", b.ID)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Kept booking")
	assert.Zero(t, h.fb.Calls("DELETE /api/bookings/"+b.ID))

	res = h.run(t, "", "delete", "-yes", b.ID)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, 1, h.fb.Calls("DELETE /api/bookings/"+b.ID))
}

func TestProvidersFallbackNotice(t *testing.T) {
	h := newHarness(t)
	h.fb.Fail("GET /api/providers", http.StatusBadGateway, "upstream")

	res := h.run(t, "", "providers", "-category", "Plumber")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "sample providers")
	assert.NotEmpty(t, strings.TrimSpace(res.stdout))
}

func TestThemeRoundTrip(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, 0, h.run(t, "", "theme", "dark").code)
	res := h.run(t, "", "theme")
	assert.Equal(t, "dark\n", res.stdout)

	res = h.run(t, "", "theme", "purple")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "light or dark")
}

func (h *harness) login(t *testing.T, email string) {
	t.Helper()
	res := h.run(t, "", "login", "-email", email, "-password", "pw")
	require.Equal(t, 0, res.code, res.stderr)
}

func TestShowBooking(t *testing.T) {
	h := newHarness(t)
	h.login(t, "casey@example.com")
	b := h.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p1", ProviderName: "Volt Brothers", CustomerEmail: "casey@example.com",
		Service: "Panel Upgrade", When: "2030-01-01T10:00", Notes: "gate code 42", Status: "scheduled",
	})

	res := h.run(t, "", "show", b.ID)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Panel Upgrade")
	assert.Contains(t, res.stdout, "notes: gate code 42")
	assert.Equal(t, 1, h.fb.Calls("GET /api/bookings/"+b.ID))

	res = h.run(t, "", "show", "missing")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Booking not found")
}

func TestRemindSendsNowAndReportsFailure(t *testing.T) {
	h := newHarness(t)
	h.login(t, "casey@example.com")
	b := h.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", ProviderName: "Sparkle Co", CustomerEmail: "casey@example.com",
		Service: "Deep Cleaning", When: "2030-01-01T10:00", Status: "scheduled",
	})

	res := h.run(t, "", "remind", b.ID)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Reminder sent for Deep Cleaning")
	sent := h.fb.Reminders()
	require.Len(t, sent, 1)
	assert.Equal(t, "casey@example.com", sent[0].Email)
	assert.Equal(t, "Deep Cleaning", sent[0].Service)

	h.fb.Fail("POST /api/bookings/remind", http.StatusBadRequest, "Reminder already sent")
	res = h.run(t, "", "remind", b.ID)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Reminder already sent")
	assert.Len(t, h.fb.Reminders(), 1)
}

func TestRemindSignedOut(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "", "remind", "b1")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Please log in to continue.")
	assert.Zero(t, h.fb.Calls("GET /api/bookings/b1"))
	assert.Zero(t, h.fb.Calls("POST /api/bookings/remind"))
}

func TestAdminViews(t *testing.T) {
	h := newHarness(t)
	h.fb.AddUser(fakebackend.User{Name: "root", Email: "admin@example.com", Password: "pw", Role: "admin"})
	h.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p1", ProviderName: "Volt Brothers", CustomerEmail: "casey@example.com",
		Service: "Panel Upgrade", When: "2030-01-01T10:00", Status: "pending",
	})
	h.fb.PutBooking(fakebackend.Booking{
		ProviderID: "p3", ProviderName: "Sparkle Co", CustomerEmail: "casey@example.com",
		Service: "Deep Cleaning", When: "2030-01-02T10:00", Status: "completed",
	})
	h.login(t, "admin@example.com")

	res := h.run(t, "", "admin", "stats")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "bookings   2")
	assert.Contains(t, res.stdout, "pendingBookings")

	res = h.run(t, "", "admin", "users")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "casey@example.com")
	assert.Contains(t, res.stdout, "admin@example.com")

	res = h.run(t, "", "admin", "providers")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Volt Brothers")
	assert.Equal(t, 1, h.fb.Calls("GET /api/admin/providers"))

	res = h.run(t, "", "admin", "bookings", "-status", "pending")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Panel Upgrade")
	assert.NotContains(t, res.stdout, "Deep Cleaning")

	res = h.run(t, "", "admin", "reboot")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "stats|users|providers|bookings")
}

func TestAdminViewsRefusedForCustomers(t *testing.T) {
	h := newHarness(t)
	h.login(t, "casey@example.com")
	res := h.run(t, "", "admin", "users")
	assert.Equal(t, 1, res.code)
	assert.Equal(t, 1, h.fb.Calls("GET /api/admin/users"))
}

func TestProviderTools(t *testing.T) {
	h := newHarness(t)
	h.fb.AddUser(fakebackend.User{Name: "Volt", Email: "volt@example.com", Password: "pw", Role: "provider", ProviderID: "p1"})
	h.login(t, "volt@example.com")

	res := h.run(t, "", "provider", "profile")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Volt Brothers")

	res = h.run(t, "", "provider", "profile", "-set", `{"price":"95"}`)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, `"price": "95"`)
	assert.Equal(t, 1, h.fb.Calls("PUT /api/providers/me"))

	res = h.run(t, "", "provider", "profile", "-set", "not json")
	assert.Equal(t, 1, res.code)
	assert.Equal(t, 1, h.fb.Calls("PUT /api/providers/me"))

	avatar := filepath.Join(t.TempDir(), "me.png")
	require.NoError(t, os.WriteFile(avatar, []byte("\x89PNG"), 0o600))
	res = h.run(t, "", "provider", "avatar", avatar)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "Avatar: /uploads/")
	assert.Contains(t, res.stdout, "me.png")

	res = h.run(t, "", "provider", "availability")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "No availability set.")

	res = h.run(t, "", "provider", "availability", "-set", `{"mon":[{"from":"09:00","to":"12:00"},{"from":"13:00","to":"17:00"}]}`)
	require.Equal(t, 0, res.code, res.stderr)
	res = h.run(t, "", "provider", "availability")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "mon  09:00-12:00, 13:00-17:00")
}

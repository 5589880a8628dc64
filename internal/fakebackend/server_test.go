package fakebackend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/homepro-connect/pkg/logging"
)

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestLoginAndProtectedRoutes(t *testing.T) {
	fb := New(logging.Discard())
	fb.AddUser(User{Name: "Casey", Email: "casey@example.com", Password: "pw"})
	srv := httptest.NewServer(fb)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodGet, "/api/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "casey@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid email or password", body["message"])

	resp, body = do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "casey@example.com", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	resp, _ = do(t, srv, http.MethodGet, "/api/bookings", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodGet, "/api/admin/stats", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 2, fb.Calls("POST /api/auth/login"))
	assert.Equal(t, 2, fb.Calls("GET /api/bookings"))
}

func TestBookingLifecycle(t *testing.T) {
	fb := New(logging.Discard())
	customer := fb.AddUser(User{Name: "Casey", Email: "casey@example.com"})
	provider := fb.AddUser(User{Name: "Volt", Email: "volt@example.com", Role: "provider", ProviderID: "p1"})
	srv := httptest.NewServer(fb)
	defer srv.Close()

	resp, body := do(t, srv, http.MethodPost, "/api/bookings", fb.Token(customer), map[string]any{
		"providerId": "p1", "service": "Panel Upgrade", "when": "2030-05-01T10:00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := body["booking"].(map[string]any)["_id"].(string)

	resp, _ = do(t, srv, http.MethodPut, "/api/providers/bookings/"+id+"/accept", fb.Token(provider), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, ok := fb.Booking(id)
	require.True(t, ok)
	assert.Equal(t, "scheduled", b.Status)
	assert.Equal(t, "casey@example.com", b.CustomerEmail)

	resp, _ = do(t, srv, http.MethodPut, "/api/providers/bookings/missing/accept", fb.Token(provider), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFailureInjection(t *testing.T) {
	fb := New(logging.Discard())
	srv := httptest.NewServer(fb)
	defer srv.Close()

	fb.FailNext("GET /api/providers", http.StatusInternalServerError, "boom")
	resp, body := do(t, srv, http.MethodGet, "/api/providers", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", body["message"])

	resp, _ = do(t, srv, http.MethodGet, "/api/providers", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fb.Fail("GET /api/providers", http.StatusBadGateway, "down")
	for i := 0; i < 2; i++ {
		resp, _ = do(t, srv, http.MethodGet, "/api/providers", "", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	fb.Heal("GET /api/providers")
	resp, _ = do(t, srv, http.MethodGet, "/api/providers", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5, fb.TotalCalls())
}

func TestHubRoundTrip(t *testing.T) {
	fb := New(logging.Discard())
	u := fb.AddUser(User{Name: "Casey", Email: "casey@example.com"})
	srv := httptest.NewServer(fb)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + fb.Token(u)
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	require.NoError(t, err)
	defer conn.Close()

	var env Envelope
	require.NoError(t, websocket.JSON.Receive(conn, &env))
	assert.Equal(t, "presence", env.Event)
	assert.JSONEq(t, `["Casey"]`, string(env.Data))

	require.NoError(t, websocket.JSON.Send(conn, Envelope{Event: "sendMessage", Ack: "a1", Data: json.RawMessage(`{"roomId":"global","text":"hi"}`)}))

	seen := map[string]Envelope{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(seen) < 2 {
		var got Envelope
		require.NoError(t, websocket.JSON.Receive(conn, &got))
		seen[got.Event] = got
	}
	assert.Equal(t, "a1", seen["ack"].Ack)
	var m Message
	require.NoError(t, json.Unmarshal(seen["message"].Data, &m))
	assert.Equal(t, "hi", m.Text)
	assert.Equal(t, "Casey", m.From)

	require.NoError(t, websocket.JSON.Send(conn, Envelope{Event: "delivered", Data: mustJSON(map[string]string{"messageId": m.ID})}))
	var status Envelope
	require.NoError(t, websocket.JSON.Receive(conn, &status))
	assert.Equal(t, "status", status.Event)
	assert.Equal(t, "delivered", fb.Hub().Messages()[0].Status)
}

func TestHubRejectsBadToken(t *testing.T) {
	fb := New(logging.Discard())
	srv := httptest.NewServer(fb)
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodGet, "/ws?token=bogus", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

package fakebackend

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// Envelope is the realtime frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Attachment mirrors the chat attachment payload.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	MIME string `json:"mime"`
}

// Message is a stored chat message.
type Message struct {
	ID          string       `json:"_id"`
	From        string       `json:"from"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   string       `json:"createdAt"`
	Status      string       `json:"status"`
}

// Inbound is one frame a client sent, recorded for assertions.
type Inbound struct {
	User  string
	Event string
	Data  json.RawMessage
	Ack   string
}

type hubClient struct {
	conn *websocket.Conn
	user User
	mu   sync.Mutex
}

func (c *hubClient) send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.conn, env)
}

// Hub is the realtime endpoint. Clients authenticate with a bearer header or
// a token query parameter.
type Hub struct {
	srv *Server

	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	messages []*Message
	inbound  []Inbound
	down     bool
	accepted int
}

func newHub(srv *Server) *Hub {
	return &Hub{srv: srv, clients: make(map[*hubClient]struct{})}
}

// SetDown makes new handshakes fail with 503 until cleared.
func (h *Hub) SetDown(down bool) {
	h.mu.Lock()
	h.down = down
	h.mu.Unlock()
}

// Accepted returns how many connections were upgraded.
func (h *Hub) Accepted() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

// ServeHTTP authenticates and upgrades the request.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	down := h.down
	h.mu.Unlock()
	if down {
		jsonError(w, "realtime unavailable", http.StatusServiceUnavailable)
		return
	}
	token := bearer(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	u, ok := h.srv.userForToken(token)
	if !ok {
		jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	// websocket.Server without a Handshake skips the Origin check.
	websocket.Server{Handler: func(conn *websocket.Conn) {
		h.serve(conn, u)
	}}.ServeHTTP(w, r)
}

func (h *Hub) serve(conn *websocket.Conn, u User) {
	c := &hubClient{conn: conn, user: u}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.accepted++
	h.mu.Unlock()
	h.srv.logger.Debug("fakebackend: realtime connected", "user", u.Username())
	h.broadcastPresence()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close()
		h.broadcastPresence()
	}()

	for {
		var env Envelope
		if err := websocket.JSON.Receive(conn, &env); err != nil {
			h.srv.logger.Debug("fakebackend: realtime closed", "user", u.Username(), "error", err)
			return
		}
		h.mu.Lock()
		h.inbound = append(h.inbound, Inbound{User: u.Username(), Event: env.Event, Data: env.Data, Ack: env.Ack})
		h.mu.Unlock()
		h.dispatch(c, env)
	}
}

func (h *Hub) dispatch(c *hubClient, env Envelope) {
	switch env.Event {
	case "typing":
		var in struct {
			RoomID   string `json:"roomId"`
			IsTyping bool   `json:"isTyping"`
		}
		if json.Unmarshal(env.Data, &in) != nil {
			return
		}
		h.broadcast(Envelope{Event: "typing", Data: mustJSON(map[string]any{
			"username": c.user.Username(), "isTyping": in.IsTyping,
		})}, c)
	case "sendMessage":
		var in struct {
			RoomID      string       `json:"roomId"`
			Text        string       `json:"text"`
			Attachments []Attachment `json:"attachments"`
		}
		if json.Unmarshal(env.Data, &in) != nil {
			_ = c.send(Envelope{Event: "error", Data: mustJSON(map[string]string{"message": "bad message"})})
			return
		}
		m := h.store(c.user.Username(), in.Text, in.Attachments)
		if env.Ack != "" {
			_ = c.send(Envelope{Event: "ack", Ack: env.Ack, Data: mustJSON(map[string]any{"id": env.Ack, "data": m})})
		}
		h.broadcast(Envelope{Event: "message", Data: mustJSON(m)}, nil)
	case "delivered":
		var in struct {
			MessageID string `json:"messageId"`
		}
		if json.Unmarshal(env.Data, &in) == nil {
			h.SetStatus(in.MessageID, "delivered")
		}
	case "read":
		var in struct {
			MessageID string `json:"messageId"`
		}
		if json.Unmarshal(env.Data, &in) == nil {
			h.SetStatus(in.MessageID, "read")
		}
	}
}

func (h *Hub) store(from, text string, atts []Attachment) Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.srv.mu.Lock()
	id := "m" + h.srv.newIDLocked()
	h.srv.mu.Unlock()
	m := &Message{
		ID:          id,
		From:        from,
		Text:        text,
		Attachments: atts,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Status:      "sent",
	}
	h.messages = append(h.messages, m)
	return *m
}

// Post stores a message from a user that is not connected and broadcasts it.
func (h *Hub) Post(from, text string) Message {
	m := h.store(from, text, nil)
	h.broadcast(Envelope{Event: "message", Data: mustJSON(m)}, nil)
	return m
}

// SetStatus advances a stored message and broadcasts the change. Moves
// backwards are ignored.
func (h *Hub) SetStatus(id, status string) {
	rank := map[string]int{"sent": 1, "delivered": 2, "read": 3}
	h.mu.Lock()
	var changed bool
	for _, m := range h.messages {
		if m.ID == id && rank[status] > rank[m.Status] {
			m.Status = status
			changed = true
		}
	}
	h.mu.Unlock()
	if changed {
		h.broadcast(Envelope{Event: "status", Data: mustJSON(map[string]string{"id": id, "status": status})}, nil)
	}
}

// Broadcast sends a raw event to every connected client.
func (h *Hub) Broadcast(event string, data any) {
	h.broadcast(Envelope{Event: event, Data: mustJSON(data)}, nil)
}

// DropAll closes every live connection, as a server restart would.
func (h *Hub) DropAll() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// Online returns the names of connected users.
func (h *Hub) Online() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.clients))
	for c := range h.clients {
		names = append(names, c.user.Username())
	}
	return names
}

// Messages returns the stored chat log, oldest first.
func (h *Hub) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, 0, len(h.messages))
	for _, m := range h.messages {
		out = append(out, *m)
	}
	return out
}

// Inbound returns every frame received with the given event name.
func (h *Hub) Inbound(event string) []Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Inbound
	for _, in := range h.inbound {
		if in.Event == event {
			out = append(out, in)
		}
	}
	return out
}

func (h *Hub) broadcastPresence() {
	h.broadcast(Envelope{Event: "presence", Data: mustJSON(h.Online())}, nil)
}

func (h *Hub) broadcast(env Envelope, except *hubClient) {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c != except {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		if err := c.send(env); err != nil {
			h.srv.logger.Debug("fakebackend: realtime send failed", "user", c.user.Username(), "error", err)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic("fakebackend: marshal " + strconv.Quote(err.Error()))
	}
	return b
}

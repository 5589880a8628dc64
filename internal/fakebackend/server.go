// Package fakebackend is an in-process HomePro backend for tests. It serves
// the REST routes and the realtime socket from memory, counts calls per route
// and can be told to fail a route.
package fakebackend

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// User is an account the fake backend can sign in.
type User struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	ProviderID string `json:"providerId,omitempty"`
	Password   string `json:"-"`
}

// Username is how the user appears in chat: the name, or the email when no
// name was given.
func (u User) Username() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Booking is the stored record, serialised the way the real backend does.
type Booking struct {
	ID            string `json:"_id"`
	ProviderID    string `json:"providerId"`
	ProviderName  string `json:"providerName"`
	CustomerID    string `json:"customerId,omitempty"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	Service       string `json:"service"`
	When          string `json:"when"`
	Notes         string `json:"notes,omitempty"`
	Duration      int    `json:"duration,omitempty"`
	CalendarSync  bool   `json:"calendarSync"`
	Status        string `json:"status"`
}

// Reminder is one accepted POST /bookings/remind body.
type Reminder struct {
	Email    string `json:"email"`
	Service  string `json:"service"`
	Provider string `json:"provider"`
	When     string `json:"when"`
}

// Notification is one feed entry.
type Notification struct {
	ID        string `json:"_id"`
	UserID    string `json:"-"`
	Message   string `json:"message"`
	Type      string `json:"type,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

type failure struct {
	status    int
	message   string
	remaining int // -1 means until Heal
}

// Server holds all fake state. It is safe for concurrent use.
type Server struct {
	router chi.Router
	secret []byte
	logger *logging.Logger
	hub    *Hub

	mu            sync.Mutex
	nextID        int
	users         map[string]*User // by id
	providers     []json.RawMessage
	bookings      map[string]*Booking
	order         []string
	reminders     []Reminder
	notifications []*Notification
	availability  map[string]json.RawMessage
	uploads       map[string][]byte
	calls         map[string]int
	log           []string
	failures      map[string]*failure
}

// New builds a fake backend with the default provider list and no users.
func New(logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		secret:        []byte("fakebackend-secret"),
		logger:        logger,
		users:         make(map[string]*User),
		bookings:      make(map[string]*Booking),
		availability:  make(map[string]json.RawMessage),
		uploads:       make(map[string][]byte),
		calls:         make(map[string]int),
		failures:      make(map[string]*failure),
		providers:     defaultProviders(),
		notifications: nil,
	}
	s.hub = newHub(s)
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the realtime side of the backend.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) newIDLocked() string {
	s.nextID++
	return strconv.Itoa(s.nextID)
}

// AddUser registers an account and returns it with its id filled in.
func (s *Server) AddUser(u User) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = "u" + s.newIDLocked()
	}
	if u.Role == "" {
		u.Role = "customer"
	}
	stored := u
	s.users[u.ID] = &stored
	return u
}

// SetProviders replaces the catalog served by GET /providers.
func (s *Server) SetProviders(raw []json.RawMessage) {
	s.mu.Lock()
	s.providers = append([]json.RawMessage(nil), raw...)
	s.mu.Unlock()
}

// PutBooking stores b, assigning an id if it has none.
func (s *Server) PutBooking(b Booking) Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putBookingLocked(b)
}

func (s *Server) putBookingLocked(b Booking) Booking {
	if b.ID == "" {
		b.ID = "b" + s.newIDLocked()
	}
	if b.Status == "" {
		b.Status = "pending"
	}
	if _, ok := s.bookings[b.ID]; !ok {
		s.order = append(s.order, b.ID)
	}
	stored := b
	s.bookings[b.ID] = &stored
	return b
}

// Booking returns the stored booking with id.
func (s *Server) Booking(id string) (Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return Booking{}, false
	}
	return *b, true
}

// Bookings returns every stored booking in creation order.
func (s *Server) Bookings() []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Booking, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.bookings[id])
	}
	return out
}

// Reminders returns every reminder request received.
func (s *Server) Reminders() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reminder(nil), s.reminders...)
}

// AddNotification adds a feed entry for userID.
func (s *Server) AddNotification(userID, message string) Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := &Notification{ID: "n" + s.newIDLocked(), UserID: userID, Message: message, CreatedAt: "2030-01-01T00:00:00Z"}
	s.notifications = append(s.notifications, n)
	return *n
}

// Upload returns the bytes stored for an uploaded URL.
func (s *Server) Upload(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[url]
	return b, ok
}

// Calls returns how often route ("METHOD /api/path") was hit.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// TotalCalls returns the number of requests served, failed ones included.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// CallLog returns every route hit, in order.
func (s *Server) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

// Routes returns the distinct routes hit, sorted.
func (s *Server) Routes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.calls))
	for k := range s.calls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fail makes route answer status with message until Heal is called.
func (s *Server) Fail(route string, status int, message string) {
	s.mu.Lock()
	s.failures[route] = &failure{status: status, message: message, remaining: -1}
	s.mu.Unlock()
}

// FailNext makes the next hit of route answer status with message.
func (s *Server) FailNext(route string, status int, message string) {
	s.mu.Lock()
	s.failures[route] = &failure{status: status, message: message, remaining: 1}
	s.mu.Unlock()
}

// Heal removes any failure set on route.
func (s *Server) Heal(route string) {
	s.mu.Lock()
	delete(s.failures, route)
	s.mu.Unlock()
}

// countAndInject records the call and short-circuits injected failures.
func (s *Server) countAndInject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[route]++
		s.log = append(s.log, route)
		f := s.failures[route]
		var status int
		var message string
		if f != nil {
			status, message = f.status, f.message
			if f.remaining > 0 {
				f.remaining--
				if f.remaining == 0 {
					delete(s.failures, route)
				}
			}
		}
		s.mu.Unlock()

		if f != nil {
			s.logger.Debug("fakebackend: injected failure", "route", route, "status", status)
			writeJSON(w, status, map[string]string{"message": message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"message": message})
}

func defaultProviders() []json.RawMessage {
	return []json.RawMessage{
		json.RawMessage(`{"_id":"p1","name":"Volt Brothers","category":"electrician","service":"Panel Upgrade","price":"120","rating":4.7,"description":"Licensed residential electricians.","serviceDuration":90,"calendarSyncEnabled":true}`),
		json.RawMessage(`{"_id":"p2","name":"Clear Flow Plumbing","category":"plumber","service":"Drain Cleaning","price":"80","rating":"4.4","description":"Same-day leak and drain repair.","serviceDuration":60}`),
		json.RawMessage(`{"_id":"p3","name":"Sparkle Home","category":"cleaning","service":"Deep Cleaning","price":"95","rating":4.9,"description":"Eco-friendly deep cleaning.","serviceDuration":180}`),
	}
}

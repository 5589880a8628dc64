package fakebackend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.countAndInject)

	r.Get("/ws", s.hub.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)
		r.Get("/providers", s.handleListProviders)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/auth/me", s.handleMe)
			r.Put("/auth/me", s.handleUpdateMe)

			r.Get("/bookings", s.handleListBookings)
			r.Post("/bookings", s.handleCreateBooking)
			r.Post("/bookings/remind", s.handleRemind)
			r.Get("/bookings/{id}", s.handleGetBooking)
			r.Put("/bookings/{id}", s.handleUpdateBooking)
			r.Delete("/bookings/{id}", s.handleDeleteBooking)
			r.Patch("/bookings/{id}/status", s.handleSetStatus)
			r.Put("/bookings/{id}/cancel", s.transitionHandler("cancelled"))
			r.Put("/bookings/{id}/complete", s.transitionHandler("completed"))

			r.Get("/notifications", s.handleNotifications)
			r.Patch("/notifications/{id}/read", s.handleMarkRead)
			r.Delete("/notifications/clear", s.handleClearNotifications)

			r.Get("/messages", s.handleMessages)
			r.Post("/upload", s.handleUpload("file"))

			r.Group(func(r chi.Router) {
				r.Use(requireRole("provider"))
				r.Get("/providers/me", s.handleMyProvider)
				r.Put("/providers/me", s.handleMyProvider)
				r.Post("/providers/me/avatar", s.handleUpload("avatar"))
				r.Get("/providers/me/availability", s.handleAvailability)
				r.Put("/providers/me/availability", s.handleAvailability)
				r.Get("/providers/bookings", s.handleProviderBookings)
				r.Put("/providers/bookings/{id}/accept", s.transitionHandler("scheduled"))
				r.Put("/providers/bookings/{id}/decline", s.transitionHandler("declined"))
				r.Put("/providers/bookings/{id}/complete", s.transitionHandler("completed"))
			})

			r.Group(func(r chi.Router) {
				r.Use(requireRole("admin"))
				r.Get("/admin/stats", s.handleAdminStats)
				r.Get("/admin/users", s.handleAdminUsers)
				r.Get("/admin/bookings", s.handleAdminBookings)
				r.Get("/admin/providers", s.handleListProviders)
				r.Patch("/admin/booking/{id}/status", s.handleSetStatus)
			})
		})
	})
	return r
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := append([]json.RawMessage(nil), s.providers...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func matchesStatus(b *Booking, status string) bool {
	return status == "" || status == "all" || b.Status == status
}

// listBookings returns the bookings keep selects, in creation order.
func (s *Server) listBookings(status string, keep func(*Booking) bool) []Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Booking{}
	for _, id := range s.order {
		b := s.bookings[id]
		if matchesStatus(b, status) && keep(b) {
			out = append(out, *b)
		}
	}
	return out
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	list := s.listBookings(r.URL.Query().Get("status"), func(b *Booking) bool {
		return b.CustomerID == u.ID || strings.EqualFold(b.CustomerEmail, u.Email)
	})
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *Server) handleProviderBookings(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	list := s.listBookings(r.URL.Query().Get("status"), func(b *Booking) bool {
		return b.ProviderID == u.ProviderID
	})
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleAdminBookings(w http.ResponseWriter, r *http.Request) {
	list := s.listBookings(r.URL.Query().Get("status"), func(*Booking) bool { return true })
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderID   string `json:"providerId"`
		ProviderName string `json:"providerName"`
		Service      string `json:"service"`
		When         string `json:"when"`
		Notes        string `json:"notes"`
		Duration     int    `json:"duration"`
		CalendarSync bool   `json:"calendarSync"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ProviderID == "" || body.When == "" {
		jsonError(w, "providerId and when are required", http.StatusBadRequest)
		return
	}
	u := currentUser(r)
	b := s.PutBooking(Booking{
		ProviderID:    body.ProviderID,
		ProviderName:  body.ProviderName,
		CustomerID:    u.ID,
		CustomerName:  u.Name,
		CustomerEmail: u.Email,
		Service:       body.Service,
		When:          body.When,
		Notes:         body.Notes,
		Duration:      body.Duration,
		CalendarSync:  body.CalendarSync,
		Status:        "pending",
	})
	writeJSON(w, http.StatusCreated, map[string]any{"booking": b})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	b, ok := s.Booking(chi.URLParam(r, "id"))
	if !ok {
		jsonError(w, "Booking not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleUpdateBooking(w http.ResponseWriter, r *http.Request) {
	var body struct {
		When  string `json:"when"`
		Notes string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid body", http.StatusBadRequest)
		return
	}
	s.updateBooking(w, chi.URLParam(r, "id"), func(b *Booking) {
		if body.When != "" {
			b.When = body.When
		}
		if body.Notes != "" {
			b.Notes = body.Notes
		}
	})
}

func (s *Server) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, ok := s.bookings[id]
	if ok {
		delete(s.bookings, id)
		for i, oid := range s.order {
			if oid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		jsonError(w, "Booking not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Booking deleted"})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		jsonError(w, "status is required", http.StatusBadRequest)
		return
	}
	s.updateBooking(w, chi.URLParam(r, "id"), func(b *Booking) { b.Status = body.Status })
}

// transitionHandler sets the booking to status without checking the current
// one, as the real backend's simple routes do.
func (s *Server) transitionHandler(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.updateBooking(w, chi.URLParam(r, "id"), func(b *Booking) { b.Status = status })
	}
}

func (s *Server) updateBooking(w http.ResponseWriter, id string, apply func(*Booking)) {
	s.mu.Lock()
	b, ok := s.bookings[id]
	var out Booking
	if ok {
		apply(b)
		out = *b
	}
	s.mu.Unlock()
	if !ok {
		jsonError(w, "Booking not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"booking": out})
}

func (s *Server) handleRemind(w http.ResponseWriter, r *http.Request) {
	var body Reminder
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		jsonError(w, "email is required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.reminders = append(s.reminders, body)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Reminder sent"})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	s.mu.Lock()
	out := []Notification{}
	for _, n := range s.notifications {
		if n.UserID == u.ID {
			out = append(out, *n)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	found := false
	for _, n := range s.notifications {
		if n.ID == id {
			n.Read = true
			found = true
		}
	}
	s.mu.Unlock()
	if !found {
		jsonError(w, "Notification not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok"})
}

func (s *Server) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	s.mu.Lock()
	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.UserID != u.ID {
			kept = append(kept, n)
		}
	}
	s.notifications = kept
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "cleared"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.hub.Messages()})
}

// handleUpload stores the multipart field and answers with its public URL.
func (s *Server) handleUpload(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile(field)
		if err != nil {
			jsonError(w, "No file uploaded", http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			jsonError(w, "read failed", http.StatusInternalServerError)
			return
		}
		mime := header.Header.Get("Content-Type")
		s.mu.Lock()
		url := fmt.Sprintf("/uploads/%s-%s", s.newIDLocked(), header.Filename)
		s.uploads[url] = data
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":      true,
			"url":          url,
			"originalName": header.Filename,
			"mime":         mime,
		})
	}
}

func (s *Server) handleMyProvider(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	if r.Method == http.MethodPut {
		body, err := io.ReadAll(r.Body)
		if err != nil || !json.Valid(body) {
			jsonError(w, "invalid body", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		for i, raw := range s.providers {
			var p struct {
				ID string `json:"_id"`
			}
			if json.Unmarshal(raw, &p) == nil && p.ID == u.ProviderID {
				s.providers[i] = mergeJSON(raw, body)
			}
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, raw := range s.providers {
		var p struct {
			ID string `json:"_id"`
		}
		if json.Unmarshal(raw, &p) == nil && p.ID == u.ProviderID {
			writeJSON(w, http.StatusOK, raw)
			return
		}
	}
	jsonError(w, "Provider profile not found", http.StatusNotFound)
}

func mergeJSON(base, patch json.RawMessage) json.RawMessage {
	var m map[string]any
	if json.Unmarshal(base, &m) != nil {
		return base
	}
	var p map[string]any
	if json.Unmarshal(patch, &p) != nil {
		return base
	}
	for k, v := range p {
		if k == "_id" || k == "id" {
			continue
		}
		m[k] = v
	}
	out, err := json.Marshal(m)
	if err != nil {
		return base
	}
	return out
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	u := currentUser(r)
	if r.Method == http.MethodPut {
		var body struct {
			Availability json.RawMessage `json:"availability"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			jsonError(w, "invalid body", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.availability[u.ID] = body.Availability
		s.mu.Unlock()
	}
	s.mu.Lock()
	avail := s.availability[u.ID]
	s.mu.Unlock()
	if len(avail) == 0 {
		avail = json.RawMessage(`{}`)
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"availability": avail})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	for _, b := range s.bookings {
		if b.Status == "pending" {
			pending++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":           len(s.users),
		"providers":       len(s.providers),
		"bookings":        len(s.bookings),
		"revenue":         0,
		"pendingBookings": pending,
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/observability/metrics"
	"github.com/wolfman30/homepro-connect/internal/session"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

var bookingsTracer = otel.Tracer("homepro.internal.bookings")

// ErrNotConfirmed is returned by Delete when the user declines the prompt.
var ErrNotConfirmed = errors.New("bookings: delete not confirmed")

// API is the subset of the REST client the repository drives.
type API interface {
	ListBookings(ctx context.Context, q apiclient.BookingQuery) ([]json.RawMessage, error)
	ProviderBookings(ctx context.Context, status string) ([]json.RawMessage, error)
	AdminBookings(ctx context.Context, status string) ([]json.RawMessage, error)
	CreateBooking(ctx context.Context, req apiclient.CreateBookingRequest) (json.RawMessage, error)
	UpdateBooking(ctx context.Context, id string, update any) error
	DeleteBooking(ctx context.Context, id string) error
	UpdateBookingStatus(ctx context.Context, id, status string) error
	CancelBooking(ctx context.Context, id string) error
	CompleteBooking(ctx context.Context, id string) error
	AcceptBooking(ctx context.Context, id string) error
	DeclineBooking(ctx context.Context, id string) error
	ProviderCompleteBooking(ctx context.Context, id string) error
	AdminUpdateBookingStatus(ctx context.Context, id, status string) error
}

// Viewer is the session as the repository needs it.
type Viewer interface {
	Token() string
	User() session.User
}

// Confirmer asks the user to confirm an irreversible action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// ReloadHook observes every successful reload.
type ReloadHook func(ctx context.Context, viewer session.User, snapshot []Booking)

// Filter narrows a listing. Empty or "all" status matches everything.
type Filter struct {
	Status Status
	Search string
}

// CreateRequest is the booking form.
type CreateRequest struct {
	ProviderID            string
	ProviderName          string
	Service               string
	When                  string
	Notes                 string
	DurationMinutes       int
	CalendarSyncRequested bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithInFlightGuard toggles the duplicate-submit guard. It is on by default.
func WithInFlightGuard(enabled bool) Option {
	return func(r *Repository) { r.guard = enabled }
}

// WithReloadHook registers a hook run after each successful reload.
func WithReloadHook(h ReloadHook) Option {
	return func(r *Repository) {
		if h != nil {
			r.hooks = append(r.hooks, h)
		}
	}
}

// WithMetrics records repository operations under a "repo." op prefix so
// they do not collide with the per-request series.
func WithMetrics(m *metrics.ClientMetrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// Repository mirrors the viewer's role-scoped booking listing. Every
// successful mutation is followed by a full reload; nothing is merged
// locally.
type Repository struct {
	api     API
	viewer  Viewer
	logger  *logging.Logger
	metrics *metrics.ClientMetrics
	guard   bool
	flight  singleflight.Group

	mu         sync.RWMutex
	items      []Booking
	lastFilter Filter
	hooks      []ReloadHook
}

// NewRepository constructs a Repository.
func NewRepository(api API, viewer Viewer, logger *logging.Logger, opts ...Option) *Repository {
	if api == nil {
		panic("bookings: api required")
	}
	if viewer == nil {
		panic("bookings: viewer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Repository{api: api, viewer: viewer, logger: logger, guard: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReload registers a hook after construction.
func (r *Repository) OnReload(h ReloadHook) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Create validates locally, submits the booking, appends the returned record
// and reloads.
func (r *Repository) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	const op = "bookings.create"
	if strings.TrimSpace(req.When) == "" {
		return Booking{}, apierr.Validation(op, "Please choose a date and time.")
	}
	when, err := ParseWhen(req.When)
	if err != nil {
		return Booking{}, apierr.Validation(op, "Please choose a valid date and time.")
	}
	if _, err := r.requireToken(op); err != nil {
		return Booking{}, err
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		return Booking{}, apierr.Validation(op, "Please choose a provider.")
	}

	ctx, span := bookingsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("homepro.provider_id", req.ProviderID))

	key := op + ":" + createKey(req, when)
	v, err := r.once(key, func() (any, error) {
		start := time.Now()
		raw, err := r.api.CreateBooking(ctx, apiclient.CreateBookingRequest{
			ProviderID:   req.ProviderID,
			ProviderName: req.ProviderName,
			Service:      req.Service,
			When:         req.When,
			Notes:        req.Notes,
			Duration:     req.DurationMinutes,
			CalendarSync: req.CalendarSyncRequested,
		})
		r.observe(op, err, start)
		if err != nil {
			return Booking{}, err
		}
		var created Booking
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &created); err != nil {
				r.logger.Warn("bookings: created record undecodable", "error", err)
			}
		}
		r.mu.Lock()
		r.items = append(r.items, created)
		r.mu.Unlock()
		if _, err := r.reload(ctx); err != nil {
			r.logger.Warn("bookings: reload after create failed", "error", err)
		}
		return created, nil
	})
	if err != nil {
		span.RecordError(err)
		return Booking{}, err
	}
	created := v.(Booking)
	span.SetAttributes(attribute.String("homepro.booking_id", created.ID), attribute.String("homepro.status", string(created.Status)))
	r.logger.Info("bookings: created", "booking_id", created.ID, "provider_id", req.ProviderID)
	return created, nil
}

// createKey identifies a create request for the in-flight guard. Every form
// field takes part, so only true duplicates are shared.
func createKey(req CreateRequest, when time.Time) string {
	req.When = when.UTC().Format(time.RFC3339)
	data, _ := json.Marshal(req)
	return string(data)
}

// UpdateStatus sets status through the route matching the viewer's role.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status) error {
	role := r.viewer.User().Role
	return r.mutate(ctx, "bookings.update_status", id, status, func(ctx context.Context) error {
		if role == session.RoleAdmin {
			return r.api.AdminUpdateBookingStatus(ctx, id, string(status))
		}
		return r.api.UpdateBookingStatus(ctx, id, string(status))
	})
}

// Accept moves a pending booking to scheduled.
func (r *Repository) Accept(ctx context.Context, id string) error {
	return r.transition(ctx, id, ActionAccept, StatusScheduled)
}

// Decline moves a pending booking to declined.
func (r *Repository) Decline(ctx context.Context, id string) error {
	return r.transition(ctx, id, ActionDecline, StatusDeclined)
}

// Complete marks a scheduled booking completed.
func (r *Repository) Complete(ctx context.Context, id string) error {
	return r.transition(ctx, id, ActionComplete, StatusCompleted)
}

// Cancel cancels a scheduled booking.
func (r *Repository) Cancel(ctx context.Context, id string) error {
	return r.transition(ctx, id, ActionCancel, StatusCancelled)
}

// Undo returns a completed booking to scheduled.
func (r *Repository) Undo(ctx context.Context, id string) error {
	return r.transition(ctx, id, ActionUndo, StatusScheduled)
}

func (r *Repository) transition(ctx context.Context, id string, action Action, to Status) error {
	role := r.viewer.User().Role
	op := "bookings." + string(action)
	return r.mutate(ctx, op, id, to, func(ctx context.Context) error {
		switch {
		case role == session.RoleAdmin:
			return r.api.AdminUpdateBookingStatus(ctx, id, string(to))
		case role == session.RoleProvider && action == ActionAccept:
			return r.api.AcceptBooking(ctx, id)
		case role == session.RoleProvider && action == ActionDecline:
			return r.api.DeclineBooking(ctx, id)
		case role == session.RoleProvider && action == ActionComplete:
			return r.api.ProviderCompleteBooking(ctx, id)
		case action == ActionCancel:
			return r.api.CancelBooking(ctx, id)
		case action == ActionComplete:
			return r.api.CompleteBooking(ctx, id)
		default:
			return r.api.UpdateBookingStatus(ctx, id, string(to))
		}
	})
}

// Reschedule changes only the booking's time.
func (r *Repository) Reschedule(ctx context.Context, id, when string) error {
	const op = "bookings.reschedule"
	if strings.TrimSpace(when) == "" {
		return apierr.Validation(op, "Please choose a date and time.")
	}
	if _, err := ParseWhen(when); err != nil {
		return apierr.Validation(op, "Please choose a valid date and time.")
	}
	return r.mutate(ctx, op, id, "", func(ctx context.Context) error {
		return r.api.UpdateBooking(ctx, id, map[string]string{"when": when})
	})
}

// Delete removes a booking after confirmation. A refusal sends nothing.
func (r *Repository) Delete(ctx context.Context, id string, confirm Confirmer) error {
	const op = "bookings.delete"
	if confirm == nil || !confirm.Confirm(ctx, "Delete this booking permanently?") {
		return ErrNotConfirmed
	}
	return r.mutate(ctx, op, id, "", func(ctx context.Context) error {
		return r.api.DeleteBooking(ctx, id)
	})
}

func (r *Repository) mutate(ctx context.Context, op, id string, to Status, call func(context.Context) error) error {
	if strings.TrimSpace(id) == "" {
		return apierr.Validation(op, "booking id is required")
	}
	if _, err := r.requireToken(op); err != nil {
		return err
	}
	ctx, span := bookingsTracer.Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("homepro.booking_id", id))
	if to != "" {
		span.SetAttributes(attribute.String("homepro.status", string(to)))
	}

	_, err := r.once(op+":"+id, func() (any, error) {
		start := time.Now()
		err := call(ctx)
		r.observe(op, err, start)
		if err != nil {
			return nil, err
		}
		if _, err := r.reload(ctx); err != nil {
			r.logger.Warn("bookings: reload after write failed", "op", op, "booking_id", id, "error", err)
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("bookings: mutation failed", "op", op, "booking_id", id, "error", err)
		return err
	}
	r.logger.Info("bookings: mutation applied", "op", op, "booking_id", id)
	return nil
}

// once runs fn, sharing one execution among concurrent callers with the same
// key while the guard is on.
func (r *Repository) once(key string, fn func() (any, error)) (any, error) {
	if !r.guard {
		return fn()
	}
	v, err, _ := r.flight.Do(key, fn)
	return v, err
}

// List reloads the viewer's listing with f and returns the snapshot.
func (r *Repository) List(ctx context.Context, f Filter) ([]Booking, error) {
	if _, err := r.requireToken("bookings.list"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastFilter = f
	r.mu.Unlock()
	return r.reload(ctx)
}

func (r *Repository) reload(ctx context.Context) ([]Booking, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.reload")
	defer span.End()

	r.mu.RLock()
	f := r.lastFilter
	r.mu.RUnlock()

	user := r.viewer.User()
	status := string(f.Status)
	var (
		raw []json.RawMessage
		err error
	)
	start := time.Now()
	switch user.Role {
	case session.RoleProvider:
		raw, err = r.api.ProviderBookings(ctx, status)
	case session.RoleAdmin:
		raw, err = r.api.AdminBookings(ctx, status)
	default:
		raw, err = r.api.ListBookings(ctx, apiclient.BookingQuery{Status: status})
	}
	r.observe("bookings.list", err, start)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	items := make([]Booking, 0, len(raw))
	for _, item := range raw {
		var b Booking
		if err := json.Unmarshal(item, &b); err != nil {
			r.logger.Warn("bookings: skipping undecodable record", "error", err)
			continue
		}
		if matches(b, f) {
			items = append(items, b)
		}
	}
	span.SetAttributes(attribute.Int("homepro.booking_count", len(items)))

	r.mu.Lock()
	r.items = items
	hooks := append([]ReloadHook(nil), r.hooks...)
	r.mu.Unlock()

	snapshot := cloneBookings(items)
	for _, h := range hooks {
		h(ctx, user, cloneBookings(items))
	}
	return snapshot, nil
}

func matches(b Booking, f Filter) bool {
	if f.Status != "" && f.Status != "all" && b.Status != f.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	for _, field := range []string{b.Service, b.CustomerName, b.CustomerEmail, b.ProviderName} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// Snapshot returns the last reconciled listing.
func (r *Repository) Snapshot() []Booking {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneBookings(r.items)
}

// Get returns one booking from the snapshot.
func (r *Repository) Get(id string) (Booking, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.items {
		if b.ID == id {
			return b, true
		}
	}
	return Booking{}, false
}

// Cards returns the snapshot as display cards for the viewer's role.
func (r *Repository) Cards() []Card {
	role := r.viewer.User().Role
	items := r.Snapshot()
	out := make([]Card, 0, len(items))
	for _, b := range items {
		out = append(out, b.Card(role))
	}
	return out
}

func (r *Repository) requireToken(op string) (string, error) {
	token := r.viewer.Token()
	if token == "" {
		return "", apierr.AuthRequired(op, "Please log in to continue.")
	}
	return token, nil
}

func (r *Repository) observe(op string, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = string(apierr.KindOf(err))
	}
	r.metrics.ObserveRequest("repo."+op, outcome, time.Since(start))
}

func cloneBookings(in []Booking) []Booking {
	out := make([]Booking, len(in))
	copy(out, in)
	return out
}

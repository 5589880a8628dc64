// Package notify asks the backend to send reminders for bookings that start
// soon. Sends are fire-and-forget.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/apierr"
	"github.com/wolfman30/homepro-connect/internal/bookings"
	"github.com/wolfman30/homepro-connect/internal/observability/metrics"
	"github.com/wolfman30/homepro-connect/internal/session"
	"github.com/wolfman30/homepro-connect/pkg/logging"
)

// Policy decides how often a booking inside the window is reminded.
type Policy string

const (
	// PolicyEveryReload sends on every reload while the booking is inside
	// the window, so repeated reloads send repeated reminders.
	PolicyEveryReload Policy = "every_reload"
	// PolicyOncePerBooking sends at most once per booking and start time.
	PolicyOncePerBooking Policy = "once_per_booking"
)

const defaultWindow = 24 * time.Hour

// Sender issues the reminder request.
type Sender interface {
	SendReminder(ctx context.Context, req apiclient.ReminderRequest) error
}

// Config controls the notifier.
type Config struct {
	Window  time.Duration
	Policy  Policy
	Ledger  Ledger
	Now     func() time.Time
	Timeout time.Duration
	Metrics *metrics.ClientMetrics
}

// ReminderNotifier selects bookings starting within the window and sends a
// reminder for each in the background.
type ReminderNotifier struct {
	sender  Sender
	logger  *logging.Logger
	window  time.Duration
	policy  Policy
	ledger  Ledger
	now     func() time.Time
	timeout time.Duration
	metrics *metrics.ClientMetrics

	wg sync.WaitGroup
}

// NewReminderNotifier constructs a notifier.
func NewReminderNotifier(sender Sender, logger *logging.Logger, cfg Config) *ReminderNotifier {
	if sender == nil {
		panic("notify: sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	n := &ReminderNotifier{
		sender:  sender,
		logger:  logger,
		window:  cfg.Window,
		policy:  cfg.Policy,
		ledger:  cfg.Ledger,
		now:     cfg.Now,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
	}
	if n.window <= 0 {
		n.window = defaultWindow
	}
	if n.policy == "" {
		n.policy = PolicyEveryReload
	}
	if n.policy == PolicyOncePerBooking && n.ledger == nil {
		n.ledger = NewMemoryLedger()
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.timeout <= 0 {
		n.timeout = 15 * time.Second
	}
	return n
}

// Due returns the bookings whose start is in (now, now+window].
func (n *ReminderNotifier) Due(list []bookings.Booking) []bookings.Booking {
	now := n.now()
	var out []bookings.Booking
	for _, b := range list {
		if b.When.IsZero() {
			continue
		}
		diff := b.When.Sub(now)
		if diff > 0 && diff <= n.window {
			out = append(out, b)
		}
	}
	return out
}

// OnReload is a bookings.ReloadHook. It never blocks on the network and
// never returns an error; failures are logged and counted.
func (n *ReminderNotifier) OnReload(ctx context.Context, viewer session.User, list []bookings.Booking) {
	due := n.Due(list)
	if len(due) == 0 {
		return
	}
	// Sends outlive the reload's context.
	base := context.WithoutCancel(ctx)
	for _, b := range due {
		if n.policy == PolicyOncePerBooking {
			key := b.ID + "@" + b.When.UTC().Format(time.RFC3339)
			fresh, err := n.ledger.MarkSent(ctx, key)
			if err != nil {
				n.logger.Warn("notify: ledger check failed, skipping reminder", "booking_id", b.ID, "error", err)
				n.metrics.ObserveReminder("ledger_error")
				continue
			}
			if !fresh {
				n.metrics.ObserveReminder("skipped")
				continue
			}
		}
		req := reminderRequest(viewer, b)
		n.wg.Add(1)
		go n.send(base, b.ID, req)
	}
}

// Remind sends one reminder now, at the user's request. Unlike OnReload it
// waits for the server and returns its error, and it ignores the window and
// the ledger.
func (n *ReminderNotifier) Remind(ctx context.Context, viewer session.User, b bookings.Booking) error {
	const op = "notify.remind"
	if viewer.Email == "" {
		return apierr.AuthRequired(op, "")
	}
	if b.ID == "" && b.Service == "" {
		return apierr.Validation(op, "Booking not found.")
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.sender.SendReminder(ctx, reminderRequest(viewer, b)); err != nil {
		n.logger.Warn("notify: manual reminder failed", "booking_id", b.ID, "error", err)
		n.metrics.ObserveReminder("failed")
		return err
	}
	n.logger.Info("notify: manual reminder sent", "booking_id", b.ID)
	n.metrics.ObserveReminder("sent")
	return nil
}

func reminderRequest(viewer session.User, b bookings.Booking) apiclient.ReminderRequest {
	return apiclient.ReminderRequest{
		Email:    viewer.Email,
		Service:  b.Service,
		Provider: b.ProviderName,
		When:     b.When.Format(time.RFC3339),
	}
}

func (n *ReminderNotifier) send(ctx context.Context, bookingID string, req apiclient.ReminderRequest) {
	defer n.wg.Done()
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	if err := n.sender.SendReminder(ctx, req); err != nil {
		n.logger.Warn("notify: reminder send failed", "booking_id", bookingID, "error", err)
		n.metrics.ObserveReminder("failed")
		return
	}
	n.logger.Debug("notify: reminder sent", "booking_id", bookingID)
	n.metrics.ObserveReminder("sent")
}

// Wait blocks until every pending send has finished.
func (n *ReminderNotifier) Wait() {
	n.wg.Wait()
}

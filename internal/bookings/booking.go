package bookings

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/homepro-connect/internal/apiclient"
	"github.com/wolfman30/homepro-connect/internal/session"
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no forward transition leaves s. Delete is still
// possible.
func (s Status) Terminal() bool {
	return s == StatusDeclined || s == StatusCancelled
}

// Action is a button a viewer can press on a booking card.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionUndo     Action = "undo"
	ActionDelete   Action = "delete"
)

// Edge is one transition of the display state machine.
type Edge struct {
	Action Action
	To     Status
	Actors []session.Role
}

func (e Edge) allows(role session.Role) bool {
	for _, r := range e.Actors {
		if r == role {
			return true
		}
	}
	return false
}

// Transitions is the display shape of the lifecycle. The server decides
// legality; the client only uses this to choose which buttons to draw.
var Transitions = map[Status][]Edge{
	StatusPending: {
		{Action: ActionAccept, To: StatusScheduled, Actors: []session.Role{session.RoleProvider}},
		{Action: ActionDecline, To: StatusDeclined, Actors: []session.Role{session.RoleProvider}},
	},
	StatusScheduled: {
		{Action: ActionComplete, To: StatusCompleted, Actors: []session.Role{session.RoleProvider, session.RoleCustomer}},
		{Action: ActionCancel, To: StatusCancelled, Actors: []session.Role{session.RoleCustomer}},
	},
	StatusCompleted: {
		{Action: ActionUndo, To: StatusScheduled, Actors: []session.Role{session.RoleCustomer}},
	},
}

// Next returns the status reached from s by action, if that edge exists.
func Next(s Status, action Action) (Status, bool) {
	for _, e := range Transitions[s] {
		if e.Action == action {
			return e.To, true
		}
	}
	return "", false
}

// Booking is one booking as the client sees it.
type Booking struct {
	ID                    string
	ProviderID            string
	ProviderName          string
	CustomerName          string
	CustomerEmail         string
	Service               string
	When                  time.Time
	Notes                 string
	DurationMinutes       int
	CalendarSyncRequested bool
	Status                Status
}

// Actions lists the buttons role sees for b. Delete is offered on every
// card; admins also get the forward edges of any actor.
func (b Booking) Actions(role session.Role) []Action {
	var out []Action
	for _, e := range Transitions[b.Status] {
		if e.allows(role) || (role == session.RoleAdmin && e.Action != ActionUndo) {
			out = append(out, e.Action)
		}
	}
	return append(out, ActionDelete)
}

// Card is the display shape of a booking.
type Card struct {
	ID       string
	Title    string
	Provider string
	Customer string
	When     string
	Status   Status
	Actions  []Action
}

// Card converts b for role.
func (b Booking) Card(role session.Role) Card {
	when := ""
	if !b.When.IsZero() {
		when = b.When.Local().Format("Jan 2, 2006 3:04 PM")
	}
	return Card{
		ID:       b.ID,
		Title:    b.Service,
		Provider: b.ProviderName,
		Customer: firstNonEmpty(b.CustomerName, b.CustomerEmail),
		When:     when,
		Status:   b.Status,
		Actions:  b.Actions(role),
	}
}

type wireBooking struct {
	ID            json.RawMessage `json:"id"`
	MongoID       json.RawMessage `json:"_id"`
	ProviderID    json.RawMessage `json:"providerId"`
	ProviderName  string          `json:"providerName"`
	Provider      json.RawMessage `json:"provider"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	Customer      json.RawMessage `json:"customer"`
	Service       string          `json:"service"`
	When          string          `json:"when"`
	Date          string          `json:"date"`
	Notes         string          `json:"notes"`
	Duration      json.Number     `json:"duration"`
	CalendarSync  bool            `json:"calendarSync"`
	Status        Status          `json:"status"`
}

// UnmarshalJSON accepts the spellings the various listing endpoints use:
// "_id" for "id", a "provider" name or object for "providerName", and
// "date" for "when".
func (b *Booking) UnmarshalJSON(data []byte) error {
	var w wireBooking
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id := apiclient.FlexibleID(w.ID)
	if id == "" {
		id = apiclient.FlexibleID(w.MongoID)
	}
	providerName := w.ProviderName
	providerID := apiclient.FlexibleID(w.ProviderID)
	if name, pid := personRef(w.Provider); providerName == "" || providerID == "" {
		if providerName == "" {
			providerName = name
		}
		if providerID == "" {
			providerID = pid
		}
	}
	customerName, customerEmail := w.CustomerName, w.CustomerEmail
	if len(w.Customer) > 0 {
		var c struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		}
		if err := json.Unmarshal(w.Customer, &c); err == nil {
			customerName = firstNonEmpty(customerName, c.Name)
			customerEmail = firstNonEmpty(customerEmail, c.Email)
		} else {
			var s string
			if json.Unmarshal(w.Customer, &s) == nil {
				customerName = firstNonEmpty(customerName, s)
			}
		}
	}
	when, _ := ParseWhen(firstNonEmpty(w.When, w.Date))
	duration := 0
	if w.Duration != "" {
		if n, err := w.Duration.Int64(); err == nil {
			duration = int(n)
		}
	}
	status := w.Status
	if status == "" {
		status = StatusPending
	}
	*b = Booking{
		ID:                    id,
		ProviderID:            providerID,
		ProviderName:          providerName,
		CustomerName:          customerName,
		CustomerEmail:         customerEmail,
		Service:               w.Service,
		When:                  when,
		Notes:                 w.Notes,
		DurationMinutes:       duration,
		CalendarSyncRequested: w.CalendarSync,
		Status:                Status(strings.ToLower(string(status))),
	}
	return nil
}

// personRef reads a "provider" field holding either a name string or an
// object with name and id.
func personRef(raw json.RawMessage) (name, id string) {
	if len(raw) == 0 {
		return "", ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s, ""
	}
	var obj struct {
		ID      json.RawMessage `json:"id"`
		MongoID json.RawMessage `json:"_id"`
		Name    string          `json:"name"`
	}
	if json.Unmarshal(raw, &obj) != nil {
		return "", ""
	}
	id = apiclient.FlexibleID(obj.ID)
	if id == "" {
		id = apiclient.FlexibleID(obj.MongoID)
	}
	return obj.Name, id
}

var whenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseWhen accepts RFC3339 and the datetime-local forms a booking form
// submits. Zone-less values are read in local time.
func ParseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	for _, layout := range whenLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

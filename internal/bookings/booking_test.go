package bookings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/homepro-connect/internal/session"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from   Status
		action Action
		to     Status
		ok     bool
	}{
		{StatusPending, ActionAccept, StatusScheduled, true},
		{StatusPending, ActionDecline, StatusDeclined, true},
		{StatusScheduled, ActionComplete, StatusCompleted, true},
		{StatusScheduled, ActionCancel, StatusCancelled, true},
		{StatusCompleted, ActionUndo, StatusScheduled, true},
		{StatusPending, ActionComplete, "", false},
		{StatusPending, ActionCancel, "", false},
		{StatusDeclined, ActionAccept, "", false},
		{StatusCancelled, ActionUndo, "", false},
	}
	for _, tt := range tests {
		to, ok := Next(tt.from, tt.action)
		assert.Equal(t, tt.ok, ok, "%s --%s-->", tt.from, tt.action)
		assert.Equal(t, tt.to, to)
	}
	assert.True(t, StatusDeclined.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusCompleted.Terminal())
	assert.Empty(t, Transitions[StatusDeclined])
	assert.Empty(t, Transitions[StatusCancelled])
}

func TestActionsByRole(t *testing.T) {
	scheduled := Booking{Status: StatusScheduled}
	assert.Equal(t, []Action{ActionComplete, ActionCancel, ActionDelete}, scheduled.Actions(session.RoleCustomer))
	assert.Equal(t, []Action{ActionComplete, ActionDelete}, scheduled.Actions(session.RoleProvider))
	assert.Equal(t, []Action{ActionComplete, ActionCancel, ActionDelete}, scheduled.Actions(session.RoleAdmin))

	completed := Booking{Status: StatusCompleted}
	assert.Equal(t, []Action{ActionUndo, ActionDelete}, completed.Actions(session.RoleCustomer))
	assert.Equal(t, []Action{ActionDelete}, completed.Actions(session.RoleAdmin))

	declined := Booking{Status: StatusDeclined}
	assert.Equal(t, []Action{ActionDelete}, declined.Actions(session.RoleProvider))
}

func TestBookingDecodeFallbacks(t *testing.T) {
	var b Booking
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id": "abc",
		"providerId": 101,
		"provider": "John Doe",
		"service": "Repair",
		"date": "2030-03-04 08:15",
		"duration": 90,
		"calendarSync": true,
		"status": "Scheduled"
	}`), &b))

	assert.Equal(t, "abc", b.ID)
	assert.Equal(t, "101", b.ProviderID)
	assert.Equal(t, "John Doe", b.ProviderName)
	assert.Equal(t, 90, b.DurationMinutes)
	assert.True(t, b.CalendarSyncRequested)
	assert.Equal(t, StatusScheduled, b.Status)
	assert.Equal(t, 8, b.When.Hour())
}

func TestBookingDecodeDefaultsPending(t *testing.T) {
	var b Booking
	require.NoError(t, json.Unmarshal([]byte(`{"id":5,"providerName":"Grace","when":"not a time"}`), &b))
	assert.Equal(t, "5", b.ID)
	assert.Equal(t, StatusPending, b.Status)
	assert.True(t, b.When.IsZero())
}

func TestParseWhen(t *testing.T) {
	for _, in := range []string{
		"2030-01-02T10:00:00Z",
		"2030-01-02T10:00:00.000+02:00",
		"2030-01-02T10:00",
		"2030-01-02T10:00:30",
		"2030-01-02 10:00",
	} {
		got, err := ParseWhen(in)
		require.NoError(t, err, in)
		assert.Equal(t, 2030, got.Year())
	}
	_, err := ParseWhen("")
	assert.Error(t, err)
	_, err = ParseWhen("tomorrow")
	assert.Error(t, err)

	local, err := ParseWhen("2030-01-02T10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Local, local.Location())
}

package chat

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manualTimers fires scheduled callbacks on demand.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

// fireAll runs every timer, stopped or not, the way a late time.AfterFunc
// callback can still run after Stop lost the race.
func (m *manualTimers) fireAll() {
	m.mu.Lock()
	timers := append([]*manualTimer(nil), m.timers...)
	m.mu.Unlock()
	for _, t := range timers {
		t.f()
	}
}

func TestMessageThenStatusUpdatesInPlace(t *testing.T) {
	tl := NewTimeline("casey")
	var changes []Change
	tl.OnChange(func(c Change) { changes = append(changes, c) })

	require.True(t, tl.AppendMessage(Message{ID: "m1", From: "sam", Text: "hi", Status: StatusSent}))
	require.True(t, tl.ApplyStatus("m1", StatusDelivered))
	require.True(t, tl.ApplyStatus("m1", StatusRead))

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StatusRead, msgs[0].Status)
	assert.Equal(t, []Change{
		{Kind: ChangeMessage, MessageID: "m1"},
		{Kind: ChangeStatus, MessageID: "m1"},
		{Kind: ChangeStatus, MessageID: "m1"},
	}, changes)
}

func TestObserversMayReadTheTimeline(t *testing.T) {
	tl := NewTimeline("casey")
	var seen []string
	var counted int
	tl.OnChange(func(c Change) {
		if m, ok := tl.Message(c.MessageID); ok {
			seen = append(seen, m.Text)
		}
	})
	tl.OnChange(func(Change) { counted++ })
	tl.OnChange(nil)

	tl.AppendMessage(Message{ID: "m1", From: "sam", Text: "hi"})
	tl.AppendMessage(Message{ID: "m2", From: "casey", Text: "hello"})

	assert.Equal(t, []string{"hi", "hello"}, seen)
	assert.Equal(t, 2, counted)
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	tl := NewTimeline("casey")
	tl.AppendMessage(Message{ID: "m1", Status: StatusRead})

	assert.False(t, tl.ApplyStatus("m1", StatusDelivered))
	assert.False(t, tl.ApplyStatus("m1", StatusRead))
	assert.False(t, tl.ApplyStatus("m1", Status("bogus")))
	assert.False(t, tl.ApplyStatus("unknown", StatusRead))
	m, _ := tl.Message("m1")
	assert.Equal(t, StatusRead, m.Status)
}

func TestAppendKeepsArrivalOrderAndSkipsDuplicates(t *testing.T) {
	tl := NewTimeline("casey")
	later := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)

	tl.AppendMessage(Message{ID: "a", CreatedAt: later})
	tl.AppendMessage(Message{ID: "b", CreatedAt: earlier})
	assert.False(t, tl.AppendMessage(Message{ID: "a", Text: "again"}))
	assert.True(t, tl.AppendMessage(Message{Text: "no id"}))
	assert.True(t, tl.AppendMessage(Message{Text: "no id"}))

	var ids []string
	for _, m := range tl.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b", "", ""}, ids)
}

func TestLoadHistory(t *testing.T) {
	tl := NewTimeline("casey")
	tl.AppendMessage(Message{ID: "m2"})
	added := tl.LoadHistory([]Message{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}})
	assert.Equal(t, 2, added)
	assert.Len(t, tl.Messages(), 3)
}

func TestPresence(t *testing.T) {
	tl := NewTimeline("casey")
	assert.Equal(t, "Online: 0", tl.Indicator())
	users := []string{"casey", "sam", "jo"}
	tl.ApplyPresence(users)
	users[0] = "mutated"

	assert.Equal(t, "Online: 3", tl.Indicator())
	assert.Equal(t, []string{"casey", "sam", "jo"}, tl.Contacts())
	assert.Equal(t, 3, tl.Online())
}

func TestTypingClearsAfterTTL(t *testing.T) {
	timers := &manualTimers{}
	tl := NewTimeline("casey", WithAfterFunc(timers.AfterFunc))
	tl.ApplyPresence([]string{"sam"})

	tl.ApplyTyping("sam", true)
	assert.Equal(t, "sam is typing...", tl.Indicator())
	require.Len(t, timers.timers, 1)
	assert.Equal(t, DefaultTypingTTL, timers.timers[0].d)

	timers.fireAll()
	assert.Equal(t, "Online: 1", tl.Indicator())
}

func TestTypingRefreshKeepsIndicator(t *testing.T) {
	timers := &manualTimers{}
	tl := NewTimeline("casey", WithAfterFunc(timers.AfterFunc), WithTypingTTL(time.Second))

	tl.ApplyTyping("sam", true)
	tl.ApplyTyping("sam", true)
	require.Len(t, timers.timers, 2)
	assert.True(t, timers.timers[0].stopped)

	// The stale first timer fires late; only the refreshed one may clear.
	timers.timers[0].f()
	assert.Equal(t, "sam is typing...", tl.Indicator())
	timers.timers[1].f()
	_, typing := tl.Typing()
	assert.False(t, typing)
}

func TestTypingStopClearsImmediately(t *testing.T) {
	timers := &manualTimers{}
	tl := NewTimeline("casey", WithAfterFunc(timers.AfterFunc))
	tl.ApplyTyping("sam", true)
	tl.ApplyTyping("sam", false)
	assert.Equal(t, "Online: 0", tl.Indicator())
	assert.True(t, timers.timers[0].stopped)
}

func TestTypingWithRealTimer(t *testing.T) {
	tl := NewTimeline("casey", WithTypingTTL(20*time.Millisecond))
	defer tl.Close()
	tl.ApplyTyping("sam", true)
	assert.Eventually(t, func() bool {
		_, typing := tl.Typing()
		return !typing
	}, time.Second, 5*time.Millisecond)
}

func TestMine(t *testing.T) {
	tl := NewTimeline("casey")
	assert.True(t, tl.Mine(Message{From: "casey"}))
	assert.False(t, tl.Mine(Message{From: "sam"}))
	tl.SetMe("")
	assert.False(t, tl.Mine(Message{From: ""}))
}

func TestMessageDecode(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{
		"_id": 42,
		"sender": "sam",
		"text": "[attachment]",
		"attachments": [{"url": "/uploads/a.png", "name": "", "mime": "image/png"}],
		"createdAt": "2030-01-01T10:00:00.123Z",
		"status": "delivered"
	}`), &m))
	assert.Equal(t, "42", m.ID)
	assert.Equal(t, "sam", m.From)
	assert.Equal(t, StatusDelivered, m.Status)
	assert.Equal(t, 2030, m.CreatedAt.Year())
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "attachment", AttachmentLabel(m.Attachments[0]))
}

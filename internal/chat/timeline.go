// Package chat keeps the display state of the chat widget: the message log,
// contacts, presence and the typing indicator.
package chat

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTypingTTL is how long a typing indicator lasts without a refresh.
const DefaultTypingTTL = 2500 * time.Millisecond

// Timer is the part of *time.Timer the timeline uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ChangeKind names what changed in the timeline.
type ChangeKind string

const (
	ChangePresence ChangeKind = "presence"
	ChangeMessage  ChangeKind = "message"
	ChangeStatus   ChangeKind = "status"
	ChangeTyping   ChangeKind = "typing"
)

// Change is delivered to observers after the timeline mutates.
type Change struct {
	Kind      ChangeKind
	MessageID string
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithTypingTTL overrides the typing indicator lifetime.
func WithTypingTTL(d time.Duration) Option {
	return func(t *Timeline) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithAfterFunc replaces the timer source, for tests.
func WithAfterFunc(f AfterFunc) Option {
	return func(t *Timeline) {
		if f != nil {
			t.afterFunc = f
		}
	}
}

// Timeline is safe for concurrent use. Observers are called outside the
// lock.
type Timeline struct {
	ttl       time.Duration
	afterFunc AfterFunc

	mu          sync.Mutex
	me          string
	messages    []Message
	index       map[string]int
	contacts    []string
	online      int
	typingUser  string
	typingTimer Timer
	typingGen   uint64
	observers   []func(Change)
}

// NewTimeline builds an empty timeline for the user named me.
func NewTimeline(me string, opts ...Option) *Timeline {
	t := &Timeline{
		ttl:       DefaultTypingTTL,
		afterFunc: realAfterFunc,
		me:        me,
		index:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetMe changes whose bubbles count as "mine".
func (t *Timeline) SetMe(me string) {
	t.mu.Lock()
	t.me = me
	t.mu.Unlock()
}

// OnChange registers an observer.
func (t *Timeline) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

func (t *Timeline) notify(c Change) {
	t.mu.Lock()
	obs := make([]func(Change), len(t.observers))
	copy(obs, t.observers)
	t.mu.Unlock()
	for _, fn := range obs {
		fn(c)
	}
}

// ApplyPresence replaces the contact list.
func (t *Timeline) ApplyPresence(usernames []string) {
	t.mu.Lock()
	t.contacts = append([]string(nil), usernames...)
	t.online = len(usernames)
	t.mu.Unlock()
	t.notify(Change{Kind: ChangePresence})
}

// AppendMessage adds m at the end in arrival order. A message whose id is
// already shown is ignored and false is returned.
func (t *Timeline) AppendMessage(m Message) bool {
	t.mu.Lock()
	if m.ID != "" {
		if _, ok := t.index[m.ID]; ok {
			t.mu.Unlock()
			return false
		}
		t.index[m.ID] = len(t.messages)
	}
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	t.messages = append(t.messages, m)
	t.mu.Unlock()
	t.notify(Change{Kind: ChangeMessage, MessageID: m.ID})
	return true
}

// LoadHistory appends msgs in order, skipping ones already shown.
func (t *Timeline) LoadHistory(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if t.AppendMessage(m) {
			n++
		}
	}
	return n
}

// ApplyStatus advances the marker of the message with id. Unknown ids and
// backwards moves are ignored.
func (t *Timeline) ApplyStatus(id string, status Status) bool {
	t.mu.Lock()
	i, ok := t.index[id]
	if !ok || status.rank() == 0 || status.rank() <= t.messages[i].Status.rank() {
		t.mu.Unlock()
		return false
	}
	t.messages[i].Status = status
	t.mu.Unlock()
	t.notify(Change{Kind: ChangeStatus, MessageID: id})
	return true
}

// ApplyTyping shows or hides "<user> is typing...". A shown indicator clears
// itself after the TTL unless refreshed.
func (t *Timeline) ApplyTyping(username string, isTyping bool) {
	t.mu.Lock()
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	t.typingGen++
	if !isTyping {
		t.typingUser = ""
		t.mu.Unlock()
		t.notify(Change{Kind: ChangeTyping})
		return
	}
	t.typingUser = username
	gen := t.typingGen
	t.typingTimer = t.afterFunc(t.ttl, func() { t.expireTyping(gen) })
	t.mu.Unlock()
	t.notify(Change{Kind: ChangeTyping})
}

func (t *Timeline) expireTyping(gen uint64) {
	t.mu.Lock()
	if gen != t.typingGen || t.typingUser == "" {
		t.mu.Unlock()
		return
	}
	t.typingUser = ""
	t.typingTimer = nil
	t.mu.Unlock()
	t.notify(Change{Kind: ChangeTyping})
}

// Indicator is the presence line: the typing notice while one is active,
// otherwise the online count.
func (t *Timeline) Indicator() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typingUser != "" {
		return t.typingUser + " is typing..."
	}
	return fmt.Sprintf("Online: %d", t.online)
}

// Typing returns the user currently shown as typing.
func (t *Timeline) Typing() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.typingUser, t.typingUser != ""
}

// Contacts returns the last presence list.
func (t *Timeline) Contacts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.contacts...)
}

// Online is the size of the last presence list.
func (t *Timeline) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// Messages returns a copy of the log.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
		out[i] = m
	}
	return out
}

// Message returns the shown message with id.
func (t *Timeline) Message(id string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i, ok := t.index[id]
	if !ok {
		return Message{}, false
	}
	return t.messages[i], true
}

// Mine reports whether m was sent by the current user.
func (t *Timeline) Mine(m Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.me != "" && m.From == t.me
}

// Close stops any pending typing timer.
func (t *Timeline) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
}

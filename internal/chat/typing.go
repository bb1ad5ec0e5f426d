package chat

import (
	"sync"
	"time"

	"github.com/motormart/motormart-chat/internal/metrics"
)

// typingKey identifies one participant composing in one conversation.
// Keeping the key composite avoids the collision bugs of concatenated
// string keys.
type typingKey struct {
	Conversation string
	Participant  string
}

// TypingObserver is notified whenever a (conversation, participant)
// typing flag flips. It runs on the coordinator's tick; keep it cheap.
type TypingObserver func(conversationID, participantID string, typing bool)

// TypingCoordinator tracks transient typing presence. A true flag
// auto-clears after the quiescence window unless refreshed; refreshes
// replace the pending timer rather than stacking new ones. Entries are
// ephemeral and never reach the message log.
type TypingCoordinator struct {
	mu        sync.Mutex
	expiry    time.Duration
	entries   map[typingKey]*typingEntry
	observers []TypingObserver
}

type typingEntry struct {
	gen   uint64
	timer *time.Timer
}

func NewTypingCoordinator(expiry time.Duration) *TypingCoordinator {
	return &TypingCoordinator{
		expiry:  expiry,
		entries: map[typingKey]*typingEntry{},
	}
}

// Observe registers a callback for typing changes.
func (t *TypingCoordinator) Observe(fn TypingObserver) {
	t.mu.Lock()
	t.observers = append(t.observers, fn)
	t.mu.Unlock()
}

// SetTyping flips the typing flag for one participant in one
// conversation. true (re)starts the expiry timer, cancelling any prior
// one for the same key; false clears immediately.
func (t *TypingCoordinator) SetTyping(conversationID, participantID string, typing bool) {
	key := typingKey{Conversation: conversationID, Participant: participantID}

	t.mu.Lock()
	entry, active := t.entries[key]

	if !typing {
		if !active {
			t.mu.Unlock()
			return
		}
		entry.timer.Stop()
		delete(t.entries, key)
		t.mu.Unlock()
		t.notify(key, false)
		return
	}

	if active {
		// Debounce: supersede the pending timer. The generation bump
		// makes the old callback a no-op even if it already fired.
		entry.timer.Stop()
		entry.gen++
		gen := entry.gen
		entry.timer = time.AfterFunc(t.expiry, func() { t.expire(key, gen) })
		t.mu.Unlock()
		return
	}

	entry = &typingEntry{}
	gen := entry.gen
	entry.timer = time.AfterFunc(t.expiry, func() { t.expire(key, gen) })
	t.entries[key] = entry
	t.mu.Unlock()
	t.notify(key, true)
}

func (t *TypingCoordinator) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	entry, ok := t.entries[key]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()
	t.notify(key, false)
}

// IsTyping reports whether the participant is currently composing.
func (t *TypingCoordinator) IsTyping(conversationID, participantID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{Conversation: conversationID, Participant: participantID}]
	return ok
}

// AnyTyping reports whether any participant is composing in the
// conversation. Backs the inbox presence badge.
func (t *TypingCoordinator) AnyTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.entries {
		if key.Conversation == conversationID {
			return true
		}
	}
	return false
}

// Stop cancels all pending timers. Used on teardown; no observers fire.
func (t *TypingCoordinator) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.entries {
		entry.timer.Stop()
		entry.gen++
		delete(t.entries, key)
	}
}

func (t *TypingCoordinator) notify(key typingKey, typing bool) {
	state := "off"
	if typing {
		state = "on"
	}
	metrics.TypingEvents.WithLabelValues(state).Inc()

	t.mu.Lock()
	obs := make([]TypingObserver, len(t.observers))
	copy(obs, t.observers)
	t.mu.Unlock()
	for _, fn := range obs {
		fn(key.Conversation, key.Participant, typing)
	}
}

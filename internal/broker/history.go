package broker

import (
	"sync"
	"time"

	"github.com/motormart/motormart-chat/internal/transport"
)

// HistoryLog is the broker's per-conversation backlog. It assigns the
// authoritative message ids that clients reconcile their provisional
// ids against.
type HistoryLog struct {
	mu     sync.RWMutex
	msgs   map[string][]transport.MessageFrame
	nextID map[string]int64
}

func NewHistoryLog() *HistoryLog {
	return &HistoryLog{
		msgs:   map[string][]transport.MessageFrame{},
		nextID: map[string]int64{},
	}
}

// Record assigns the next id for the conversation and appends the
// message. The frame's provisional id is replaced; the sender matches
// the echo by ref.
func (h *HistoryLog) Record(m *transport.MessageFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.nextID[m.ConversationID] == 0 {
		h.nextID[m.ConversationID] = 1
	}
	m.ID = h.nextID[m.ConversationID]
	h.nextID[m.ConversationID] = m.ID + 1
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	h.msgs[m.ConversationID] = append(h.msgs[m.ConversationID], *m)
}

// For returns a copy of a conversation's backlog.
func (h *HistoryLog) For(conversationID string) []transport.MessageFrame {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]transport.MessageFrame(nil), h.msgs[conversationID]...)
}

// Summary describes one conversation's backlog for the REST reads.
type Summary struct {
	ConversationID string    `json:"conversation_id"`
	Messages       int       `json:"messages"`
	LastAt         time.Time `json:"last_at"`
}

func (h *HistoryLog) Summaries() []Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Summary, 0, len(h.msgs))
	for cid, log := range h.msgs {
		s := Summary{ConversationID: cid, Messages: len(log)}
		if len(log) > 0 {
			s.LastAt = log[len(log)-1].SentAt
		}
		out = append(out, s)
	}
	return out
}

package chat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrDuplicateMessage means an id collision with a different payload
	// was detected during reconciliation. The first-seen payload wins.
	ErrDuplicateMessage = errors.New("duplicate message id with different payload")
)

// Store is the ordered per-conversation message log. It owns delivery
// state transitions and the unread bookkeeping derived from them.
// Messages are only appended, never deleted.
type Store struct {
	mu sync.RWMutex

	logs   map[string][]*Message         // conversationID -> append order
	byID   map[string]map[int64]*Message // conversationID -> id -> message
	byRef  map[string]map[string]int64   // conversationID -> ref -> id
	provID map[string]int64              // conversationID -> last provisional id handed out

	unread map[string]int // counterparty messages not yet read

	localUser string
	logger    *zap.Logger
}

func NewStore(localUser string, logger *zap.Logger) *Store {
	return &Store{
		logs:      map[string][]*Message{},
		byID:      map[string]map[int64]*Message{},
		byRef:     map[string]map[string]int64{},
		provID:    map[string]int64{},
		unread:    map[string]int{},
		localUser: localUser,
		logger:    logger,
	}
}

// Append adds a message to its conversation's log and returns its id.
// A zero id gets the next provisional id for the conversation (optimistic
// local echo). Provisional ids are negative, keeping them out of the
// broker's keyspace: a backlog message can never collide with an
// unreconciled local send. Re-appending an id already in the log is a
// no-op when the payload matches (idempotent receipt) and
// ErrDuplicateMessage otherwise.
func (s *Store) Append(m Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cid := m.ConversationID
	if s.byID[cid] == nil {
		s.byID[cid] = map[int64]*Message{}
	}

	if m.ID == 0 {
		s.provID[cid]--
		m.ID = s.provID[cid]
	}
	if prev, ok := s.byID[cid][m.ID]; ok {
		if prev.SenderID == m.SenderID && prev.Body == m.Body {
			return prev.ID, nil
		}
		s.logger.Warn("discarding conflicting message payload",
			zap.String("conversation", cid),
			zap.Int64("id", m.ID))
		return prev.ID, ErrDuplicateMessage
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}

	stored := m
	s.byID[cid][m.ID] = &stored
	s.logs[cid] = append(s.logs[cid], &stored)
	if m.Ref != "" {
		if s.byRef[cid] == nil {
			s.byRef[cid] = map[string]int64{}
		}
		s.byRef[cid][m.Ref] = m.ID
	}

	if m.SenderID != s.localUser && m.State < StateRead {
		s.unread[cid]++
	}
	return m.ID, nil
}

// MarkDelivered advances a message to Delivered. Unknown ids and
// messages already at or past Delivered are ignored.
func (s *Store) MarkDelivered(conversationID string, id int64) {
	s.advance(conversationID, id, StateDelivered)
}

// MarkRead advances a message to Read, decrementing the conversation's
// unread counter when the message was authored by the counterparty.
func (s *Store) MarkRead(conversationID string, id int64) {
	s.advance(conversationID, id, StateRead)
}

func (s *Store) advance(conversationID string, id int64, target DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[conversationID][id]
	if !ok || m.State >= target {
		return
	}
	if target == StateRead && m.SenderID != s.localUser {
		if s.unread[conversationID] > 0 {
			s.unread[conversationID]--
		}
	}
	m.State = target
}

// IDForRef resolves a sender correlation key to the message id it was
// appended under.
func (s *Store) IDForRef(conversationID, ref string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRef[conversationID][ref]
	return id, ok
}

// Reassign moves a message from its provisional id to the
// server-assigned one. ErrDuplicateMessage when the target id is already
// held by a different payload; the first-seen payload stays.
func (s *Store) Reassign(conversationID string, oldID, newID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[conversationID][oldID]
	if !ok || oldID == newID {
		return nil
	}
	if other, taken := s.byID[conversationID][newID]; taken {
		if other.SenderID == m.SenderID && other.Body == m.Body {
			return nil
		}
		s.logger.Warn("reassign target id already taken",
			zap.String("conversation", conversationID),
			zap.Int64("id", newID))
		return ErrDuplicateMessage
	}
	delete(s.byID[conversationID], oldID)
	m.ID = newID
	s.byID[conversationID][newID] = m
	if m.Ref != "" && s.byRef[conversationID] != nil {
		s.byRef[conversationID][m.Ref] = newID
	}
	return nil
}

// ListFor returns a snapshot of the conversation's messages ordered by
// sentAt, ties broken by id.
func (s *Store) ListFor(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	out := make([]Message, 0, len(log))
	for _, m := range log {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// Unread returns the number of counterparty messages not yet read.
func (s *Store) Unread(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

// Last returns the most recent message of a conversation, if any.
func (s *Store) Last(conversationID string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[conversationID]
	if len(log) == 0 {
		return Message{}, false
	}
	last := log[0]
	for _, m := range log[1:] {
		if m.SentAt.After(last.SentAt) || (m.SentAt.Equal(last.SentAt) && m.ID > last.ID) {
			last = m
		}
	}
	return *last, true
}

// LatestFrom returns the highest id authored by the given sender, for
// issuing read receipts up to a point.
func (s *Store) LatestFrom(conversationID, senderID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best int64
	found := false
	for _, m := range s.logs[conversationID] {
		if m.SenderID == senderID && m.ID > best {
			best = m.ID
			found = true
		}
	}
	return best, found
}

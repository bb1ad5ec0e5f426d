package chat

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/metrics"
	"github.com/motormart/motormart-chat/internal/transport"
)

var (
	ErrEmptyMessage  = errors.New("message body is empty")
	ErrSessionClosed = errors.New("session is closed")
)

// AutoReply simulates the counterparty when no live peer exists: after a
// send it pulses the peer's typing flag and, with the given probability,
// publishes a reply through the transport. Demo affordance only; a real
// backend replaces it with actual peer traffic by leaving it nil.
type AutoReply struct {
	Probability float64
	TypingPulse time.Duration
	ReplyDelay  time.Duration
	Compose     func(sent string) string
}

var cannedReplies = []string{
	"Yes, it's still available.",
	"Sure, when would you like to take a look?",
	"I can do a small discount if you pick it up this week.",
	"It just had a full service, happy to share the records.",
	"Sounds good, let me check and get back to you.",
}

func NewAutoReply(probability float64, pulse, delay time.Duration) *AutoReply {
	return &AutoReply{
		Probability: probability,
		TypingPulse: pulse,
		ReplyDelay:  delay,
		Compose: func(string) string {
			return cannedReplies[rand.Intn(len(cannedReplies))]
		},
	}
}

// SessionConfig carries the timing knobs. The delays are demo defaults,
// not protocol requirements.
type SessionConfig struct {
	// SimulateAcks drives the SENT -> DELIVERED -> READ chain on timers
	// when no real peer will acknowledge.
	SimulateAcks  bool
	DeliveryDelay time.Duration
	ReadDelay     time.Duration

	AutoReply *AutoReply // nil disables the counterparty simulation
}

type outboxEntry struct {
	topic   string
	payload any
}

// Session binds the message store and typing coordinator to one active
// conversation and mediates between them and the realtime transport.
type Session struct {
	conversationID string
	localUser      string
	peerID         string

	store  *Store
	typing *TypingCoordinator
	tr     transport.Transport
	cfg    SessionConfig
	logger *zap.Logger

	mu     sync.Mutex
	open   bool
	gen    uint64 // bumping it invalidates every pending timer
	timers []*time.Timer
	outbox []outboxEntry
}

func NewSession(conversationID, localUser, peerID string, store *Store, typing *TypingCoordinator, tr transport.Transport, cfg SessionConfig, logger *zap.Logger) *Session {
	s := &Session{
		conversationID: conversationID,
		localUser:      localUser,
		peerID:         peerID,
		store:          store,
		typing:         typing,
		tr:             tr,
		cfg:            cfg,
		logger:         logger,
	}
	tr.OnStateChange(func(st transport.State) {
		if st == transport.Connected {
			s.flushOutbox()
		}
	})
	return s
}

// Open subscribes the conversation's topics and requests the backlog.
func (s *Session) Open() error {
	s.mu.Lock()
	if s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = true
	s.mu.Unlock()

	cid := s.conversationID
	if err := s.tr.Subscribe(transport.MessageTopic(cid), s.onMessage); err != nil {
		return err
	}
	if err := s.tr.Subscribe(transport.ReadTopic(cid), s.onRead); err != nil {
		return err
	}
	if err := s.tr.Subscribe(transport.HistoryTopic(cid), s.onHistory); err != nil {
		return err
	}

	req := transport.HistoryRequest{ConversationID: cid, RequesterID: s.localUser}
	if err := s.tr.Publish(transport.DestFetchHistory, req); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		return err
	}
	return nil
}

// Close cancels every pending timer, clears the local typing flag and
// drops the topic subscriptions. Queued sends are kept for a later flush.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.gen++
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.mu.Unlock()

	s.typing.SetTyping(s.conversationID, s.localUser, false)
	s.tr.Unsubscribe(transport.MessageTopic(s.conversationID))
	s.tr.Unsubscribe(transport.ReadTopic(s.conversationID))
	s.tr.Unsubscribe(transport.HistoryTopic(s.conversationID))
}

// Send appends a SENT message authored by the local user and hands it to
// the transport. While disconnected the message is queued in the outbox,
// still in SENT state, and flushed on reconnect.
func (s *Session) Send(text string) (Message, error) {
	body := strings.TrimSpace(text)
	if body == "" {
		return Message{}, ErrEmptyMessage
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	s.mu.Unlock()

	m := Message{
		ConversationID: s.conversationID,
		SenderID:       s.localUser,
		Body:           body,
		Kind:           KindText,
		SentAt:         time.Now(),
		State:          StateSent,
		Ref:            uuid.NewString(),
	}
	id, err := s.store.Append(m)
	if err != nil {
		return Message{}, err
	}
	m.ID = id
	metrics.MessagesSent.Inc()

	s.typing.SetTyping(s.conversationID, s.localUser, false)

	frame := transport.MessageFrame{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Kind:           string(m.Kind),
		SentAt:         m.SentAt,
		Ref:            m.Ref,
	}
	if err := s.tr.Publish(transport.DestSendMessage, frame); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			s.queue(transport.DestSendMessage, frame)
			return m, nil
		}
		return m, err
	}

	if s.cfg.SimulateAcks {
		// Resolve through the ref at fire time: the broker echo may have
		// reassigned the provisional id before the timer runs.
		cid, ref := m.ConversationID, m.Ref
		s.schedule(s.cfg.DeliveryDelay, func() {
			if id, ok := s.store.IDForRef(cid, ref); ok {
				s.store.MarkDelivered(cid, id)
			}
		})
		s.schedule(s.cfg.DeliveryDelay+s.cfg.ReadDelay, func() {
			if id, ok := s.store.IDForRef(cid, ref); ok {
				s.store.MarkRead(cid, id)
			}
		})
	}
	s.scheduleAutoReply(body)
	return m, nil
}

// Receive applies a counterparty message arriving outside the transport
// path (tests, local injection). Receipt is idempotent by id, and a
// message from a participant clears their typing flag immediately.
func (s *Session) Receive(m Message) error {
	_, err := s.store.Append(m)
	if err != nil {
		return err
	}
	if m.SenderID != s.localUser {
		s.typing.SetTyping(m.ConversationID, m.SenderID, false)
		metrics.MessagesReceived.Inc()
	}
	return nil
}

// MarkRead marks every counterparty message read locally and publishes a
// read receipt for the latest one. This is the explicit action that
// resets the unread counter; merely selecting the conversation does not.
func (s *Session) MarkRead() {
	for _, m := range s.store.ListFor(s.conversationID) {
		if m.SenderID != s.localUser {
			s.store.MarkRead(s.conversationID, m.ID)
		}
	}
	latest, ok := s.store.LatestFrom(s.conversationID, s.peerID)
	if !ok {
		return
	}
	receipt := transport.ReadReceipt{
		ConversationID: s.conversationID,
		MessageID:      latest,
		ReaderID:       s.localUser,
	}
	if err := s.tr.Publish(transport.DestMarkRead, receipt); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			s.queue(transport.DestMarkRead, receipt)
			return
		}
		s.logger.Warn("read receipt publish failed", zap.Error(err))
	}
}

// SetTyping forwards the local user's composing state.
func (s *Session) SetTyping(typing bool) {
	s.typing.SetTyping(s.conversationID, s.localUser, typing)
}

// PeerTyping reports whether the counterparty is composing.
func (s *Session) PeerTyping() bool {
	return s.typing.IsTyping(s.conversationID, s.peerID)
}

// Messages returns the conversation's message snapshot.
func (s *Session) Messages() []Message {
	return s.store.ListFor(s.conversationID)
}

// Pending is the number of frames queued while disconnected.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

func (s *Session) queue(topic string, payload any) {
	s.mu.Lock()
	s.outbox = append(s.outbox, outboxEntry{topic: topic, payload: payload})
	n := len(s.outbox)
	s.mu.Unlock()
	metrics.QueuedSends.Set(float64(n))
	s.logger.Info("transport down, queued frame",
		zap.String("topic", topic),
		zap.Int("pending", n))
}

func (s *Session) flushOutbox() {
	s.mu.Lock()
	queued := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for i, e := range queued {
		if err := s.tr.Publish(e.topic, e.payload); err != nil {
			// Keep the rest, in order, for the next reconnect.
			s.mu.Lock()
			s.outbox = append(queued[i:], s.outbox...)
			n := len(s.outbox)
			s.mu.Unlock()
			metrics.QueuedSends.Set(float64(n))
			return
		}
	}
	metrics.QueuedSends.Set(0)
}

// schedule runs fn after d unless the session was closed or superseded
// in the meantime.
func (s *Session) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	gen := s.gen
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		live := s.open && s.gen == gen
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	s.timers = append(s.timers, t)
	s.mu.Unlock()
}

func (s *Session) scheduleAutoReply(prompt string) {
	ar := s.cfg.AutoReply
	if ar == nil || rand.Float64() >= ar.Probability {
		return
	}
	s.schedule(ar.TypingPulse, func() {
		s.typing.SetTyping(s.conversationID, s.peerID, true)
	})
	s.schedule(ar.ReplyDelay, func() {
		s.typing.SetTyping(s.conversationID, s.peerID, false)
		reply := transport.MessageFrame{
			ConversationID: s.conversationID,
			SenderID:       s.peerID,
			Body:           ar.Compose(prompt),
			Kind:           string(KindText),
			SentAt:         time.Now(),
		}
		if err := s.tr.Publish(transport.DestSendMessage, reply); err != nil {
			s.logger.Debug("auto-reply dropped", zap.Error(err))
		}
	})
}

// onMessage handles broadcasts on the conversation's message topic. An
// echo of an own message is the delivery ack: the provisional id is
// reconciled to the server-assigned one and the message advances to
// DELIVERED. Counterparty messages are appended (dedup by id) and clear
// the sender's typing flag without waiting for the expiry timer.
func (s *Session) onMessage(payload []byte) {
	var f transport.MessageFrame
	if err := json.Unmarshal(payload, &f); err != nil {
		s.dropPayload("message", err)
		return
	}
	s.apply(f, true)
}

func (s *Session) onRead(payload []byte) {
	var r transport.ReadReceipt
	if err := json.Unmarshal(payload, &r); err != nil {
		s.dropPayload("read receipt", err)
		return
	}
	if r.ReaderID == s.localUser {
		return // our own receipt echoed back
	}
	// Step through Delivered first; a receipt implies delivery.
	s.store.MarkDelivered(r.ConversationID, r.MessageID)
	s.store.MarkRead(r.ConversationID, r.MessageID)
	metrics.ReadReceipts.Inc()
}

func (s *Session) onHistory(payload []byte) {
	var h transport.HistoryReply
	if err := json.Unmarshal(payload, &h); err != nil {
		s.dropPayload("history", err)
		return
	}
	for _, f := range h.Messages {
		s.apply(f, false)
	}
}

func (s *Session) apply(f transport.MessageFrame, live bool) {
	if f.SenderID == s.localUser {
		if f.Ref != "" {
			if id, ok := s.store.IDForRef(f.ConversationID, f.Ref); ok {
				if f.ID != 0 && f.ID != id {
					if err := s.store.Reassign(f.ConversationID, id, f.ID); err != nil {
						s.logger.Warn("id reconciliation conflict",
							zap.Int64("provisional", id),
							zap.Int64("server", f.ID))
						return
					}
					id = f.ID
				}
				// Echo or history presence is the delivery ack.
				s.store.MarkDelivered(f.ConversationID, id)
				return
			}
		}
		// Own message we have no record of (other device, fresh replay).
		m := frameToMessage(f)
		m.State = StateDelivered
		if _, err := s.store.Append(m); err != nil && errors.Is(err, ErrDuplicateMessage) {
			s.logger.Warn("discarding duplicate own message", zap.Int64("id", f.ID))
		}
		return
	}

	m := frameToMessage(f)
	_, err := s.store.Append(m)
	if err != nil {
		if errors.Is(err, ErrDuplicateMessage) {
			s.logger.Warn("discarding duplicate peer message", zap.Int64("id", f.ID))
		}
		return
	}
	if live {
		s.typing.SetTyping(f.ConversationID, f.SenderID, false)
		metrics.MessagesReceived.Inc()
	}
}

func (s *Session) dropPayload(kind string, err error) {
	metrics.DecodeFailures.Inc()
	s.logger.Warn("dropping malformed payload",
		zap.String("kind", kind),
		zap.Error(err))
}

func frameToMessage(f transport.MessageFrame) Message {
	kind := MessageKind(f.Kind)
	if kind == "" {
		kind = KindText
	}
	return Message{
		ID:             f.ID,
		ConversationID: f.ConversationID,
		SenderID:       f.SenderID,
		Body:           f.Body,
		Kind:           kind,
		SentAt:         f.SentAt,
		Ref:            f.Ref,
	}
}

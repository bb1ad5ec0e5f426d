package transport

import (
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/metrics"
)

// Simulator is an in-process stand-in for the broker. It answers the
// same destinations the live broker does: send-message is echoed back on
// the conversation's message topic with an authoritative id, mark-as-read
// fans out on the read topic, fetch-history replays the backlog it has
// accumulated. Frames flow through a single dispatch goroutine, so
// delivery order within a conversation matches publish order.
type Simulator struct {
	mu       sync.Mutex
	state    State
	subs     map[string][]Handler
	stateObs []func(State)

	history map[string][]MessageFrame
	nextID  map[string]int64

	frames chan Frame
	done   chan struct{}
	once   sync.Once

	logger *zap.Logger
}

func NewSimulator(logger *zap.Logger) *Simulator {
	s := &Simulator{
		state:   Disconnected,
		subs:    map[string][]Handler{},
		history: map[string][]MessageFrame{},
		nextID:  map[string]int64{},
		frames:  make(chan Frame, 64),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go s.run()
	return s
}

func (s *Simulator) Connect() error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connected
	// Replay backlogs for every history subscription, reconciling
	// whatever was missed while disconnected.
	var replays []string
	for topic := range s.subs {
		if cid, ok := strings.CutPrefix(topic, "history/"); ok {
			replays = append(replays, cid)
		}
	}
	s.mu.Unlock()
	s.notifyState(Connected)

	for _, cid := range replays {
		s.enqueue(Frame{Topic: DestFetchHistory, Payload: mustJSON(HistoryRequest{ConversationID: cid})})
	}
	return nil
}

func (s *Simulator) Disconnect() {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.mu.Unlock()
	s.notifyState(Disconnected)
}

// Close stops the dispatch goroutine. The simulator is unusable after.
func (s *Simulator) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Simulator) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.stateObs = append(s.stateObs, fn)
	s.mu.Unlock()
}

func (s *Simulator) Subscribe(topic string, h Handler) error {
	s.mu.Lock()
	s.subs[topic] = append(s.subs[topic], h)
	s.mu.Unlock()
	return nil
}

func (s *Simulator) Unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.subs, topic)
	s.mu.Unlock()
}

func (s *Simulator) Publish(topic string, payload any) error {
	s.mu.Lock()
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.enqueue(Frame{Topic: topic, Payload: raw})
	return nil
}

// Deliver injects a frame as if it arrived from the far side, regardless
// of connection state. Test and demo hook for counterparty traffic.
func (s *Simulator) Deliver(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.enqueue(Frame{Topic: topic, Payload: raw})
}

func (s *Simulator) enqueue(f Frame) {
	select {
	case s.frames <- f:
	case <-s.done:
	}
}

func (s *Simulator) run() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.frames:
			s.route(f)
		}
	}
}

func (s *Simulator) route(f Frame) {
	switch f.Topic {
	case DestSendMessage:
		var m MessageFrame
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			s.drop(f.Topic, err)
			return
		}
		s.record(&m)
		out, _ := json.Marshal(m)
		s.dispatch(MessageTopic(m.ConversationID), out)

	case DestMarkRead:
		var r ReadReceipt
		if err := json.Unmarshal(f.Payload, &r); err != nil {
			s.drop(f.Topic, err)
			return
		}
		s.dispatch(ReadTopic(r.ConversationID), f.Payload)

	case DestFetchHistory:
		var req HistoryRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			s.drop(f.Topic, err)
			return
		}
		s.mu.Lock()
		reply := HistoryReply{
			ConversationID: req.ConversationID,
			Messages:       append([]MessageFrame(nil), s.history[req.ConversationID]...),
		}
		s.mu.Unlock()
		out, _ := json.Marshal(reply)
		s.dispatch(HistoryTopic(req.ConversationID), out)

	default:
		// Raw topic injection (peer traffic in tests).
		s.dispatch(f.Topic, f.Payload)
	}
}

// record assigns an authoritative id when the frame carries none and
// appends the message to the conversation backlog.
func (s *Simulator) record(m *MessageFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextID[m.ConversationID] == 0 {
		s.nextID[m.ConversationID] = 1
	}
	if m.ID == 0 {
		m.ID = s.nextID[m.ConversationID]
	}
	if m.ID >= s.nextID[m.ConversationID] {
		s.nextID[m.ConversationID] = m.ID + 1
	}
	s.history[m.ConversationID] = append(s.history[m.ConversationID], *m)
}

// dispatch delivers to subscribers. While disconnected nothing reaches
// the local side; the backlog is replayed on reconnect instead.
func (s *Simulator) dispatch(topic string, payload []byte) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	handlers := append([]Handler(nil), s.subs[topic]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (s *Simulator) drop(topic string, err error) {
	metrics.DecodeFailures.Inc()
	s.logger.Warn("dropping malformed payload",
		zap.String("topic", topic),
		zap.Error(err))
}

func (s *Simulator) notifyState(st State) {
	s.mu.Lock()
	obs := make([]func(State), len(s.stateObs))
	copy(obs, s.stateObs)
	s.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}

func mustJSON(v any) json.RawMessage {
	raw, _ := json.Marshal(v)
	return raw
}

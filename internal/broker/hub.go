package broker

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/metrics"
	"github.com/motormart/motormart-chat/internal/transport"
)

// Inbound pairs a frame with the client it came from.
type Inbound struct {
	Client *Client
	Frame  transport.Frame
}

// Presence is broadcast to every client when a user connects or drops.
type Presence struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

const PresenceTopic = "presence"

// Hub routes frames between connected clients: subscribe/unsubscribe
// bookkeeping, message fan-out with authoritative id assignment,
// read-receipt fan-out, and one-shot history replies.
type Hub struct {
	mu sync.RWMutex

	clients      map[string]*Client            // client id -> client
	byUser       map[string]map[string]*Client // user id -> client id -> client
	topicClients map[string]map[string]*Client // topic -> client id -> client
	clientTopics map[string]map[string]bool    // client id -> set(topic)

	RegisterChan   chan *Client
	UnregisterChan chan *Client
	InboundChan    chan Inbound

	history *HistoryLog
	logger  *zap.Logger
}

func NewHub(history *HistoryLog, logger *zap.Logger) *Hub {
	return &Hub{
		clients:        map[string]*Client{},
		byUser:         map[string]map[string]*Client{},
		topicClients:   map[string]map[string]*Client{},
		clientTopics:   map[string]map[string]bool{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		InboundChan:    make(chan Inbound, 64),
		history:        history,
		logger:         logger,
	}
}

// NewClient wires a connection into the hub. Callers start the pumps and
// push the client onto RegisterChan.
func (h *Hub) NewClient(id, userID string, conn ConnLike) *Client {
	return &Client{ID: id, UserID: userID, Conn: conn, Send: make(chan []byte, 16), hub: h}
}

func (h *Hub) History() *HistoryLog { return h.history }

func (h *Hub) Start() {
	for {
		select {
		case c := <-h.RegisterChan:
			h.addClient(c)
			h.broadcastAll(PresenceTopic, Presence{UserID: c.UserID, Online: true})

		case c := <-h.UnregisterChan:
			last := h.removeClient(c)
			if last {
				h.broadcastAll(PresenceTopic, Presence{UserID: c.UserID, Online: false})
			}

		case in := <-h.InboundChan:
			h.handleFrame(in.Client, in.Frame)
		}
	}
}

func (h *Hub) handleFrame(c *Client, f transport.Frame) {
	metrics.BrokerFrames.WithLabelValues(f.Topic).Inc()

	switch f.Topic {
	case transport.DestSubscribe, transport.DestUnsubscribe:
		var req transport.SubscribeRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			h.drop(c, f.Topic, err)
			return
		}
		if f.Topic == transport.DestSubscribe {
			h.subscribe(c, req.Topic)
		} else {
			h.unsubscribe(c, req.Topic)
		}

	case transport.DestSendMessage:
		var m transport.MessageFrame
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			h.drop(c, f.Topic, err)
			return
		}
		h.history.Record(&m)
		h.broadcast(transport.MessageTopic(m.ConversationID), m)

	case transport.DestMarkRead:
		var r transport.ReadReceipt
		if err := json.Unmarshal(f.Payload, &r); err != nil {
			h.drop(c, f.Topic, err)
			return
		}
		h.broadcast(transport.ReadTopic(r.ConversationID), r)

	case transport.DestFetchHistory:
		var req transport.HistoryRequest
		if err := json.Unmarshal(f.Payload, &req); err != nil {
			h.drop(c, f.Topic, err)
			return
		}
		reply := transport.HistoryReply{
			ConversationID: req.ConversationID,
			Messages:       h.history.For(req.ConversationID),
		}
		h.send(c, transport.HistoryTopic(req.ConversationID), reply)

	default:
		h.logger.Warn("unknown destination",
			zap.String("client", c.ID),
			zap.String("topic", f.Topic))
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = map[string]*Client{}
	}
	h.byUser[c.UserID][c.ID] = c
	metrics.BrokerClients.Set(float64(len(h.clients)))
	h.logger.Info("client registered",
		zap.String("client", c.ID),
		zap.String("user", c.UserID))
}

// removeClient reports whether it was the user's last connection.
func (h *Hub) removeClient(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	delete(h.clients, c.ID)
	for topic := range h.clientTopics[c.ID] {
		delete(h.topicClients[topic], c.ID)
		if len(h.topicClients[topic]) == 0 {
			delete(h.topicClients, topic)
		}
	}
	delete(h.clientTopics, c.ID)

	last := false
	if conns, ok := h.byUser[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.byUser, c.UserID)
			last = true
		}
	}
	close(c.Send)
	metrics.BrokerClients.Set(float64(len(h.clients)))
	h.logger.Info("client removed", zap.String("client", c.ID))
	return last
}

func (h *Hub) subscribe(c *Client, topic string) {
	if topic == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topicClients[topic] == nil {
		h.topicClients[topic] = map[string]*Client{}
	}
	h.topicClients[topic][c.ID] = c
	if h.clientTopics[c.ID] == nil {
		h.clientTopics[c.ID] = map[string]bool{}
	}
	h.clientTopics[c.ID][topic] = true
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.topicClients[topic]; ok {
		delete(s, c.ID)
		if len(s) == 0 {
			delete(h.topicClients, topic)
		}
	}
	if s, ok := h.clientTopics[c.ID]; ok {
		delete(s, topic)
	}
}

// broadcast delivers a frame to every client subscribed to the topic.
// Slow clients are skipped rather than blocking the loop.
func (h *Hub) broadcast(topic string, payload any) {
	f, err := transport.NewFrame(topic, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(f)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.topicClients[topic]))
	for _, c := range h.topicClients[topic] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) broadcastAll(topic string, payload any) {
	f, err := transport.NewFrame(topic, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(f)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.Send <- data:
		default:
		}
	}
}

// send replies to one client only (one-shot channels like history).
func (h *Hub) send(c *Client, topic string, payload any) {
	f, err := transport.NewFrame(topic, payload)
	if err != nil {
		return
	}
	data, _ := json.Marshal(f)
	select {
	case c.Send <- data:
	default:
	}
}

func (h *Hub) drop(c *Client, topic string, err error) {
	metrics.DecodeFailures.Inc()
	h.logger.Warn("dropping malformed payload",
		zap.String("client", c.ID),
		zap.String("topic", topic),
		zap.Error(err))
}

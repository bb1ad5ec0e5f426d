package transport

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 20 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	egressBufSize  = 64
)

// WSClient is the live pub/sub client: one persistent websocket to the
// broker, frames multiplexed by topic. Connection loss triggers retries
// at a fixed backoff until the cap is hit or Disconnect is called; every
// reconnect re-subscribes active topics and re-requests history so the
// message log can reconcile what was missed.
type WSClient struct {
	url    string
	userID string

	backoff     time.Duration
	maxAttempts int

	mu       sync.Mutex
	state    State
	stateObs []func(State)
	subs     map[string]Handler
	conn     *websocket.Conn
	egress   chan Frame
	closing  bool
	failed   bool
	attempts int

	logger *zap.Logger
}

func NewWSClient(url, userID string, backoff time.Duration, maxAttempts int, logger *zap.Logger) *WSClient {
	return &WSClient{
		url:         url,
		userID:      userID,
		backoff:     backoff,
		maxAttempts: maxAttempts,
		subs:        map[string]Handler{},
		logger:      logger,
	}
}

func (c *WSClient) Connect() error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return nil
	}
	c.closing = false
	c.failed = false
	c.attempts = 0
	c.state = Connecting
	c.mu.Unlock()
	c.notifyState(Connecting)

	go c.dial()
	return nil
}

func (c *WSClient) dial() {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.logger.Warn("broker dial failed", zap.String("url", c.url), zap.Error(err))
		c.retry()
		return
	}

	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.egress = make(chan Frame, egressBufSize)
	c.attempts = 0
	c.state = Connected
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	egress := c.egress
	c.mu.Unlock()
	c.notifyState(Connected)

	go c.writePump(conn, egress)
	go c.readPump(conn)

	// Re-establish server-side routing, then reconcile backlogs.
	for _, topic := range topics {
		c.enqueue(Frame{Topic: DestSubscribe, Payload: mustJSON(SubscribeRequest{Topic: topic})})
	}
	for _, topic := range topics {
		if cid, ok := strings.CutPrefix(topic, "history/"); ok {
			c.enqueue(Frame{Topic: DestFetchHistory, Payload: mustJSON(HistoryRequest{ConversationID: cid, RequesterID: c.userID})})
		}
	}
}

// retry transitions back to Disconnected and schedules another dial
// after the backoff, unless the caller disconnected or the attempt cap
// is exhausted.
func (c *WSClient) retry() {
	c.mu.Lock()
	if c.closing {
		c.state = Disconnected
		c.mu.Unlock()
		c.notifyState(Disconnected)
		return
	}
	c.attempts++
	if c.maxAttempts > 0 && c.attempts >= c.maxAttempts {
		c.failed = true
		c.state = Disconnected
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Error("giving up on broker", zap.Int("attempts", attempts))
		c.notifyState(Disconnected)
		return
	}
	c.state = Connecting
	c.mu.Unlock()
	c.notifyState(Connecting)

	metrics.Reconnects.Inc()
	time.AfterFunc(c.backoff, func() {
		c.mu.Lock()
		stale := c.closing || c.state != Connecting
		c.mu.Unlock()
		if stale {
			return
		}
		c.dial()
	})
}

func (c *WSClient) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			current := c.conn == conn
			if current {
				c.conn = nil
				c.state = Disconnected
			}
			c.mu.Unlock()
			if !current {
				return
			}
			c.notifyState(Disconnected)
			if closing {
				return
			}
			c.logger.Warn("broker connection lost", zap.Error(err))
			c.retry()
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.DecodeFailures.Inc()
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		c.mu.Lock()
		h := c.subs[f.Topic]
		c.mu.Unlock()
		if h != nil {
			h(f.Payload)
		}
	}
}

func (c *WSClient) writePump(conn *websocket.Conn, egress chan Frame) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case f, ok := <-egress:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				c.logger.Warn("broker write failed", zap.Error(err))
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (c *WSClient) Disconnect() {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.conn = nil
	if c.egress != nil {
		close(c.egress)
		c.egress = nil
	}
	wasConnected := c.state != Disconnected
	c.state = Disconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		c.notifyState(Disconnected)
	}
}

func (c *WSClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		c.enqueue(Frame{Topic: DestSubscribe, Payload: mustJSON(SubscribeRequest{Topic: topic})})
	}
	return nil
}

func (c *WSClient) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		c.enqueue(Frame{Topic: DestUnsubscribe, Payload: mustJSON(SubscribeRequest{Topic: topic})})
	}
}

func (c *WSClient) Publish(topic string, payload any) error {
	c.mu.Lock()
	connected := c.state == Connected
	failed := c.failed
	c.mu.Unlock()
	if !connected {
		if failed {
			return ErrConnectFailure
		}
		return ErrNotConnected
	}
	f, err := NewFrame(topic, payload)
	if err != nil {
		return err
	}
	c.enqueue(f)
	return nil
}

// enqueue holds the lock so Disconnect cannot close the channel under a
// pending send.
func (c *WSClient) enqueue(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.egress == nil {
		return
	}
	select {
	case c.egress <- f:
	default:
		c.logger.Warn("egress full, dropping frame", zap.String("topic", f.Topic))
	}
}

func (c *WSClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failed reports that the retry cap was exhausted. Connect may be called
// again to start over.
func (c *WSClient) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *WSClient) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.stateObs = append(c.stateObs, fn)
	c.mu.Unlock()
}

func (c *WSClient) notifyState(st State) {
	c.mu.Lock()
	obs := make([]func(State), len(c.stateObs))
	copy(obs, c.stateObs)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(st)
	}
}

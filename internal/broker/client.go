package broker

import (
	"encoding/json"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/metrics"
	"github.com/motormart/motormart-chat/internal/transport"
)

// Client is one websocket connection to the broker.
type Client struct {
	ID     string
	UserID string
	Conn   ConnLike
	Send   chan []byte

	hub *Hub
}

// ConnLike keeps the pumps testable without a real websocket.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

func (c *Client) ReadPump() {
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			c.hub.UnregisterChan <- c
			return
		}
		var f transport.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			metrics.DecodeFailures.Inc()
			c.hub.logger.Warn("dropping malformed frame",
				zap.String("client", c.ID),
				zap.Error(err))
			continue
		}
		c.hub.InboundChan <- Inbound{Client: c, Frame: f}
	}
}

func (c *Client) WritePump() {
	for data := range c.Send {
		_ = c.Conn.WriteMessage(websocket.TextMessage, data)
	}
}

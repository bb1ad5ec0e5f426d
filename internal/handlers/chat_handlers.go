package handlers

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/motormart/motormart-chat/internal/broker"
)

type ChatHandler struct {
	Hub *broker.Hub
}

func NewChatHandler(hub *broker.Hub) *ChatHandler {
	return &ChatHandler{Hub: hub}
}

// Register GET /ws/:user
func (h *ChatHandler) Register(c *websocket.Conn) {
	user := c.Params("user")
	client := h.Hub.NewClient(uuid.NewString(), user, c)
	h.Hub.RegisterChan <- client
	defer func() { h.Hub.UnregisterChan <- client }()
	go client.WritePump()
	client.ReadPump()
}

// Conversations GET /api/conversations
func (h *ChatHandler) Conversations(c *fiber.Ctx) error {
	return c.JSON(h.Hub.History().Summaries())
}

// History GET /api/history/:conversation
func (h *ChatHandler) History(c *fiber.Ctx) error {
	cid := c.Params("conversation")
	if cid == "" {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	return c.JSON(h.Hub.History().For(cid))
}

// Health GET /healthz
func (h *ChatHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

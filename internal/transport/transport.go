package transport

import (
	"encoding/json"
	"errors"
	"time"
)

// State is the connection lifecycle of the realtime transport.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	// ErrNotConnected is returned by Publish while the link is down;
	// callers may queue the frame and flush it on reconnect.
	ErrNotConnected = errors.New("transport not connected")
	// ErrConnectFailure is returned by Publish after the reconnect
	// attempt cap is exhausted. Connect starts a fresh cycle.
	ErrConnectFailure = errors.New("connect failed")
)

// Handler receives the raw payload published on a subscribed topic.
type Handler func(payload []byte)

// Transport carries messages, read receipts and history over a
// persistent connection. Implementations: the in-process simulator and
// the websocket client. Publish fails with ErrNotConnected while the
// connection is down; reconnection re-subscribes all active topics.
type Transport interface {
	Connect() error
	Disconnect()
	Subscribe(topic string, h Handler) error
	Unsubscribe(topic string)
	Publish(topic string, payload any) error
	State() State
	OnStateChange(fn func(State))
}

// Publish destinations.
const (
	DestSendMessage  = "send-message"
	DestMarkRead     = "mark-as-read"
	DestFetchHistory = "fetch-history"

	// Control destinations understood by the broker.
	DestSubscribe   = "subscribe"
	DestUnsubscribe = "unsubscribe"
)

// MessageTopic is the broadcast topic for new messages in a conversation.
func MessageTopic(conversationID string) string {
	return "chat/" + conversationID
}

// ReadTopic carries peer read receipts for a conversation.
func ReadTopic(conversationID string) string {
	return "chat/" + conversationID + "/read"
}

// HistoryTopic is the one-shot backlog reply channel for a conversation.
func HistoryTopic(conversationID string) string {
	return "history/" + conversationID
}

// Frame is the wire envelope: a topic plus an opaque JSON payload.
type Frame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func NewFrame(topic string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Topic: topic, Payload: raw}, nil
}

// MessageFrame is the payload of DestSendMessage and of MessageTopic
// broadcasts. The id is provisional on send and authoritative on
// broadcast; receivers reconcile by id.
type MessageFrame struct {
	ID             int64     `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	Kind           string    `json:"kind"`
	SentAt         time.Time `json:"sentAt"`
	Ref            string    `json:"ref,omitempty"` // sender correlation key
}

// ReadReceipt is the payload of DestMarkRead and ReadTopic broadcasts.
type ReadReceipt struct {
	ConversationID string `json:"conversationId"`
	MessageID      int64  `json:"messageId"`
	ReaderID       string `json:"readerId"`
}

// HistoryRequest is the payload of DestFetchHistory.
type HistoryRequest struct {
	ConversationID string `json:"conversationId"`
	RequesterID    string `json:"requesterId"`
}

// HistoryReply is the payload published on HistoryTopic.
type HistoryReply struct {
	ConversationID string         `json:"conversationId"`
	Messages       []MessageFrame `json:"messages"`
}

// SubscribeRequest is the payload of the subscribe/unsubscribe controls.
type SubscribeRequest struct {
	Topic string `json:"topic"`
}

package chat

import "time"

type MessageKind string

const (
	KindText MessageKind = "text"
)

// DeliveryState is the lifecycle stage of a message. It only moves
// forward: Sent -> Delivered -> Read.
type DeliveryState int

const (
	StateSent DeliveryState = iota
	StateDelivered
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	default:
		return "unknown"
	}
}

type Message struct {
	ID             int64         `json:"id"` // monotonic within a conversation
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Body           string        `json:"body"`
	Kind           MessageKind   `json:"kind"`
	SentAt         time.Time     `json:"sentAt"`
	State          DeliveryState `json:"state"`

	// Ref correlates an optimistic local echo with its server echo so
	// the provisional id can be reconciled. Only set on own messages.
	Ref string `json:"ref,omitempty"`
}

// Conversation is a two-party thread tied to a listing. Counterparty
// metadata comes from the catalog lookup; Unread and LastBody/LastAt are
// maintained by the message store.
type Conversation struct {
	ID         string `json:"id"`
	PeerID     string `json:"peer_id"`
	PeerName   string `json:"peer_name"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
	ListingID  string `json:"listing_id,omitempty"`
	Listing    string `json:"listing,omitempty"`

	Unread   int       `json:"unread"`
	Online   bool      `json:"online"`
	LastBody string    `json:"last_body,omitempty"`
	LastAt   time.Time `json:"last_at"`

	// Anyone composing in this thread right now. Derived from the typing
	// coordinator, never persisted.
	Typing bool `json:"typing"`
}

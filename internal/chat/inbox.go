package chat

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/motormart/motormart-chat/internal/transport"
)

var ErrUnknownConversation = errors.New("unknown conversation")

// Inbox holds the conversation set for the list view and routes
// selection to per-conversation sessions. The presence badge of each
// conversation is the OR of its participants' typing flags, recomputed
// whenever either flips.
type Inbox struct {
	mu        sync.RWMutex
	localUser string
	convs     map[string]*Conversation
	sessions  map[string]*Session

	store  *Store
	typing *TypingCoordinator
	tr     transport.Transport
	cfg    SessionConfig
	logger *zap.Logger
}

func NewInbox(identity IdentityProvider, catalog CatalogLookup, store *Store, typing *TypingCoordinator, tr transport.Transport, cfg SessionConfig, logger *zap.Logger) (*Inbox, error) {
	convs, err := catalog.Conversations()
	if err != nil {
		return nil, err
	}

	in := &Inbox{
		localUser: identity.LocalUserID(),
		convs:     map[string]*Conversation{},
		sessions:  map[string]*Session{},
		store:     store,
		typing:    typing,
		tr:        tr,
		cfg:       cfg,
		logger:    logger,
	}
	for i := range convs {
		c := convs[i]
		in.convs[c.ID] = &c
	}

	typing.Observe(func(conversationID, _ string, _ bool) {
		in.mu.Lock()
		if c, ok := in.convs[conversationID]; ok {
			c.Typing = typing.AnyTyping(conversationID)
		}
		in.mu.Unlock()
	})
	return in, nil
}

// List returns the conversations ordered by most recent activity
// (descending last-message time, ties broken by ascending id), with
// unread counts and previews overlaid from the message store.
func (in *Inbox) List() []Conversation {
	in.mu.RLock()
	defer in.mu.RUnlock()

	out := make([]Conversation, 0, len(in.convs))
	for _, c := range in.convs {
		cp := *c
		cp.Unread = in.store.Unread(c.ID)
		if last, ok := in.store.Last(c.ID); ok {
			cp.LastBody = last.Body
			cp.LastAt = last.SentAt
		}
		cp.Typing = in.typing.AnyTyping(c.ID)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAt.Equal(out[j].LastAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAt.After(out[j].LastAt)
	})
	return out
}

// Select returns the session for a conversation, creating it on first
// use. Selecting does not touch the unread counter; that happens only
// when the session explicitly marks messages read.
func (in *Inbox) Select(conversationID string) (*Session, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	c, ok := in.convs[conversationID]
	if !ok {
		return nil, ErrUnknownConversation
	}
	if s, ok := in.sessions[conversationID]; ok {
		return s, nil
	}
	s := NewSession(conversationID, in.localUser, c.PeerID, in.store, in.typing, in.tr, in.cfg, in.logger)
	in.sessions[conversationID] = s
	return s, nil
}

// SetOnline updates a conversation's presence flag, fed by broker
// presence broadcasts.
func (in *Inbox) SetOnline(peerID string, online bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, c := range in.convs {
		if c.PeerID == peerID {
			c.Online = online
		}
	}
}

// Close closes every open session and stops all typing timers.
func (in *Inbox) Close() {
	in.mu.Lock()
	sessions := make([]*Session, 0, len(in.sessions))
	for _, s := range in.sessions {
		sessions = append(sessions, s)
	}
	in.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	in.typing.Stop()
}

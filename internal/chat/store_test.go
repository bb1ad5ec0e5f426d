package chat

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testStore() *Store {
	return NewStore("u-local", zap.NewNop())
}

func msg(cid, sender, body string, at time.Time) Message {
	return Message{
		ConversationID: cid,
		SenderID:       sender,
		Body:           body,
		Kind:           KindText,
		SentAt:         at,
	}
}

func TestAppendAssignsProvisionalIDs(t *testing.T) {
	s := testStore()
	now := time.Now()

	id1, err := s.Append(msg("c1", "u-local", "first", now))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id2, err := s.Append(msg("c1", "u-local", "second", now))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id1 != -1 || id2 != -2 {
		t.Fatalf("got ids %d, %d, want -1, -2", id1, id2)
	}
}

func TestProvisionalIDNeverCollidesWithBrokerID(t *testing.T) {
	s := testStore()
	now := time.Now()

	own := msg("c1", "u-local", "queued while offline", now)
	own.Ref = "ref-1"
	provisional, err := s.Append(own)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Backlog message holding the broker's first id must land cleanly
	// even while the local send is unreconciled.
	peer := msg("c1", "u-peer", "missed you", now)
	peer.ID = 1
	if _, err := s.Append(peer); err != nil {
		t.Fatalf("backlog append: %v", err)
	}
	if got := len(s.ListFor("c1")); got != 2 {
		t.Fatalf("got %d messages, want both retained", got)
	}
	if got := s.Unread("c1"); got != 1 {
		t.Fatalf("got unread %d, want 1", got)
	}

	// The local send still reconciles to its own broker id afterwards.
	if err := s.Reassign("c1", provisional, 2); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if id, ok := s.IDForRef("c1", "ref-1"); !ok || id != 2 {
		t.Fatalf("got ref id %d (%v), want 2", id, ok)
	}
}

func TestAppendIdempotentReceipt(t *testing.T) {
	s := testStore()
	m := msg("c1", "u-peer", "hello", time.Now())
	m.ID = 7

	if _, err := s.Append(m); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Append(m); err != nil {
		t.Fatalf("redelivery must be a no-op, got %v", err)
	}
	if got := len(s.ListFor("c1")); got != 1 {
		t.Fatalf("got %d entries, want 1", got)
	}
}

func TestAppendConflictKeepsFirstSeen(t *testing.T) {
	s := testStore()
	now := time.Now()
	first := msg("c1", "u-peer", "original", now)
	first.ID = 3
	if _, err := s.Append(first); err != nil {
		t.Fatalf("append: %v", err)
	}

	conflict := msg("c1", "u-peer", "tampered", now)
	conflict.ID = 3
	if _, err := s.Append(conflict); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("got %v, want ErrDuplicateMessage", err)
	}
	if got := s.ListFor("c1")[0].Body; got != "original" {
		t.Fatalf("got body %q, want first-seen payload", got)
	}
}

func TestDeliveryStateMonotonic(t *testing.T) {
	tests := []struct {
		name  string
		steps func(s *Store, id int64)
		want  DeliveryState
	}{
		{
			name: "sent to delivered to read",
			steps: func(s *Store, id int64) {
				s.MarkDelivered("c1", id)
				s.MarkRead("c1", id)
			},
			want: StateRead,
		},
		{
			name: "read never regresses",
			steps: func(s *Store, id int64) {
				s.MarkDelivered("c1", id)
				s.MarkRead("c1", id)
				s.MarkDelivered("c1", id)
			},
			want: StateRead,
		},
		{
			name: "repeated delivered is idempotent",
			steps: func(s *Store, id int64) {
				s.MarkDelivered("c1", id)
				s.MarkDelivered("c1", id)
			},
			want: StateDelivered,
		},
		{
			name:  "unknown id is a no-op",
			steps: func(s *Store, _ int64) { s.MarkRead("c1", 99) },
			want:  StateSent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testStore()
			id, err := s.Append(msg("c1", "u-local", "hello", time.Now()))
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			tt.steps(s, id)
			if got := s.ListFor("c1")[0].State; got != tt.want {
				t.Fatalf("got state %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnreadCounter(t *testing.T) {
	s := testStore()
	now := time.Now()

	ownID, _ := s.Append(msg("c1", "u-local", "own", now))
	if got := s.Unread("c1"); got != 0 {
		t.Fatalf("own message must not count, got %d", got)
	}

	peerID, _ := s.Append(msg("c1", "u-peer", "theirs", now))
	if got := s.Unread("c1"); got != 1 {
		t.Fatalf("got unread %d, want 1", got)
	}

	s.MarkDelivered("c1", peerID)
	if got := s.Unread("c1"); got != 1 {
		t.Fatalf("delivered must not clear unread, got %d", got)
	}

	s.MarkRead("c1", ownID)
	if got := s.Unread("c1"); got != 1 {
		t.Fatalf("reading own message must not touch unread, got %d", got)
	}

	s.MarkRead("c1", peerID)
	if got := s.Unread("c1"); got != 0 {
		t.Fatalf("got unread %d, want 0", got)
	}
}

func TestListForOrdering(t *testing.T) {
	s := testStore()
	base := time.Now()

	late := msg("c1", "u-peer", "late", base.Add(2*time.Second))
	late.ID = 1
	early := msg("c1", "u-peer", "early", base)
	early.ID = 2
	tieA := msg("c1", "u-peer", "tie-a", base.Add(time.Second))
	tieA.ID = 9
	tieB := msg("c1", "u-peer", "tie-b", base.Add(time.Second))
	tieB.ID = 4

	for _, m := range []Message{late, early, tieA, tieB} {
		if _, err := s.Append(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var got []string
	for _, m := range s.ListFor("c1") {
		got = append(got, m.Body)
	}
	want := []string{"early", "tie-b", "tie-a", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got order %v, want %v", got, want)
		}
	}
}

func TestReassignReconcilesProvisionalID(t *testing.T) {
	s := testStore()
	m := msg("c1", "u-local", "hello", time.Now())
	m.Ref = "ref-1"
	id, _ := s.Append(m)

	if err := s.Reassign("c1", id, 40); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got, ok := s.IDForRef("c1", "ref-1"); !ok || got != 40 {
		t.Fatalf("got ref id %d (%v), want 40", got, ok)
	}
	if _, ok := s.byID["c1"][id]; ok {
		t.Fatal("provisional id still present after reassign")
	}

	// Fresh provisional ids stay in the negative keyspace and never
	// reuse a retired one.
	next, _ := s.Append(msg("c1", "u-local", "again", time.Now()))
	if next >= 0 || next == id {
		t.Fatalf("got next provisional id %d, want a fresh negative id", next)
	}
}

func TestReassignConflict(t *testing.T) {
	s := testStore()
	now := time.Now()

	mine := msg("c1", "u-local", "mine", now)
	mine.Ref = "ref-1"
	id, _ := s.Append(mine)

	taken := msg("c1", "u-peer", "occupied", now)
	taken.ID = 5
	s.Append(taken)

	if err := s.Reassign("c1", id, 5); !errors.Is(err, ErrDuplicateMessage) {
		t.Fatalf("got %v, want ErrDuplicateMessage", err)
	}
	if got := s.byID["c1"][5].Body; got != "occupied" {
		t.Fatalf("first-seen payload must win, got %q", got)
	}
}

func TestLastAndLatestFrom(t *testing.T) {
	s := testStore()
	base := time.Now()

	s.Append(msg("c1", "u-local", "one", base))
	two := msg("c1", "u-peer", "two", base.Add(time.Second))
	two.ID = 2
	s.Append(two)
	three := msg("c1", "u-peer", "three", base.Add(2*time.Second))
	three.ID = 3
	s.Append(three)

	last, ok := s.Last("c1")
	if !ok || last.Body != "three" {
		t.Fatalf("got last %q (%v), want three", last.Body, ok)
	}
	id, ok := s.LatestFrom("c1", "u-peer")
	if !ok || id != 3 {
		t.Fatalf("got latest peer id %d (%v), want 3", id, ok)
	}
	if _, ok := s.Last("empty"); ok {
		t.Fatal("empty conversation must report no last message")
	}
}

package chat

import (
	"sync"
	"testing"
	"time"
)

const testExpiry = 100 * time.Millisecond

func TestTypingExpiresAfterQuiescence(t *testing.T) {
	tc := NewTypingCoordinator(testExpiry)
	defer tc.Stop()

	tc.SetTyping("c1", "u1", true)
	if !tc.IsTyping("c1", "u1") {
		t.Fatal("must be typing right after SetTyping(true)")
	}

	time.Sleep(testExpiry / 2)
	if !tc.IsTyping("c1", "u1") {
		t.Fatal("cleared before the quiescence window elapsed")
	}

	time.Sleep(testExpiry)
	if tc.IsTyping("c1", "u1") {
		t.Fatal("still typing after the window expired")
	}
}

func TestTypingRefreshDebounces(t *testing.T) {
	tc := NewTypingCoordinator(testExpiry)
	defer tc.Stop()

	tc.SetTyping("c1", "u1", true)
	time.Sleep(testExpiry * 3 / 4)
	tc.SetTyping("c1", "u1", true) // keystroke refresh

	// Past the first timer's deadline: the refresh must have replaced
	// it, with no flicker to false in between.
	time.Sleep(testExpiry / 2)
	if !tc.IsTyping("c1", "u1") {
		t.Fatal("refresh did not supersede the first timer")
	}

	time.Sleep(testExpiry)
	if tc.IsTyping("c1", "u1") {
		t.Fatal("still typing after the refreshed window expired")
	}
}

func TestTypingFalseClearsImmediately(t *testing.T) {
	tc := NewTypingCoordinator(time.Hour)
	defer tc.Stop()

	tc.SetTyping("c1", "u1", true)
	tc.SetTyping("c1", "u1", false)
	if tc.IsTyping("c1", "u1") {
		t.Fatal("SetTyping(false) must clear without waiting for the timer")
	}
}

func TestTypingConversationsIndependent(t *testing.T) {
	tc := NewTypingCoordinator(time.Hour)
	defer tc.Stop()

	tc.SetTyping("c1", "u1", true)
	tc.SetTyping("c2", "u1", true)

	if tc.IsTyping("c2", "u2") || tc.IsTyping("c3", "u1") {
		t.Fatal("typing leaked across keys")
	}

	tc.SetTyping("c2", "u1", false)
	if !tc.IsTyping("c1", "u1") {
		t.Fatal("clearing conversation c2 affected c1")
	}
	if !tc.AnyTyping("c1") || tc.AnyTyping("c2") {
		t.Fatal("per-conversation flags wrong after clearing c2")
	}
}

func TestTypingObserverSeesFlips(t *testing.T) {
	tc := NewTypingCoordinator(testExpiry)
	defer tc.Stop()

	var mu sync.Mutex
	var events []bool
	tc.Observe(func(cid, pid string, typing bool) {
		if cid != "c1" || pid != "u1" {
			t.Errorf("unexpected key %s/%s", cid, pid)
		}
		mu.Lock()
		events = append(events, typing)
		mu.Unlock()
	})

	tc.SetTyping("c1", "u1", true)
	tc.SetTyping("c1", "u1", true) // refresh, no extra notification
	time.Sleep(testExpiry * 2)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || !events[0] || events[1] {
		t.Fatalf("got events %v, want [true false]", events)
	}
}

func TestTypingStopCancelsTimers(t *testing.T) {
	tc := NewTypingCoordinator(testExpiry)

	notified := make(chan struct{}, 1)
	tc.Observe(func(_, _ string, typing bool) {
		if !typing {
			notified <- struct{}{}
		}
	})

	tc.SetTyping("c1", "u1", true)
	tc.Stop()
	if tc.IsTyping("c1", "u1") {
		t.Fatal("Stop must clear all entries")
	}

	select {
	case <-notified:
		t.Fatal("expiry fired after Stop")
	case <-time.After(testExpiry * 2):
	}
}

package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func collect(t *testing.T, sim *Simulator, topic string) chan []byte {
	t.Helper()
	out := make(chan []byte, 16)
	if err := sim.Subscribe(topic, func(p []byte) { out <- p }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return out
}

func recv(t *testing.T, ch chan []byte) []byte {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

func TestPublishWhileDisconnected(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()

	err := sim.Publish(DestSendMessage, MessageFrame{ConversationID: "c1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}

func TestSendMessageEchoAssignsID(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()
	out := collect(t, sim, MessageTopic("c1"))
	sim.Connect()

	err := sim.Publish(DestSendMessage, MessageFrame{
		ConversationID: "c1",
		SenderID:       "u1",
		Body:           "hi",
		Ref:            "r1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	var m MessageFrame
	if err := json.Unmarshal(recv(t, out), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != 1 || m.Ref != "r1" {
		t.Fatalf("got id %d ref %q, want authoritative id 1 with ref kept", m.ID, m.Ref)
	}
}

func TestReadReceiptFanout(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()
	out := collect(t, sim, ReadTopic("c1"))
	sim.Connect()

	if err := sim.Publish(DestMarkRead, ReadReceipt{ConversationID: "c1", MessageID: 2, ReaderID: "u2"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var r ReadReceipt
	if err := json.Unmarshal(recv(t, out), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.MessageID != 2 || r.ReaderID != "u2" {
		t.Fatalf("got %+v", r)
	}
}

func TestHistoryReplayOnReconnect(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()
	sim.Connect()
	history := collect(t, sim, HistoryTopic("c1"))

	sim.Publish(DestFetchHistory, HistoryRequest{ConversationID: "c1"})
	recv(t, history) // empty backlog

	sim.Disconnect()
	// Far-side traffic keeps landing on the broker while we're away.
	sim.Deliver(DestSendMessage, MessageFrame{ConversationID: "c1", SenderID: "u2", Body: "missed"})

	sim.Connect()
	var reply HistoryReply
	if err := json.Unmarshal(recv(t, history), &reply); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(reply.Messages) != 1 || reply.Messages[0].Body != "missed" {
		t.Fatalf("got %+v, want the missed message replayed", reply.Messages)
	}
}

func TestNoDeliveryWhileDisconnected(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()
	out := collect(t, sim, MessageTopic("c1"))

	sim.Deliver(DestSendMessage, MessageFrame{ConversationID: "c1", SenderID: "u2", Body: "void"})

	select {
	case <-out:
		t.Fatal("frame delivered while disconnected")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()
	out := collect(t, sim, MessageTopic("c1"))
	sim.Connect()

	if err := sim.Publish(DestSendMessage, "not a message object"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Dropped with a logged decode failure; a valid frame still flows.
	if err := sim.Publish(DestSendMessage, MessageFrame{ConversationID: "c1", SenderID: "u1", Body: "ok"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var m MessageFrame
	if err := json.Unmarshal(recv(t, out), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Body != "ok" {
		t.Fatalf("got %q, want the valid frame only", m.Body)
	}
}

func TestStateChangeNotifications(t *testing.T) {
	sim := NewSimulator(zap.NewNop())
	defer sim.Close()

	var states []State
	sim.OnStateChange(func(st State) { states = append(states, st) })

	sim.Connect()
	sim.Disconnect()
	sim.Connect()

	want := []State{Connected, Disconnected, Connected}
	if len(states) != len(want) {
		t.Fatalf("got %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("got %v, want %v", states, want)
		}
	}
}

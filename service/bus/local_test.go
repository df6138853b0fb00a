package bus

import (
	"context"
	"encoding/json"
	"testing"
)

func TestLocalBusRoomDelivery(t *testing.T) {
	var got []Envelope
	b := NewLocalBus(func(env Envelope) { got = append(got, env) }, func(string) int { return 0 })

	if err := b.JoinRoom("7"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	env := Envelope{Event: "private message", Data: json.RawMessage(`{"content":"hi"}`)}
	if err := b.PublishRoom(context.Background(), "7", env); err != nil {
		t.Fatalf("PublishRoom: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("delivered %d envelopes, want 1", len(got))
	}
	if got[0].Room != "7" || got[0].Event != "private message" {
		t.Errorf("delivered envelope = %+v", got[0])
	}
}

func TestLocalBusUnjoinedRoomDropped(t *testing.T) {
	delivered := 0
	b := NewLocalBus(func(Envelope) { delivered++ }, func(string) int { return 0 })

	if err := b.PublishRoom(context.Background(), "9", Envelope{Event: "x"}); err != nil {
		t.Fatalf("PublishRoom: %v", err)
	}
	if delivered != 0 {
		t.Fatal("envelope delivered to a room with no local members")
	}

	_ = b.JoinRoom("9")
	_ = b.LeaveRoom("9")
	_ = b.PublishRoom(context.Background(), "9", Envelope{Event: "x"})
	if delivered != 0 {
		t.Fatal("envelope delivered after leaving the room")
	}
}

func TestLocalBusBroadcast(t *testing.T) {
	delivered := 0
	b := NewLocalBus(func(Envelope) { delivered++ }, func(string) int { return 0 })
	if err := b.Broadcast(context.Background(), Envelope{Event: "user connected"}); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if delivered != 1 {
		t.Fatalf("broadcast delivered %d times", delivered)
	}
}

func TestLocalBusLiveConnections(t *testing.T) {
	counts := map[string]int{"a": 2, "b": 0}
	b := NewLocalBus(func(Envelope) {}, func(user string) int { return counts[user] })

	n, err := b.LiveConnections(context.Background(), "a")
	if err != nil || n != 2 {
		t.Fatalf("LiveConnections(a) = %d, %v", n, err)
	}
	n, _ = b.LiveConnections(context.Background(), "b")
	if n != 0 {
		t.Fatalf("LiveConnections(b) = %d", n)
	}
}

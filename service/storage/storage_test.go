package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/gutche/yappin/module/chat/model"
)

func staticCount(n int) LiveCountFunc {
	return func(context.Context, string) (int, error) { return n, nil }
}

func TestMemoryPresenceLifecycle(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPresence()

	went, err := p.MarkOnline(ctx, "7")
	if err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	if !went {
		t.Fatal("first MarkOnline did not report the online edge")
	}
	on, err := p.IsOnline(ctx, "7")
	if err != nil || !on {
		t.Fatalf("IsOnline after MarkOnline = %v, %v", on, err)
	}

	// connections remain elsewhere in the fleet: presence must hold
	went, err = p.MarkOfflineIfLast(ctx, "7", staticCount(2))
	if err != nil || went {
		t.Fatalf("MarkOfflineIfLast with live conns = %v, %v", went, err)
	}
	if on, _ := p.IsOnline(ctx, "7"); !on {
		t.Fatal("presence flipped offline while connections remain")
	}

	// last connection gone
	went, err = p.MarkOfflineIfLast(ctx, "7", staticCount(0))
	if err != nil || !went {
		t.Fatalf("MarkOfflineIfLast with zero conns = %v, %v", went, err)
	}
	if on, _ := p.IsOnline(ctx, "7"); on {
		t.Fatal("still online after last connection closed")
	}
}

func TestMemoryPresenceMarkOnlineIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPresence()
	for i := 0; i < 3; i++ {
		went, err := p.MarkOnline(ctx, "9")
		if err != nil {
			t.Fatalf("MarkOnline: %v", err)
		}
		// only the first add is the edge; repeats must not re-report it
		if went != (i == 0) {
			t.Fatalf("MarkOnline call %d reported edge=%v", i, went)
		}
	}
	users, err := p.ListOnline(ctx)
	if err != nil {
		t.Fatalf("ListOnline: %v", err)
	}
	if len(users) != 1 || users[0] != "9" {
		t.Fatalf("ListOnline = %v", users)
	}
}

func TestMemorySessionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()

	if _, ok, _ := s.Lookup(ctx, "missing"); ok {
		t.Fatal("lookup hit on a token never saved")
	}

	rec := model.Session{UserID: "1", Username: "ana", Connected: true}
	if err := s.Save(ctx, "tok-1", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, ok, err := s.Lookup(ctx, "tok-1")
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if got != rec {
		t.Fatalf("Lookup = %+v, want %+v", got, rec)
	}

	// last-write-wins on the connected flag
	rec.Connected = false
	if err := s.Save(ctx, "tok-1", rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, _ = s.Lookup(ctx, "tok-1")
	if got.Connected {
		t.Fatal("connected flag not overwritten")
	}
}

func TestMemoryMessageCacheBothRings(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryMessageCache()

	m := model.Message{Content: "hi", SenderID: "a", RecipientID: "b", SentAt: 1}
	if err := c.Append(ctx, m); err != nil {
		t.Fatalf("Append: %v", err)
	}

	for _, user := range []string{"a", "b"} {
		got, err := c.RecentForUser(ctx, user)
		if err != nil {
			t.Fatalf("RecentForUser(%s): %v", user, err)
		}
		if len(got) != 1 || got[0].Content != "hi" {
			t.Fatalf("RecentForUser(%s) = %v", user, got)
		}
	}
}

func TestMemoryMessageCacheRingBoundFIFO(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryMessageCache()

	for i := 0; i < RingSize+10; i++ {
		m := model.Message{
			Content:     fmt.Sprintf("msg-%d", i),
			SenderID:    "a",
			RecipientID: "b",
			SentAt:      int64(i),
		}
		if err := c.Append(ctx, m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := c.RecentForUser(ctx, "a")
	if err != nil {
		t.Fatalf("RecentForUser: %v", err)
	}
	if len(got) != RingSize {
		t.Fatalf("ring holds %d entries, want %d", len(got), RingSize)
	}
	// oldest evicted first: ring starts at msg-10, newest last
	if got[0].Content != "msg-10" {
		t.Errorf("oldest surviving entry = %s, want msg-10", got[0].Content)
	}
	if got[len(got)-1].Content != fmt.Sprintf("msg-%d", RingSize+9) {
		t.Errorf("newest entry = %s", got[len(got)-1].Content)
	}
}

package gateway

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gutche/yappin/module/chat/model"
	"github.com/gutche/yappin/service/bus"
	"github.com/gutche/yappin/service/storage"
)

func newHydrateServer(durable *fakeDurable) (*Server, storage.MessageCache, storage.PresenceDirectory) {
	cache := storage.NewMemoryMessageCache()
	presence := storage.NewMemoryPresence()
	srv := NewServer(Options{StoreTimeout: time.Second},
		presence, storage.NewMemorySessions(), cache, durable, durable, nil)
	srv.AttachBus(bus.NewLocalBus(srv.Deliver, srv.LocalConnCount))
	return srv, cache, presence
}

func seedConversation(durable *fakeDurable, cache storage.MessageCache, a, b string, total, cachedTail int) {
	ctx := context.Background()
	for i := 0; i < total; i++ {
		m := model.Message{
			Content:     fmt.Sprintf("%s-%s-%d", a, b, i),
			SenderID:    a,
			RecipientID: b,
			SentAt:      int64(1000 + i),
		}
		conv := durable.seed(m)
		if i >= total-cachedTail {
			m.ConversationID = conv
			_ = cache.Append(ctx, m)
		}
	}
}

func TestActiveChatsCacheOnly(t *testing.T) {
	durable := newFakeDurable()
	srv, cache, _ := newHydrateServer(durable)
	// a full ring: durable fallback must not run even though more exists
	seedConversation(durable, cache, "u1", "u2", 30, 20)

	chats := srv.activeChats(context.Background(), "u1")
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
	chat := chats[0]
	if chat.UserID != "u2" {
		t.Errorf("counterpart = %s", chat.UserID)
	}
	if len(chat.Messages) != 20 {
		t.Fatalf("messages = %d, want 20", len(chat.Messages))
	}
	if !chat.HasMoreMessages {
		t.Error("HasMoreMessages = false with 30 durable messages and 20 loaded")
	}
}

func TestActiveChatsDurableFallbackGapFree(t *testing.T) {
	durable := newFakeDurable()
	srv, cache, _ := newHydrateServer(durable)
	// five cached, twelve total: fallback loads the seven older ones
	seedConversation(durable, cache, "u1", "u2", 12, 5)

	chats := srv.activeChats(context.Background(), "u1")
	if len(chats) != 1 {
		t.Fatalf("chats = %d, want 1", len(chats))
	}
	msgs := chats[0].Messages
	if len(msgs) != 12 {
		t.Fatalf("merged messages = %d, want 12", len(msgs))
	}
	// gap-free and duplicate-free: exactly the durable window, in order
	seen := make(map[string]bool)
	for i, m := range msgs {
		want := fmt.Sprintf("u1-u2-%d", i)
		if m.Content != want {
			t.Errorf("message %d = %s, want %s", i, m.Content, want)
		}
		if seen[m.Content] {
			t.Errorf("duplicate message %s", m.Content)
		}
		seen[m.Content] = true
	}
	if chats[0].HasMoreMessages {
		t.Error("HasMoreMessages = true with everything loaded")
	}
}

func TestActiveChatsGroupsByCounterpart(t *testing.T) {
	durable := newFakeDurable()
	srv, cache, presence := newHydrateServer(durable)
	durable.profiles["u2"] = model.UserProfile{Username: "bea", Avatar: "b.png"}
	durable.profiles["u3"] = model.UserProfile{Username: "cal"}
	_, _ = presence.MarkOnline(context.Background(), "u2")

	seedConversation(durable, cache, "u1", "u2", 3, 3)
	seedConversation(durable, cache, "u3", "u1", 2, 2)

	chats := srv.activeChats(context.Background(), "u1")
	if len(chats) != 2 {
		t.Fatalf("chats = %d, want 2", len(chats))
	}
	byUser := make(map[string]ActiveChat)
	for _, chat := range chats {
		byUser[chat.UserID] = chat
	}

	u2 := byUser["u2"]
	if u2.Username != "bea" || u2.Avatar != "b.png" {
		t.Errorf("u2 profile = %q/%q", u2.Username, u2.Avatar)
	}
	if !u2.Connected {
		t.Error("u2 should be annotated connected")
	}
	if len(u2.Messages) != 3 {
		t.Errorf("u2 messages = %d", len(u2.Messages))
	}

	u3 := byUser["u3"]
	if u3.Connected {
		t.Error("u3 should be annotated offline")
	}
	if len(u3.Messages) != 2 {
		t.Errorf("u3 messages = %d", len(u3.Messages))
	}
}

func TestActiveChatsEmpty(t *testing.T) {
	durable := newFakeDurable()
	srv, _, _ := newHydrateServer(durable)
	chats := srv.activeChats(context.Background(), "nobody")
	if len(chats) != 0 {
		t.Fatalf("chats = %d, want 0", len(chats))
	}
}

func TestActiveChatsMessagesSortedBySentAt(t *testing.T) {
	durable := newFakeDurable()
	srv, cache, _ := newHydrateServer(durable)
	seedConversation(durable, cache, "u1", "u2", 25, 10)

	chats := srv.activeChats(context.Background(), "u1")
	if len(chats) != 1 {
		t.Fatalf("chats = %d", len(chats))
	}
	msgs := chats[0].Messages
	for i := 1; i < len(msgs); i++ {
		if msgs[i].SentAt < msgs[i-1].SentAt {
			t.Fatalf("messages out of order at %d: %d < %d", i, msgs[i].SentAt, msgs[i-1].SentAt)
		}
	}
}

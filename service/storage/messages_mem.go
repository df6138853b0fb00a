package storage

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gutche/yappin/module/chat/model"
)

type ring struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (r *ring) push(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
	if len(r.msgs) > RingSize {
		r.msgs = r.msgs[len(r.msgs)-RingSize:]
	}
}

func (r *ring) snapshot() []model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// MemoryMessageCache is the single-worker message ring variant. TTL is
// not enforced here; process lifetime bounds the cache anyway.
type MemoryMessageCache struct {
	rings *xsync.MapOf[string, *ring]
}

func NewMemoryMessageCache() *MemoryMessageCache {
	return &MemoryMessageCache{rings: xsync.NewMapOf[string, *ring]()}
}

func (c *MemoryMessageCache) userRing(userID string) *ring {
	r, _ := c.rings.LoadOrStore(userID, &ring{})
	return r
}

func (c *MemoryMessageCache) Append(_ context.Context, m model.Message) error {
	c.userRing(m.SenderID).push(m)
	c.userRing(m.RecipientID).push(m)
	return nil
}

func (c *MemoryMessageCache) RecentForUser(_ context.Context, userID string) ([]model.Message, error) {
	return c.userRing(userID).snapshot(), nil
}

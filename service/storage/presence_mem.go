package storage

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// MemoryPresence is the single-worker variant of the presence directory.
// Same contract as RedisPresence, backed by a concurrent map; used in
// tests and when running without shared stores.
type MemoryPresence struct {
	online *xsync.MapOf[string, struct{}]
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: xsync.NewMapOf[string, struct{}]()}
}

func (p *MemoryPresence) MarkOnline(_ context.Context, userID string) (bool, error) {
	_, loaded := p.online.LoadOrStore(userID, struct{}{})
	return !loaded, nil
}

func (p *MemoryPresence) MarkOfflineIfLast(ctx context.Context, userID string, liveCount LiveCountFunc) (bool, error) {
	n, err := liveCount(ctx, userID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	p.online.Delete(userID)
	return true, nil
}

func (p *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	_, ok := p.online.Load(userID)
	return ok, nil
}

func (p *MemoryPresence) ListOnline(_ context.Context) ([]string, error) {
	var users []string
	p.online.Range(func(userID string, _ struct{}) bool {
		users = append(users, userID)
		return true
	})
	return users, nil
}

package storage

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gutche/yappin/module/chat/model"
)

// MemorySessions is the single-worker session store variant.
type MemorySessions struct {
	sessions *xsync.MapOf[string, model.Session]
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: xsync.NewMapOf[string, model.Session]()}
}

func (s *MemorySessions) Lookup(_ context.Context, token string) (model.Session, bool, error) {
	rec, ok := s.sessions.Load(token)
	return rec, ok, nil
}

func (s *MemorySessions) Save(_ context.Context, token string, rec model.Session) error {
	s.sessions.Store(token, rec)
	return nil
}

package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/gutche/yappin/module/chat/model"
)

// SessionStore maps reconnect tokens to session records. A hit on Lookup
// restores identity without re-authentication; Save is idempotent and
// last-write-wins on the Connected flag. Records live in a shared store
// so they survive worker crashes and balancer re-routing.
type SessionStore interface {
	Lookup(ctx context.Context, token string) (model.Session, bool, error)
	Save(ctx context.Context, token string, s model.Session) error
}

func sessionKey(token string) string { return "session:" + token }

// RedisSessions stores one hash per token. Tokens map to independent
// records, so no cross-record locking is needed.
type RedisSessions struct {
	rdb *redis.Client
	ttl time.Duration // 0 means no expiry; expiry policy is external
}

func NewRedisSessions(rdb *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{rdb: rdb, ttl: ttl}
}

func (s *RedisSessions) Lookup(ctx context.Context, token string) (model.Session, bool, error) {
	vals, err := s.rdb.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		return model.Session{}, false, errors.Wrap(err, "session hgetall")
	}
	if len(vals) == 0 {
		return model.Session{}, false, nil
	}
	return model.Session{
		UserID:    vals["user_id"],
		Username:  vals["username"],
		Connected: vals["connected"] == "1",
	}, true, nil
}

func (s *RedisSessions) Save(ctx context.Context, token string, rec model.Session) error {
	connected := "0"
	if rec.Connected {
		connected = "1"
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessionKey(token),
		"user_id", rec.UserID,
		"username", rec.Username,
		"connected", connected,
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, sessionKey(token), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "session hset")
	}
	return nil
}

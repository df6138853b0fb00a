package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// LiveCountFunc reports how many connections a user currently holds
// anywhere in the fleet. The gateway backs it with a bus census.
type LiveCountFunc func(ctx context.Context, userID string) (int, error)

// PresenceDirectory is the fleet-wide online set. A user is present while
// at least one of their connections is open on any worker, so the offline
// transition is gated on a fleet-wide count, never a per-worker one.
type PresenceDirectory interface {
	// MarkOnline adds the user to the online set and reports whether this
	// was the offline -> online edge. The edge comes from the store's own
	// atomic add, so two workers adding the same user at once observe it
	// exactly once between them.
	MarkOnline(ctx context.Context, userID string) (bool, error)
	// MarkOfflineIfLast clears presence only when liveCount reports zero
	// remaining connections. Returns whether the user went offline.
	MarkOfflineIfLast(ctx context.Context, userID string, liveCount LiveCountFunc) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	ListOnline(ctx context.Context) ([]string, error)
}

const onlineSetKey = "online_users"

// RedisPresence keeps the online set in a shared Redis set, mutated by
// every worker with atomic SADD/SREM.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) MarkOnline(ctx context.Context, userID string) (bool, error) {
	added, err := p.rdb.SAdd(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence sadd")
	}
	return added == 1, nil
}

func (p *RedisPresence) MarkOfflineIfLast(ctx context.Context, userID string, liveCount LiveCountFunc) (bool, error) {
	n, err := liveCount(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "presence live count")
	}
	if n > 0 {
		return false, nil
	}
	if err := p.rdb.SRem(ctx, onlineSetKey, userID).Err(); err != nil {
		return false, errors.Wrap(err, "presence srem")
	}
	return true, nil
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	ok, err := p.rdb.SIsMember(ctx, onlineSetKey, userID).Result()
	if err != nil {
		return false, errors.Wrap(err, "presence sismember")
	}
	return ok, nil
}

func (p *RedisPresence) ListOnline(ctx context.Context) ([]string, error) {
	users, err := p.rdb.SMembers(ctx, onlineSetKey).Result()
	if err != nil {
		return nil, errors.Wrap(err, "presence smembers")
	}
	return users, nil
}

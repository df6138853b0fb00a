package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/gutche/yappin/module/chat/model"
)

// RingSize bounds each user's recency ring.
const RingSize = 20

// RingTTL is the expiry window refreshed on every append.
const RingTTL = 24 * time.Hour

// MessageCache is the cache-aside recency log: a bounded per-user ring of
// the newest messages. It is a recency cache, not the ordering authority;
// the durable store is. RecentForUser never consults durable storage, the
// gateway handles that fallback.
type MessageCache interface {
	// Append pushes the message onto both participants' rings, trims each
	// to RingSize and refreshes both expiry windows as one logical unit.
	Append(ctx context.Context, m model.Message) error
	// RecentForUser returns at most RingSize messages, newest last.
	RecentForUser(ctx context.Context, userID string) ([]model.Message, error)
}

func ringKey(userID string) string { return "messages:" + userID }

// RedisMessageCache implements the ring as one Redis list per user.
// RPUSH+LTRIM+EXPIRE for both participants run in a single MULTI/EXEC, so
// one ring never updates while the other stays stale; a failed unit is
// retried whole.
type RedisMessageCache struct {
	rdb *redis.Client
}

func NewRedisMessageCache(rdb *redis.Client) *RedisMessageCache {
	return &RedisMessageCache{rdb: rdb}
}

func (c *RedisMessageCache) Append(ctx context.Context, m model.Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	if err := c.appendOnce(ctx, m, raw); err != nil {
		// retry the whole unit once, never half-apply
		if err2 := c.appendOnce(ctx, m, raw); err2 != nil {
			return errors.Wrap(err2, "message ring append")
		}
	}
	return nil
}

func (c *RedisMessageCache) appendOnce(ctx context.Context, m model.Message, raw []byte) error {
	pipe := c.rdb.TxPipeline()
	for _, user := range []string{m.SenderID, m.RecipientID} {
		key := ringKey(user)
		pipe.RPush(ctx, key, raw)
		pipe.LTrim(ctx, key, -RingSize, -1)
		pipe.Expire(ctx, key, RingTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisMessageCache) RecentForUser(ctx context.Context, userID string) ([]model.Message, error) {
	vals, err := c.rdb.LRange(ctx, ringKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "message ring lrange")
	}
	out := make([]model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

package fanout

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

func replayKey(u string) string { return "qls.replay:" + u }

// ReplayBuffer holds a short rolling buffer of recent Notify payloads per
// user, so a device that reconnects within the TTL window can catch up on
// what it missed while offline. Grounded on
// internal/gateway/session.go (AppendReplay/Replay via RPUSH+LTRIM+EXPIRE),
// re-keyed by UserID instead of a resumable session ID since this
// protocol's Session façade carries no resume token of its own.
type ReplayBuffer struct {
	rdb   *redis.Client
	ttl   time.Duration
	limit int64
}

// NewReplayBuffer builds a ReplayBuffer capped at limit entries per user;
// a user's whole buffer expires ttl after its most recent append.
func NewReplayBuffer(rdb *redis.Client, ttl time.Duration, limit int) *ReplayBuffer {
	return &ReplayBuffer{rdb: rdb, ttl: ttl, limit: int64(limit)}
}

// Append records payload for u, trimming the buffer to its configured cap.
func (b *ReplayBuffer) Append(ctx context.Context, u int64, payload []byte) error {
	key := replayKey(strconv.FormatInt(u, 10))
	pipe := b.rdb.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -b.limit, -1)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append replay buffer: %w", err)
	}
	return nil
}

// Drain returns every buffered payload for u and clears the buffer.
func (b *ReplayBuffer) Drain(ctx context.Context, u int64) ([][]byte, error) {
	key := replayKey(strconv.FormatInt(u, 10))
	raw, err := b.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read replay buffer: %w", err)
	}
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("clear replay buffer: %w", err)
	}
	out := make([][]byte, len(raw))
	for i, r := range raw {
		out[i] = []byte(r)
	}
	return out, nil
}

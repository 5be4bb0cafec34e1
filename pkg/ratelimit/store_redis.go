package ratelimit

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slideScript performs prune + count + conditional insert + TTL in one
// atomic step server-side. Scores and the cutoff are in milliseconds since
// epoch; the member carries a random suffix so two requests landing in the
// same millisecond stay distinct set members.
var slideScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, cutoff)
local count = redis.call("ZCARD", KEYS[1])
if count < tonumber(ARGV[3]) then
  redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
  return {count + 1, 1}
end
return {count, 0}
`)

// RedisStore keeps one sorted set of request timestamps per key. The whole
// window update runs as a single Lua script, so concurrent callers on the
// same key serialize inside Redis and the limit can never be exceeded by a
// read-count-then-write race.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Add implements Store.
func (s *RedisStore) Add(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (int, bool, error) {
	member, err := uniqueMember(now)
	if err != nil {
		return 0, false, err
	}

	res, err := slideScript.Run(ctx, s.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		member,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}

	return int(res[0]), res[1] == 1, nil
}

// Ping reports whether the Redis backend is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func uniqueMember(now time.Time) (string, error) {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s", now.UnixNano(), base64.RawURLEncoding.EncodeToString(suffix[:])), nil
}

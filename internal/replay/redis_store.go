package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

// pendingMarker cannot be mistaken for a result, which is always a JSON object.
const pendingMarker = "\x00pending"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps records under prefixed keys. SETNX makes claims atomic
// across processes and key expiry replaces purging.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	ttl      time.Duration
	claimTTL time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl, claimTTL time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, claimTTL: claimTTL}
}

func (s *RedisStore) redisKey(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Claim(ctx context.Context, key string) (domain.Claim, error) {
	rk := s.redisKey(key)
	ok, err := s.rdb.SetNX(ctx, rk, pendingMarker, s.claimTTL).Result()
	if err != nil {
		return domain.Claim{}, fmt.Errorf("claim %s: %w", key, err)
	}
	if ok {
		return domain.Claim{}, nil
	}

	val, err := s.rdb.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired or released in between; the caller claims again.
		return domain.Claim{Exists: true}, nil
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("read claim %s: %w", key, err)
	}
	if string(val) == pendingMarker {
		return domain.Claim{Exists: true}, nil
	}
	return domain.Claim{Exists: true, Result: val}, nil
}

func (s *RedisStore) Store(ctx context.Context, key string, result []byte) error {
	if err := s.rdb.Set(ctx, s.redisKey(key), result, s.ttl).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", key, err)
	}
	return nil
}

// Release deletes the key only while it still holds the pending marker.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, pendingMarker).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

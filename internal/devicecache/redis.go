package devicecache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cached device reads and generations between processes.
type RedisStore struct {
	rdb    *redis.Client
	prefix string // e.g. "devcache:"
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "devcache:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

// genKey sits outside the deviceID+":" entry namespace so Invalidate's scan never matches it.
func (s *RedisStore) genKey(deviceID string) string { return s.prefix + deviceID + "#gen" }

func (s *RedisStore) Get(ctx context.Context, deviceID, key string) (uint64, []byte, bool, error) {
	// one MGET so the generation and the entry are read together
	vals, err := s.rdb.MGet(ctx, s.genKey(deviceID), s.prefix+key).Result()
	if err != nil {
		return 0, nil, false, err
	}
	gen, err := parseGen(vals[0])
	if err != nil {
		return 0, nil, false, err
	}
	raw, ok := vals[1].(string)
	if !ok {
		return gen, nil, false, nil
	}
	return gen, []byte(raw), true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.prefix+key, val, ttl).Err()
}

func (s *RedisStore) Generation(ctx context.Context, deviceID string) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.genKey(deviceID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseGen(v)
}

func (s *RedisStore) Invalidate(ctx context.Context, deviceID string) error {
	if err := s.rdb.Incr(ctx, s.genKey(deviceID)).Err(); err != nil {
		return err
	}
	// entries of the old generation are already dead; deleting them just frees memory
	var cursor uint64
	match := s.prefix + deviceID + ":*"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func parseGen(v any) (uint64, error) {
	switch g := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseUint(g, 10, 64)
	default:
		return 0, errors.New("unexpected generation value")
	}
}

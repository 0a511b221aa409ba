package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geoprox/proxcache/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option        { return func(o *redis.Options) { o.PoolSize = n } }
func WithMinIdleConns(n int) Option    { return func(o *redis.Options) { o.MinIdleConns = n } }
func WithDialTimeout(d time.Duration) Option  { return func(o *redis.Options) { o.DialTimeout = d } }
func WithReadTimeout(d time.Duration) Option  { return func(o *redis.Options) { o.ReadTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(o *redis.Options) { o.WriteTimeout = d } }

// RedisStore wraps a pooled go-redis client behind the Store port.
type RedisStore struct {
	rdb *redis.Client
}

var _ Store = (*RedisStore)(nil)

func New(ctx context.Context, addr string, opts ...Option) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	stop := observability.Timer()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, stop().Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	stop := observability.Timer()
	v, err := s.rdb.Get(ctx, key).Bytes()
	observability.ObserveCacheOp("get", filterNil(err), stop().Seconds())
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	stop := observability.Timer()
	if len(keys) == 0 {
		observability.ObserveCacheOp("mget", nil, stop().Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, stop().Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	stop := observability.Timer()
	err := s.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	stop := observability.Timer()
	ok, err := s.rdb.SetNX(ctx, key, val, ttl).Result()
	observability.ObserveCacheOp("setnx", err, stop().Seconds())
	if err != nil {
		return false, fmt.Errorf("redis SETNX %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	stop := observability.Timer()
	err := s.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	stop := observability.Timer()
	var out []string
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 256).Result()
		if err != nil {
			observability.ObserveCacheOp("scan", err, stop().Seconds())
			return nil, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("scan", nil, stop().Seconds())
	return out, nil
}

func (s *RedisStore) Type(ctx context.Context, key string) (string, error) {
	stop := observability.Timer()
	t, err := s.rdb.Type(ctx, key).Result()
	observability.ObserveCacheOp("type", err, stop().Seconds())
	if err != nil {
		return "", fmt.Errorf("redis TYPE %q: %w", key, err)
	}
	return t, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	stop := observability.Timer()
	err := s.rdb.Expire(ctx, key, ttl).Err()
	observability.ObserveCacheOp("expire", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis EXPIRE %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, members ...ZMember) error {
	if len(members) == 0 {
		return nil
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.Member}
	}
	stop := observability.Timer()
	err := s.rdb.ZAdd(ctx, key, zs...).Err()
	observability.ObserveCacheOp("zadd", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis ZADD %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZRange(ctx context.Context, key string, start, stop int64, desc bool) ([]string, error) {
	timer := observability.Timer()
	var out []string
	var err error
	if desc {
		out, err = s.rdb.ZRevRange(ctx, key, start, stop).Result()
	} else {
		out, err = s.rdb.ZRange(ctx, key, start, stop).Result()
	}
	observability.ObserveCacheOp("zrange", err, timer().Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGE %q: %w", key, err)
	}
	return out, nil
}

func (s *RedisStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	stop := observability.Timer()
	out, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	observability.ObserveCacheOp("zrangebyscore", err, stop().Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE %q: %w", key, err)
	}
	return out, nil
}

func (s *RedisStore) ZRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	stop := observability.Timer()
	err := s.rdb.ZRem(ctx, key, args...).Err()
	observability.ObserveCacheOp("zrem", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis ZREM %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) (int64, error) {
	stop := observability.Timer()
	n, err := s.rdb.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Result()
	observability.ObserveCacheOp("zremrangebyscore", err, stop().Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis ZREMRANGEBYSCORE %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) ZCard(ctx context.Context, key string) (int64, error) {
	stop := observability.Timer()
	n, err := s.rdb.ZCard(ctx, key).Result()
	observability.ObserveCacheOp("zcard", err, stop().Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis ZCARD %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) FlushAll(ctx context.Context) error {
	stop := observability.Timer()
	err := s.rdb.FlushAll(ctx).Err()
	observability.ObserveCacheOp("flushall", err, stop().Seconds())
	if err != nil {
		return fmt.Errorf("redis FLUSHALL: %w", err)
	}
	return nil
}

func filterNil(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

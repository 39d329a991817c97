package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/cornchan/cornchan/pkg/config"
	"github.com/cornchan/cornchan/pkg/logging"
)

const scanCount = 100

// RedisStore keeps every table in a Redis hash and counters in plain keys
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects to the Redis server at cfg.RedisURL
func NewRedis(cfg *config.StoreConfig) (*RedisStore, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetLogger().Info("Redis connection established", zap.String("addr", opt.Addr))

	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logging.WithComponent("redis-store"),
	}
}

// Put sets field key of hash table
func (s *RedisStore) Put(ctx context.Context, table, key string, value []byte) error {
	if err := s.client.HSet(ctx, table, key, value).Err(); err != nil {
		return unavailable("hset "+table, err)
	}
	return nil
}

// Get reads field key of hash table
func (s *RedisStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	val, err := s.client.HGet(ctx, table, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("hget "+table, err)
	}
	return val, nil
}

// Delete removes field key of hash table
func (s *RedisStore) Delete(ctx context.Context, table, key string) error {
	if err := s.client.HDel(ctx, table, key).Err(); err != nil {
		return unavailable("hdel "+table, err)
	}
	return nil
}

// Scan iterates the hash with HSCAN MATCH until the cursor wraps
func (s *RedisStore) Scan(ctx context.Context, table, match string) ([]Entry, error) {
	var (
		entries []Entry
		cursor  uint64
		seen    = make(map[string]struct{})
	)

	for {
		kvs, next, err := s.client.HScan(ctx, table, cursor, match, scanCount).Result()
		if err != nil {
			return nil, unavailable("hscan "+table, err)
		}

		for i := 0; i+1 < len(kvs); i += 2 {
			// HSCAN may return a field twice while the hash is rehashing
			if _, dup := seen[kvs[i]]; dup {
				continue
			}
			seen[kvs[i]] = struct{}{}
			entries = append(entries, Entry{Key: kvs[i], Value: []byte(kvs[i+1])})
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("hscan finished",
		zap.String("table", table),
		zap.String("match", match),
		zap.Int("entries", len(entries)))

	return entries, nil
}

// Increment runs INCRBY on counter
func (s *RedisStore) Increment(ctx context.Context, counter string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, counter, delta).Result()
	if err != nil {
		return 0, unavailable("incrby "+counter, err)
	}
	return n, nil
}

// Health pings Redis
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}

package telemetry

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	pkgerrors "github.com/pkg/errors"
)

// RedisClient is the part of the go-redis client the cache uses.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisConfig configures a Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Key is the prefix; snapshots are stored at <Key>:<session-id>.
	Key string

	// TTL expires entries of sessions that went away uncleanly. Zero keeps
	// them until the session closes.
	TTL time.Duration
}

// RedisCache keeps the latest snapshot of every session.
type RedisCache struct {
	client RedisClient
	key    string
	ttl    time.Duration
}

// NewRedisCache connects to cfg.Addr and checks the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, pkgerrors.Wrapf(err, "connect to Redis %s", cfg.Addr)
	}
	return NewRedisCacheWithClient(rdb, cfg), nil
}

// NewRedisCacheWithClient stores snapshots through an existing client.
func NewRedisCacheWithClient(client RedisClient, cfg RedisConfig) *RedisCache {
	return &RedisCache{client: client, key: cfg.Key, ttl: cfg.TTL}
}

// Name implements Sink.
func (c *RedisCache) Name() string { return "redis" }

// Key returns the key holding a session's snapshot.
func (c *RedisCache) Key(sessionID string) string {
	return c.key + ":" + sessionID
}

// Publish implements Sink.
func (c *RedisCache) Publish(ctx context.Context, sessionID string, payload []byte) error {
	if err := c.client.Set(ctx, c.Key(sessionID), payload, c.ttl).Err(); err != nil {
		return pkgerrors.Wrapf(err, "store snapshot at %s", c.Key(sessionID))
	}
	return nil
}

// Forget removes a session's snapshot.
func (c *RedisCache) Forget(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.Key(sessionID)).Err(); err != nil {
		return pkgerrors.Wrapf(err, "delete %s", c.Key(sessionID))
	}
	return nil
}

// Close implements Sink.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

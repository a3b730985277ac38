package cancel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultFlagTTL bounds how long an unread flag survives.
const DefaultFlagTTL = time.Hour

const pingTimeout = 2 * time.Second

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisRegistry stores cancellation flags as expiring Redis keys "<prefix>:<owner>".
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry wraps an existing client.
func NewRedisRegistry(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	if prefix == "" {
		prefix = "archiver:cancel"
	}
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	return &RedisRegistry{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRegistry) key(ownerID string) string {
	return r.prefix + ":" + ownerID
}

// RequestCancel sets the owner's flag, refreshing its TTL.
func (r *RedisRegistry) RequestCancel(ctx context.Context, ownerID string) error {
	if err := r.client.Set(ctx, r.key(ownerID), "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	return nil
}

// IsCanceled reports whether the owner's flag exists.
func (r *RedisRegistry) IsCanceled(ctx context.Context, ownerID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(ownerID)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return n > 0, nil
}

// Clear deletes the owner's flag.
func (r *RedisRegistry) Clear(ctx context.Context, ownerID string) error {
	if err := r.client.Del(ctx, r.key(ownerID)).Err(); err != nil {
		return fmt.Errorf("clear cancel flag: %w", err)
	}
	return nil
}

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"threatprint/internal/config"
	"threatprint/internal/domain/models"
	"threatprint/pkg/logger"
)

// lock key namespace for coordinating periodic snapshots across replicas
const keyLockPrefix = "lock:"

// RedisRepository stores snapshots as JSON blobs in Redis
type RedisRepository struct {
	client    *redis.Client
	keyPrefix string
	logger    *logger.Logger
}

// NewRedis connects to Redis and verifies the connection
func NewRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisRepository, error) {
	log = log.WithComponent("redis")
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	log.Info().Msg("connected to Redis successfully")

	return &RedisRepository{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    log,
	}, nil
}

// Client returns the underlying Redis client
func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	r.logger.Info().Msg("closing Redis connection")
	return r.client.Close()
}

// key prepends the namespace prefix to a key
func (r *RedisRepository) key(k string) string {
	return r.keyPrefix + k
}

// Save stores a snapshot under the given key, replacing any previous one
func (r *RedisRepository) Save(ctx context.Context, key string, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(key), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	r.logger.Debug().
		Str("key", key).
		Int("indicators", len(snap.Indicators)).
		Int("bytes", len(data)).
		Msg("snapshot stored")
	return nil
}

// Load retrieves a snapshot by key
func (r *RedisRepository) Load(ctx context.Context, key string) (*models.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// AcquireLock attempts to take the distributed snapshot lock so only one
// replica writes a given key per interval
func (r *RedisRepository) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.key(keyLockPrefix+lockKey), "locked", ttl).Result()
}

// ReleaseLock releases a previously acquired lock
func (r *RedisRepository) ReleaseLock(ctx context.Context, lockKey string) error {
	return r.client.Del(ctx, r.key(keyLockPrefix+lockKey)).Err()
}

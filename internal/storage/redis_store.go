// Package storage archives analysed frames in Redis for a short TTL so the
// dashboard or downstream consumers can fetch the image behind an event.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/metrics"
	"github.com/T3-Labs/emotion-capture/pkg/util"
	"github.com/go-redis/redis/v8"
)

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type RedisStoreConfig struct {
	Address    string
	TTL        time.Duration
	KeyGen     KeyGeneratorConfig
	Compressor *util.Compressor
}

// RedisStore saves zstd-compressed JPEG frames under generated keys. A
// disabled store accepts and drops every frame.
type RedisStore struct {
	client     redisClient
	closer     func() error
	ttl        time.Duration
	keys       *KeyGenerator
	compressor *util.Compressor
	enabled    bool
}

func NewRedisStore(cfg RedisStoreConfig, enabled bool) *RedisStore {
	if !enabled {
		return &RedisStore{enabled: false}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Address,
	})

	store := newRedisStore(rdb, cfg)
	store.closer = rdb.Close
	return store
}

func newRedisStore(client redisClient, cfg RedisStoreConfig) *RedisStore {
	return &RedisStore{
		client:     client,
		ttl:        cfg.TTL,
		keys:       NewKeyGenerator(cfg.KeyGen),
		compressor: cfg.Compressor,
		enabled:    true,
	}
}

func (r *RedisStore) Enabled() bool {
	return r.enabled
}

// SaveFrame stores data for userID with the configured TTL and returns the
// key. Disabled stores return an empty key and no error.
func (r *RedisStore) SaveFrame(ctx context.Context, userID string, timestamp time.Time, data []byte) (string, error) {
	if !r.enabled {
		return "", nil
	}

	key := r.keys.GenerateKey(userID, timestamp)
	payload := data
	if r.compressor != nil {
		payload = r.compressor.Compress(data)
	}

	if err := r.client.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		metrics.StorageOperations.WithLabelValues("frame_save", "error").Inc()
		return "", fmt.Errorf("failed to save frame to redis: %w", err)
	}

	metrics.StorageOperations.WithLabelValues("frame_save", "success").Inc()
	return key, nil
}

// LoadFrame returns the decompressed frame stored under key.
func (r *RedisStore) LoadFrame(ctx context.Context, key string) ([]byte, error) {
	if !r.enabled {
		return nil, fmt.Errorf("frame archive disabled")
	}

	payload, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		metrics.StorageOperations.WithLabelValues("frame_load", "error").Inc()
		return nil, fmt.Errorf("failed to load frame from redis: %w", err)
	}
	metrics.StorageOperations.WithLabelValues("frame_load", "success").Inc()

	if r.compressor == nil {
		return payload, nil
	}
	return r.compressor.Decompress(payload)
}

// Ping checks connectivity; a disabled store is always healthy.
func (r *RedisStore) Ping(ctx context.Context) error {
	if !r.enabled {
		return nil
	}
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/T3-Labs/emotion-capture/pkg/util"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", f.err)
}

func newTestStore(t *testing.T, client *fakeRedis) *RedisStore {
	t.Helper()
	c, err := util.NewCompressor(3)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return newRedisStore(client, RedisStoreConfig{
		TTL:        5 * time.Minute,
		KeyGen:     KeyGeneratorConfig{Prefix: "frames", Namespace: "classroom"},
		Compressor: c,
	})
}

func TestDisabledStore(t *testing.T) {
	store := NewRedisStore(RedisStoreConfig{Address: "localhost:6379"}, false)
	ctx := context.Background()

	assert.False(t, store.Enabled())
	key, err := store.SaveFrame(ctx, "ana", time.Now(), []byte("jpeg"))
	assert.NoError(t, err)
	assert.Empty(t, key)

	_, err = store.LoadFrame(ctx, "any")
	assert.Error(t, err)
	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.Close())
}

func TestSaveAndLoadFrame(t *testing.T) {
	client := newFakeRedis()
	store := newTestStore(t, client)
	ctx := context.Background()
	frame := []byte(strings.Repeat("\xff\xd8jpeg-bytes", 64))

	key, err := store.SaveFrame(ctx, "ana", time.Unix(0, 1700000000000000000), frame)
	require.NoError(t, err)
	assert.Equal(t, "classroom:frames:ana:1700000000000000000:00001", key)
	assert.Equal(t, 5*time.Minute, client.ttls[key])

	// stored compressed
	assert.NotEqual(t, frame, client.values[key])
	assert.Less(t, len(client.values[key]), len(frame))

	loaded, err := store.LoadFrame(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, frame, loaded)
}

func TestSaveFrameError(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store := newTestStore(t, client)

	_, err := store.SaveFrame(context.Background(), "ana", time.Now(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Error(t, store.Ping(context.Background()))
}

func TestLoadFrameMissing(t *testing.T) {
	store := newTestStore(t, newFakeRedis())

	_, err := store.LoadFrame(context.Background(), "classroom:frames:ana:1:00001")
	require.Error(t, err)
	assert.ErrorIs(t, err, redis.Nil)
}

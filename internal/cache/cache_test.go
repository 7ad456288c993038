package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type mapCache struct {
	mu      sync.Mutex
	data    map[string]string
	failGet error
	failSet error
}

func newMapCache() *mapCache { return &mapCache{data: map[string]string{}} }

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet != nil {
		return "", m.failGet
	}
	v, ok := m.data[key]
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	return nil
}

func (m *mapCache) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *mapCache) Ping(context.Context) error { return nil }
func (m *mapCache) Close() error               { return nil }

func TestConversationIndex(t *testing.T) {
	c := newMapCache()
	idx := NewConversationIndex(c, time.Hour, nil)
	ctx := context.Background()

	_, ok := idx.ConversationID(ctx, "client-1")
	assert.False(t, ok)

	idx.RememberConversationID(ctx, "client-1", "conv-1")
	id, ok := idx.ConversationID(ctx, "client-1")
	assert.True(t, ok)
	assert.Equal(t, "conv-1", id)
	assert.Equal(t, "conv-1", c.data["chat:conversation:client:client-1"])
}

func TestConversationIndexTreatsErrorsAsMisses(t *testing.T) {
	c := newMapCache()
	idx := NewConversationIndex(c, time.Hour, nil)
	ctx := context.Background()

	c.failSet = errors.New("connection refused")
	idx.RememberConversationID(ctx, "client-1", "conv-1")

	c.failSet = nil
	c.data["chat:conversation:client:client-1"] = "conv-1"
	c.failGet = errors.New("i/o timeout")
	_, ok := idx.ConversationID(ctx, "client-1")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Redis container not available: %v", err)
	}
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := NewRedisCache(fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)
	defer rc.Close()

	_, err = rc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, rc.Set(ctx, "k", "v", time.Minute))
	v, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	n, err := rc.Del(ctx, "k", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNewRedisCacheRequiresURL(t *testing.T) {
	_, err := NewRedisCache("")
	assert.Error(t, err)
	_, err = NewRedisCache("://bad")
	assert.Error(t, err)
}

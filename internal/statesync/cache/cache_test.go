package cache

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legisla/pkg/platform/circuit"
	"legisla/pkg/platform/sentinel"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 18, 0, 0, 0, time.UTC)
	c := NewMemory(WithClock(func() time.Time { return now }))

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	value := []byte(`{"outcome":"APPROVED"}`)
	require.NoError(t, c.Set(ctx, "result:1", value, time.Minute))
	value[0] = 'x'

	got, err := c.Get(ctx, "result:1")
	require.NoError(t, err)
	assert.Equal(t, `{"outcome":"APPROVED"}`, string(got))

	t.Run("expires", func(t *testing.T) {
		now = now.Add(time.Minute)
		_, err := c.Get(ctx, "result:1")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("zero ttl keeps the entry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "result:2", []byte("1"), 0))
		now = now.Add(24 * time.Hour)
		_, err := c.Get(ctx, "result:2")
		assert.NoError(t, err)
	})
}

type flakyBackend struct {
	down  bool
	calls int
	inner *MemoryCache
}

func (b *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.calls++
	if b.down {
		return nil, errors.New("i/o timeout")
	}
	return b.inner.Get(ctx, key)
}

func (b *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.calls++
	if b.down {
		return errors.New("i/o timeout")
	}
	return b.inner.Set(ctx, key, value, ttl)
}

func TestGuardedCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 5, 6, 18, 0, 0, 0, time.UTC)
	backend := &flakyBackend{inner: NewMemory()}
	breaker := circuit.New("sync-cache",
		circuit.WithFailureThreshold(2),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(func() time.Time { return now }),
	)
	c := NewGuarded(backend, breaker, slog.New(slog.DiscardHandler))

	t.Run("misses do not count as failures", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := c.Get(ctx, "result:absent")
			assert.ErrorIs(t, err, sentinel.ErrNotFound)
		}
		assert.False(t, breaker.IsOpen())
	})

	t.Run("opens after consecutive errors and short-circuits", func(t *testing.T) {
		backend.down = true
		_, err := c.Get(ctx, "result:1")
		require.Error(t, err)
		require.Error(t, c.Set(ctx, "result:1", []byte("1"), 0))
		require.True(t, breaker.IsOpen())

		calls := backend.calls
		_, err = c.Get(ctx, "result:1")
		assert.ErrorIs(t, err, sentinel.ErrUnavailable)
		assert.Equal(t, calls, backend.calls)
	})

	t.Run("probe after cooldown closes it again", func(t *testing.T) {
		backend.down = false
		now = now.Add(time.Second)
		require.NoError(t, c.Set(ctx, "result:1", []byte("1"), 0))
		assert.False(t, breaker.IsOpen())

		got, err := c.Get(ctx, "result:1")
		require.NoError(t, err)
		assert.Equal(t, "1", string(got))
	})
}

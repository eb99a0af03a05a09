package tx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "legisla/pkg/domain-errors"
)

func TestShardedRunInTx(t *testing.T) {
	t.Run("serializes calls sharing a key", func(t *testing.T) {
		runner := NewSharded(0)
		counter := 0
		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := runner.RunInTx(context.Background(), []string{"session:a"}, func(context.Context) error {
					v := counter
					time.Sleep(time.Microsecond)
					counter = v + 1
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 100, counter)
	})

	t.Run("overlapping key sets in opposite order do not deadlock", func(t *testing.T) {
		runner := NewSharded(0)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = runner.RunInTx(context.Background(), []string{"a", "b"}, func(context.Context) error { return nil })
			}()
			go func() {
				defer wg.Done()
				_ = runner.RunInTx(context.Background(), []string{"b", "a"}, func(context.Context) error { return nil })
			}()
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("transactions deadlocked")
		}
	})

	t.Run("cancelled context aborts with timeout code", func(t *testing.T) {
		runner := NewSharded(0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		called := false
		err := runner.RunInTx(ctx, []string{"x"}, func(context.Context) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.False(t, called)
	})

	t.Run("fn error is returned unchanged", func(t *testing.T) {
		runner := NewSharded(0)
		want := dErrors.New(dErrors.CodeConflict, "lost")
		err := runner.RunInTx(context.Background(), nil, func(context.Context) error { return want })
		assert.Equal(t, want, err)
	})
}

func TestShardsForDeduplicatesAndSorts(t *testing.T) {
	shards := shardsFor([]string{"k", "k", "other"})
	for i := 1; i < len(shards); i++ {
		assert.Less(t, shards[i-1], shards[i])
	}
	assert.LessOrEqual(t, len(shards), 2)
}

package tx

import (
	"context"
	"sort"
	"sync"
	"time"

	dErrors "legisla/pkg/domain-errors"
)

// numShards bounds the lock table; distinct keys may share a shard.
const numShards = 128

// DefaultTimeout is the maximum duration of a transaction when the caller's
// context carries no deadline.
const DefaultTimeout = 5 * time.Second

// Sharded serializes in-memory transactions with a fixed table of mutexes.
// Shards for a call are locked in ascending order so calls with overlapping
// key sets cannot deadlock.
type Sharded struct {
	shards  [numShards]sync.Mutex
	timeout time.Duration
}

// NewSharded returns an in-memory Runner. A zero timeout uses DefaultTimeout.
func NewSharded(timeout time.Duration) *Sharded {
	return &Sharded{timeout: timeout}
}

func (t *Sharded) RunInTx(ctx context.Context, keys []string, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shards := shardsFor(keys)
	for _, shard := range shards {
		t.shards[shard].Lock()
	}
	defer func() {
		for i := len(shards) - 1; i >= 0; i-- {
			t.shards[shards[i]].Unlock()
		}
	}()

	// Check again after acquiring locks
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	return fn(ctx)
}

// shardsFor maps keys to a sorted, de-duplicated shard list. An empty key set
// falls back to shard 0.
func shardsFor(keys []string) []int {
	if len(keys) == 0 {
		return []int{0}
	}
	seen := make(map[int]struct{}, len(keys))
	out := make([]int, 0, len(keys))
	for _, key := range keys {
		shard := int(hashString(key) % numShards)
		if _, ok := seen[shard]; ok {
			continue
		}
		seen[shard] = struct{}{}
		out = append(out, shard)
	}
	sort.Ints(out)
	return out
}

// hashString uses FNV-1a for better hash distribution than simple multiply-add.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

// Key joins an entity kind and id into a lock key.
func Key(kind string, id interface{ String() string }) string {
	return kind + ":" + id.String()
}

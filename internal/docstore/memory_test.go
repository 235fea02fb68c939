package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	runStoreSuite(t, func(t *testing.T) *Store {
		return NewMemory()
	})
}

func TestMemoryStore_CommitHookForcesRetry(t *testing.T) {
	s := NewMemory().WithRetryPolicy(fastRetry)
	mem := s.b.(*memoryBackend)
	ctx := context.Background()
	p := Doc("counters", "hooked")

	interfered := false
	mem.beforeCommit = func() {
		if interfered {
			return
		}
		interfered = true
		mem.mu.Lock()
		mem.clock++
		mem.docs[p] = memRecord{raw: []byte(`{"n":40}`), version: mem.clock}
		mem.mu.Unlock()
	}

	attempts := 0
	err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		attempts++
		return increment(ctx, tx, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	snap, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(41), counter(t, snap))
}

func TestPathHelpers(t *testing.T) {
	p := Doc("users", "u1", "orders", "o1")
	assert.Equal(t, Path("users/u1/orders/o1"), p)
	assert.Equal(t, "o1", p.ID())
	assert.Equal(t, "users/u1/orders", p.Parent())
	assert.Equal(t, "users/u1/orders/o1/items", p.Collection("items"))
	assert.Equal(t, Path("users/u1/orders/o1/items/pizza"), p.Child("items", "pizza"))
}

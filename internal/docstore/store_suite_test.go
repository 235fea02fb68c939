package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lidora/internal/apperr"
)

var fastRetry = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func counter(t *testing.T, snap Snapshot) int64 {
	t.Helper()
	if !snap.Exists {
		return 0
	}
	n, ok := snap.Data["n"].(json.Number)
	require.True(t, ok, "n is %T", snap.Data["n"])
	v, err := n.Int64()
	require.NoError(t, err)
	return v
}

func increment(ctx context.Context, tx *Tx, p Path) error {
	snap, err := tx.Get(p)
	if err != nil {
		return err
	}
	var n int64
	if snap.Exists {
		if n, err = snap.Data["n"].(json.Number).Int64(); err != nil {
			return err
		}
	}
	return tx.Set(p, Data{"n": json.Number(strconv.FormatInt(n+1, 10))})
}

// runStoreSuite exercises the backend contract shared by every store.
func runStoreSuite(t *testing.T, open func(t *testing.T) *Store) {
	ctx := context.Background()

	t.Run("missing document", func(t *testing.T) {
		s := open(t)
		snap, err := s.Get(ctx, Doc("users", "nobody"))
		require.NoError(t, err)
		assert.False(t, snap.Exists)
		assert.Equal(t, "nobody", snap.ID())
	})

	t.Run("set get merge update delete", func(t *testing.T) {
		s := open(t)
		p := Doc("users", "u1")

		require.NoError(t, s.Set(ctx, p, Data{"first_name": "Ada", "score": 1.5}))
		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		require.True(t, snap.Exists)
		assert.Equal(t, "Ada", snap.Data["first_name"])
		assert.Equal(t, json.Number("1.5"), snap.Data["score"])
		v1 := snap.Version

		require.NoError(t, s.Set(ctx, p, Data{"last_name": "Lovelace"}, MergeAll))
		snap, err = s.Get(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "Ada", snap.Data["first_name"])
		assert.Equal(t, "Lovelace", snap.Data["last_name"])
		assert.Greater(t, snap.Version, v1)

		require.NoError(t, s.Update(ctx, p, Data{"first_name": "Augusta"}))
		snap, err = s.Get(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "Augusta", snap.Data["first_name"])
		assert.Equal(t, "Lovelace", snap.Data["last_name"])

		require.NoError(t, s.Set(ctx, p, Data{"email": "ada@example.com"}))
		snap, err = s.Get(ctx, p)
		require.NoError(t, err)
		assert.NotContains(t, snap.Data, "first_name")

		require.NoError(t, s.Delete(ctx, p))
		snap, err = s.Get(ctx, p)
		require.NoError(t, err)
		assert.False(t, snap.Exists)

		require.NoError(t, s.Delete(ctx, p))
	})

	t.Run("update missing document", func(t *testing.T) {
		s := open(t)
		err := s.Update(ctx, Doc("users", "ghost"), Data{"a": 1})
		assert.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("invalid paths", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, Path("users"))
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = s.Get(ctx, Path("users//orders/o1"))
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = s.List(ctx, "users/u1")
		assert.ErrorIs(t, err, apperr.ErrValidation)
	})

	t.Run("list returns direct children in path order", func(t *testing.T) {
		s := open(t)
		user := Doc("users", "u1")
		require.NoError(t, s.Set(ctx, user.Child("orders", "b"), Data{"x": 2}))
		require.NoError(t, s.Set(ctx, user.Child("orders", "a"), Data{"x": 1}))
		require.NoError(t, s.Set(ctx, user.Child("orders", "a").Child("items", "i1"), Data{"x": 3}))
		require.NoError(t, s.Set(ctx, Doc("users", "u2").Child("orders", "c"), Data{"x": 4}))

		snaps, err := s.List(ctx, user.Collection("orders"))
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "a", snaps[0].ID())
		assert.Equal(t, "b", snaps[1].ID())
	})

	t.Run("transaction writes are atomic", func(t *testing.T) {
		s := open(t)
		a, b := Doc("orders", "a"), Doc("orders", "b")

		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.Get(a); err != nil {
				return err
			}
			if err := tx.Set(a, Data{"n": 1}); err != nil {
				return err
			}
			return tx.Update(b, Data{"n": 1})
		})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		snap, err := s.Get(ctx, a)
		require.NoError(t, err)
		assert.False(t, snap.Exists, "partial write observed")
	})

	t.Run("function error aborts without writing", func(t *testing.T) {
		s := open(t)
		p := Doc("orders", "o1")
		boom := errors.New("boom")

		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			_ = tx.Set(p, Data{"n": 1})
			return boom
		})
		assert.ErrorIs(t, err, boom)

		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("reads must precede writes", func(t *testing.T) {
		s := open(t)
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			if err := tx.Set(Doc("a", "1"), Data{}); err != nil {
				return err
			}
			_, err := tx.Get(Doc("a", "2"))
			return err
		})
		assert.ErrorIs(t, err, errReadAfterWrite)
	})

	t.Run("conflicting commit is retried with fresh reads", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		p := Doc("counters", "c")
		require.NoError(t, s.Set(ctx, p, Data{"n": json.Number("10")}))

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			if err := increment(ctx, tx, p); err != nil {
				return err
			}
			if attempts == 1 {
				// a competing writer commits between our read and our commit
				return s.Set(ctx, p, Data{"n": json.Number("100")})
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(101), counter(t, snap))
	})

	t.Run("concurrent creation of a missing document conflicts", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		p := Doc("counters", "fresh")

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			if err := increment(ctx, tx, p); err != nil {
				return err
			}
			if attempts == 1 {
				return s.Set(ctx, p, Data{"n": json.Number("5")})
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(6), counter(t, snap))
	})

	t.Run("stale read of an unwritten document is retried", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		a, b := Doc("flags", "a"), Doc("flags", "b")
		require.NoError(t, s.Set(ctx, a, Data{"on": false}))

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			snap, err := tx.Get(a)
			if err != nil {
				return err
			}
			if attempts == 1 {
				if err := s.Set(ctx, a, Data{"on": true}); err != nil {
					return err
				}
			}
			return tx.Set(b, Data{"copied": snap.Data["on"]})
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		snap, err := s.Get(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, true, snap.Data["copied"])
	})

	t.Run("read of a missing document is checked at commit", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		a, b := Doc("flags", "late"), Doc("flags", "seen")

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			snap, err := tx.Get(a)
			if err != nil {
				return err
			}
			if attempts == 1 {
				if err := s.Set(ctx, a, Data{"on": true}); err != nil {
					return err
				}
			}
			return tx.Set(b, Data{"exists": snap.Exists})
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)

		snap, err := s.Get(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, true, snap.Data["exists"])
	})

	t.Run("read-only transaction commits nothing", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		a := Doc("flags", "quiet")
		require.NoError(t, s.Set(ctx, a, Data{"on": true}))

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			if _, err := tx.Get(a); err != nil {
				return err
			}
			return s.Set(ctx, a, Data{"on": false})
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		p := Doc("counters", "hot")
		require.NoError(t, s.Set(ctx, p, Data{"n": json.Number("0")}))

		attempts := 0
		err := s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
			attempts++
			if err := increment(ctx, tx, p); err != nil {
				return err
			}
			return s.Set(ctx, p, Data{"n": json.Number("0")})
		}, MaxAttempts(3))
		assert.ErrorIs(t, err, apperr.ErrTransactionConflict)
		assert.True(t, apperr.Retriable(err))
		assert.Equal(t, 3, attempts)
	})

	t.Run("cancelled context writes nothing", func(t *testing.T) {
		s := open(t)
		p := Doc("counters", "cancelled")
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := s.RunTransaction(cctx, func(ctx context.Context, tx *Tx) error {
			return tx.Set(p, Data{"n": 1})
		})
		assert.ErrorIs(t, err, context.Canceled)

		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.False(t, snap.Exists)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		s := open(t).WithRetryPolicy(fastRetry)
		p := Doc("counters", "shared")
		const workers = 16

		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.RunTransaction(ctx, func(ctx context.Context, tx *Tx) error {
					return increment(ctx, tx, p)
				}, MaxAttempts(workers+1))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		snap, err := s.Get(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, int64(workers), counter(t, snap))
	})
}

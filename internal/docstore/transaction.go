package docstore

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"lidora/internal/apperr"
)

var errReadAfterWrite = errors.New("docstore: transaction reads must precede writes")

// RetryPolicy bounds how often a conflicting transaction is re-run.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   20 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// delay is exponential with full jitter.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}

// TxOption adjusts a single RunTransaction call.
type TxOption func(*RetryPolicy)

// MaxAttempts overrides the attempt bound for one transaction.
func MaxAttempts(n int) TxOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// Tx collects reads and buffered writes for one transaction attempt.
// Every document read records its version; the commit fails if any of
// them changed, and the whole function is run again.
type Tx struct {
	ctx    context.Context
	b      backend
	reads  map[Path]Snapshot
	writes []mutation
}

func newTx(ctx context.Context, b backend) *Tx {
	return &Tx{ctx: ctx, b: b, reads: make(map[Path]Snapshot)}
}

// Get reads a document within the transaction.
func (tx *Tx) Get(p Path) (Snapshot, error) {
	if len(tx.writes) > 0 {
		return Snapshot{}, errReadAfterWrite
	}
	if err := p.validate(); err != nil {
		return Snapshot{}, err
	}
	if snap, ok := tx.reads[p]; ok {
		return snap, nil
	}
	snap, err := tx.b.get(tx.ctx, p)
	if err != nil {
		return Snapshot{}, err
	}
	tx.reads[p] = snap
	return snap, nil
}

// List reads a collection within the transaction. Each returned document is
// version-checked at commit; documents added to the collection concurrently
// are not.
func (tx *Tx) List(collection string) ([]Snapshot, error) {
	if len(tx.writes) > 0 {
		return nil, errReadAfterWrite
	}
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	snaps, err := tx.b.list(tx.ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, s := range snaps {
		if _, ok := tx.reads[s.Path]; !ok {
			tx.reads[s.Path] = s
		}
	}
	return snaps, nil
}

func (tx *Tx) queue(p Path, kind opKind, data Data) error {
	if err := p.validate(); err != nil {
		return err
	}
	expected := anyVersion
	if snap, ok := tx.reads[p]; ok {
		expected = snap.Version
	}
	tx.writes = append(tx.writes, mutation{path: p, kind: kind, data: data, expected: expected})
	return nil
}

// mutations returns the buffered writes plus a version check for every
// document that was read and not written, in path order.
func (tx *Tx) mutations() []mutation {
	written := make(map[Path]bool, len(tx.writes))
	for _, m := range tx.writes {
		written[m.path] = true
	}
	var checks []mutation
	for p, snap := range tx.reads {
		if !written[p] {
			checks = append(checks, mutation{path: p, kind: opCheck, expected: snap.Version})
		}
	}
	slices.SortFunc(checks, func(a, b mutation) int { return strings.Compare(string(a.path), string(b.path)) })
	return append(checks, tx.writes...)
}

// Set buffers a full write, or a merge with MergeAll.
func (tx *Tx) Set(p Path, data Data, opts ...SetOption) error {
	m := mutation{kind: opSet}
	for _, opt := range opts {
		opt(&m)
	}
	return tx.queue(p, m.kind, data)
}

// Update buffers a field overlay; the commit fails with apperr.ErrNotFound if
// the document does not exist.
func (tx *Tx) Update(p Path, data Data) error {
	return tx.queue(p, opUpdate, data)
}

// Delete buffers a delete.
func (tx *Tx) Delete(p Path) error {
	return tx.queue(p, opDelete, nil)
}

// RunTransaction runs fn and commits its buffered writes atomically. When a
// document fn read was changed by another commit in the meantime, fn is run
// again against fresh reads, up to the policy's attempt bound, after which
// the error wraps apperr.ErrTransactionConflict. An error returned by fn
// aborts without writing anything.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error, opts ...TxOption) error {
	policy := s.policy
	for _, opt := range opts {
		opt(&policy)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		tx := newTx(ctx, s.b)
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if len(tx.writes) == 0 {
			return nil
		}

		err := s.b.commit(ctx, tx.mutations())
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		lastErr = err

		if attempt < policy.MaxAttempts {
			timer := time.NewTimer(policy.delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", apperr.ErrTransactionConflict, policy.MaxAttempts, lastErr)
}

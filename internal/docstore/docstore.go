// Package docstore is a small document database: JSON documents addressed by
// slash-separated paths (collection/id/collection/id...), single-document
// reads and writes with a merge mode, and optimistic multi-document
// transactions that are retried on conflicting concurrent commits.
//
// The storage itself is a backend: in-memory, PostgreSQL or SQLite.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"lidora/internal/apperr"
)

// Data is the body of a document. Numbers read back from a store are
// json.Number so money survives the round trip exactly.
type Data map[string]any

// Path addresses a document, e.g. "users/u1/orders/o1".
type Path string

// Doc joins alternating collection and id segments into a document path.
func Doc(segments ...string) Path {
	return Path(strings.Join(segments, "/"))
}

// Child returns the path of document id in the sub-collection of p.
func (p Path) Child(collection, id string) Path {
	return Path(string(p) + "/" + collection + "/" + id)
}

// Collection returns the path of a sub-collection of p.
func (p Path) Collection(name string) string {
	return string(p) + "/" + name
}

// ID is the last path segment.
func (p Path) ID() string {
	s := string(p)
	return s[strings.LastIndex(s, "/")+1:]
}

// Parent is the collection the document lives in.
func (p Path) Parent() string {
	s := string(p)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[:i]
	}
	return ""
}

func (p Path) validate() error {
	segs := strings.Split(string(p), "/")
	if len(segs)%2 != 0 {
		return apperr.Invalid("path", fmt.Sprintf("%q is not a document path", p))
	}
	for _, s := range segs {
		if s == "" {
			return apperr.Invalid("path", fmt.Sprintf("%q has an empty segment", p))
		}
	}
	return nil
}

func validCollection(c string) error {
	segs := strings.Split(c, "/")
	if len(segs)%2 != 1 {
		return apperr.Invalid("collection", fmt.Sprintf("%q is not a collection path", c))
	}
	for _, s := range segs {
		if s == "" {
			return apperr.Invalid("collection", fmt.Sprintf("%q has an empty segment", c))
		}
	}
	return nil
}

// Snapshot is a document as of one read.
type Snapshot struct {
	Path    Path
	Data    Data
	Version int64
	Exists  bool
}

func (s Snapshot) ID() string { return s.Path.ID() }

var errConflict = fmt.Errorf("%w: document changed since read", apperr.ErrTransactionConflict)

type opKind int

const (
	opSet opKind = iota
	opMerge
	opUpdate
	opDelete
	// opCheck writes nothing; it only asserts the version of a document
	// the transaction read.
	opCheck
)

// anyVersion marks a write whose target was not read in the transaction.
const anyVersion int64 = -1

type mutation struct {
	path     Path
	kind     opKind
	data     Data
	expected int64
}

// backend is what a storage engine implements. commit applies all mutations
// atomically or none of them, and returns errConflict when an expected
// version does not match.
type backend interface {
	get(ctx context.Context, p Path) (Snapshot, error)
	list(ctx context.Context, collection string) ([]Snapshot, error)
	commit(ctx context.Context, muts []mutation) error
	close() error
}

// SetOption adjusts Set.
type SetOption func(*mutation)

// MergeAll overlays the given top-level fields onto the existing document
// instead of replacing it. Nested maps are replaced, not merged.
func MergeAll(m *mutation) { m.kind = opMerge }

// Store is the document database handle shared by the services.
type Store struct {
	b      backend
	policy RetryPolicy
}

func newStore(b backend) *Store {
	return &Store{b: b, policy: DefaultRetryPolicy()}
}

// WithRetryPolicy replaces the default transaction retry policy.
func (s *Store) WithRetryPolicy(p RetryPolicy) *Store {
	s.policy = p
	return s
}

// Get reads one document. A missing document is not an error: the snapshot
// has Exists == false.
func (s *Store) Get(ctx context.Context, p Path) (Snapshot, error) {
	if err := p.validate(); err != nil {
		return Snapshot{}, err
	}
	return s.b.get(ctx, p)
}

// List reads every document directly inside collection, ordered by path.
func (s *Store) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	return s.b.list(ctx, collection)
}

// Set writes a document, replacing it unless MergeAll is given.
func (s *Store) Set(ctx context.Context, p Path, data Data, opts ...SetOption) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx *Tx) error {
		return tx.Set(p, data, opts...)
	})
}

// Update overlays fields onto an existing document and fails with
// apperr.ErrNotFound when there is none.
func (s *Store) Update(ctx context.Context, p Path, data Data) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx *Tx) error {
		return tx.Update(p, data)
	})
}

// Delete removes a document. Deleting a missing document is a no-op.
func (s *Store) Delete(ctx context.Context, p Path) error {
	return s.RunTransaction(ctx, func(_ context.Context, tx *Tx) error {
		return tx.Delete(p)
	})
}

func (s *Store) Close() error {
	return s.b.close()
}

func encodeData(d Data) ([]byte, error) {
	if d == nil {
		d = Data{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return raw, nil
}

func decodeData(raw []byte) (Data, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var d Data
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		d = Data{}
	}
	return d, nil
}

// staged is the state of one path while a commit folds its mutations.
type staged struct {
	data    Data
	exists  bool
	existed bool
	version int64
}

// stage folds muts over the current documents returned by load, checking
// each path's expected version against the state before the first mutation
// touching it. Check mutations are verified and then dropped. The returned
// order lists every written path once.
func stage(muts []mutation, load func(Path) (Snapshot, error)) (map[Path]*staged, []Path, error) {
	states := make(map[Path]*staged, len(muts))
	var order []Path

	for _, m := range muts {
		if m.kind == opCheck {
			cur, err := load(m.path)
			if err != nil {
				return nil, nil, err
			}
			if m.expected != cur.Version {
				return nil, nil, errConflict
			}
			continue
		}

		st, ok := states[m.path]
		if !ok {
			cur, err := load(m.path)
			if err != nil {
				return nil, nil, err
			}
			if m.expected != anyVersion && m.expected != cur.Version {
				return nil, nil, errConflict
			}
			st = &staged{data: cur.Data, exists: cur.Exists, existed: cur.Exists, version: cur.Version}
			states[m.path] = st
			order = append(order, m.path)
		}

		switch m.kind {
		case opSet:
			st.data = maps.Clone(m.data)
			st.exists = true
		case opMerge, opUpdate:
			if !st.exists {
				if m.kind == opUpdate {
					return nil, nil, fmt.Errorf("update %s: %w", m.path, apperr.ErrNotFound)
				}
				st.data = Data{}
			}
			next := maps.Clone(st.data)
			if next == nil {
				next = Data{}
			}
			maps.Copy(next, m.data)
			st.data = next
			st.exists = true
		case opDelete:
			st.data = nil
			st.exists = false
		}
	}
	return states, order, nil
}

// isConflict reports whether err means the transaction should be retried.
func isConflict(err error) bool {
	return errors.Is(err, errConflict)
}

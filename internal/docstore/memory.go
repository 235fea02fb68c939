package docstore

import (
	"context"
	"slices"
	"sync"
)

type memRecord struct {
	raw     []byte
	version int64
}

// memoryBackend keeps documents as encoded JSON so reads hand out fresh
// copies with the same number representation as the SQL backends.
type memoryBackend struct {
	mu    sync.RWMutex
	docs  map[Path]memRecord
	clock int64

	// beforeCommit runs outside the lock before every commit; tests use it
	// to interleave a competing write.
	beforeCommit func()
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Store {
	return newStore(&memoryBackend{docs: make(map[Path]memRecord)})
}

func (m *memoryBackend) snapshot(p Path) (Snapshot, error) {
	rec, ok := m.docs[p]
	if !ok {
		return Snapshot{Path: p}, nil
	}
	data, err := decodeData(rec.raw)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, Data: data, Version: rec.version, Exists: true}, nil
}

func (m *memoryBackend) get(ctx context.Context, p Path) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(p)
}

func (m *memoryBackend) list(ctx context.Context, collection string) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var paths []Path
	for p := range m.docs {
		if p.Parent() == collection {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)

	out := make([]Snapshot, 0, len(paths))
	for _, p := range paths {
		snap, err := m.snapshot(p)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (m *memoryBackend) commit(ctx context.Context, muts []mutation) error {
	if hook := m.beforeCommit; hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	states, order, err := stage(muts, m.snapshot)
	if err != nil {
		return err
	}

	encoded := make(map[Path][]byte, len(order))
	for _, p := range order {
		st := states[p]
		if !st.exists {
			continue
		}
		raw, err := encodeData(st.data)
		if err != nil {
			return err
		}
		encoded[p] = raw
	}

	for _, p := range order {
		if raw, ok := encoded[p]; ok {
			m.clock++
			m.docs[p] = memRecord{raw: raw, version: m.clock}
		} else {
			delete(m.docs, p)
		}
	}
	return nil
}

func (m *memoryBackend) close() error { return nil }

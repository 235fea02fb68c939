package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	data       TEXT NOT NULL,
	version    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents (collection, path);
CREATE TABLE IF NOT EXISTS document_clock (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO document_clock (id, value) VALUES (1, 0);
`

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) a single-file document store for
// local and embedded use. All access goes through one connection, so
// commits are serialized by the driver.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return newStore(&sqliteBackend{db: db}), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(p Path, row rowScanner) (Snapshot, error) {
	var raw string
	var version int64
	if err := row.Scan(&raw, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{Path: p}, nil
		}
		return Snapshot{}, fmt.Errorf("read %s: %w", p, err)
	}
	data, err := decodeData([]byte(raw))
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Path: p, Data: data, Version: version, Exists: true}, nil
}

func (b *sqliteBackend) get(ctx context.Context, p Path) (Snapshot, error) {
	row := b.db.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path = ?`, string(p))
	return scanSQLite(p, row)
}

func (b *sqliteBackend) list(ctx context.Context, collection string) ([]Snapshot, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT path, data, version FROM documents WHERE collection = ? ORDER BY path ASC`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var path, raw string
		var version int64
		if err := rows.Scan(&path, &raw, &version); err != nil {
			return nil, fmt.Errorf("list %s: %w", collection, err)
		}
		data, err := decodeData([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Path: Path(path), Data: data, Version: version, Exists: true})
	}
	return out, rows.Err()
}

func (b *sqliteBackend) commit(ctx context.Context, muts []mutation) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	load := func(p Path) (Snapshot, error) {
		row := tx.QueryRowContext(ctx, `SELECT data, version FROM documents WHERE path = ?`, string(p))
		return scanSQLite(p, row)
	}
	states, order, err := stage(muts, load)
	if err != nil {
		return err
	}

	for _, p := range order {
		st := states[p]
		if !st.exists {
			if st.existed {
				if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, string(p)); err != nil {
					return fmt.Errorf("delete %s: %w", p, err)
				}
			}
			continue
		}

		raw, err := encodeData(st.data)
		if err != nil {
			return err
		}
		var version int64
		if err := tx.QueryRowContext(ctx,
			`UPDATE document_clock SET value = value + 1 WHERE id = 1 RETURNING value`).Scan(&version); err != nil {
			return fmt.Errorf("advance clock: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (path, collection, data, version) VALUES (?, ?, ?, ?)
			 ON CONFLICT (path) DO UPDATE SET data = excluded.data, version = excluded.version`,
			string(p), p.Parent(), string(raw), version); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}

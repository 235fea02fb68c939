package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"lidora/internal/database"
)

// PostgreSQL error codes that mean a concurrent writer won.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

type postgresBackend struct {
	db *database.DB
}

// NewPostgres stores documents in the documents table created by
// migrations/001_documents.sql.
func NewPostgres(db *database.DB) *Store {
	return newStore(&postgresBackend{db: db})
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w (%s: %s)", errConflict, pgErr.Code, pgErr.Message)
		}
	}
	return err
}

func scanSnapshot(p Path, row pgx.Row) (Snapshot, error) {
	var raw string
	var version int64
	if err := row.Scan(&raw, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

func (b *postgresBackend) get(ctx context.Context, p Path) (Snapshot, error) {
	return scanSnapshot(p, b.db.QueryRow(ctx, database.GetDocumentSQL, string(p)))
}

func (b *postgresBackend) list(ctx context.Context, collection string) ([]Snapshot, error) {
	rows, err := b.db.Query(ctx, database.ListDocumentsSQL, collection)
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

// commit locks every row the transaction read or writes, checks versions
// and writes the folded state. Two writers creating the same missing document race on the primary
// key; the loser gets a unique violation, which is reported as a conflict.
func (b *postgresBackend) commit(ctx context.Context, muts []mutation) error {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	load := func(p Path) (Snapshot, error) {
		return scanSnapshot(p, tx.QueryRow(ctx, database.LockDocumentSQL, string(p)))
	}
	states, order, err := stage(muts, load)
	if err != nil {
		return mapPgError(err)
	}

	for _, p := range order {
		st := states[p]
		switch {
		case !st.exists && st.existed:
			_, err = tx.Exec(ctx, database.DeleteDocumentSQL, string(p))
		case st.exists && st.existed:
			var raw []byte
			if raw, err = encodeData(st.data); err == nil {
				_, err = tx.Exec(ctx, database.UpdateDocumentSQL, string(p), string(raw))
			}
		case st.exists:
			var raw []byte
			if raw, err = encodeData(st.data); err == nil {
				_, err = tx.Exec(ctx, database.InsertDocumentSQL, string(p), p.Parent(), string(raw))
			}
		}
		if err != nil {
			return mapPgError(fmt.Errorf("write %s: %w", p, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (b *postgresBackend) close() error {
	b.db.Close()
	return nil
}

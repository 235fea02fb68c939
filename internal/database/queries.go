package database

// Document queries. Versions come from one sequence so a deleted and
// re-created document never reuses a version an old reader saw.
const (
	GetDocumentSQL = `
		SELECT data::text, version
		FROM documents WHERE path = $1`

	LockDocumentSQL = `
		SELECT data::text, version
		FROM documents WHERE path = $1
		FOR UPDATE`

	ListDocumentsSQL = `
		SELECT path, data::text, version
		FROM documents WHERE collection = $1
		ORDER BY path ASC`

	InsertDocumentSQL = `
		INSERT INTO documents (path, collection, data, version)
		VALUES ($1, $2, $3::jsonb, nextval('document_version_seq'))`

	UpdateDocumentSQL = `
		UPDATE documents
		SET data = $2::jsonb, version = nextval('document_version_seq'), updated_at = NOW()
		WHERE path = $1`

	DeleteDocumentSQL = `
		DELETE FROM documents WHERE path = $1`
)

// Migration bookkeeping
const (
	CreateMigrationsTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			migration_name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`

	GetAppliedMigrationsSQL = `SELECT migration_name FROM schema_migrations`

	RecordMigrationSQL = `INSERT INTO schema_migrations (migration_name) VALUES ($1)`
)

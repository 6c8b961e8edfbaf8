package datastore

// Store abstracts where retrieved catalog records end up: a local
// SQLite file or a remote Datasette instance.
type Store interface {
	// Connect establishes a connection to the data store
	Connect() error

	// CreateTable creates a new table with the given schema if it doesn't exist
	CreateTable(schema string) error

	// BatchInsert upserts multiple records into the specified table
	BatchInsert(database string, table string, records []map[string]any) error

	// Close closes the connection to the data store
	Close() error
}

// BookTableSchema holds the retrieved catalog records. Keyed on the
// source identifier so re-running a batch replaces rather than
// duplicates.
const BookTableSchema = `CREATE TABLE IF NOT EXISTS books (
	source_id TEXT PRIMARY KEY,
	source TEXT,
	title TEXT,
	authors TEXT,
	isbn13 TEXT,
	language TEXT,
	publisher TEXT,
	publish_year INTEGER,
	pages INTEGER,
	subjects TEXT,
	cover_url TEXT,
	retrieved_at TEXT
)`

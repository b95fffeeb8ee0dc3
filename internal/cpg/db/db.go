// Package db is the relational store behind the property graph.
//
// The graph is encoded over plain SQL tables (see package schema for the
// layout) in an embedded SQLite database opened in WAL mode. Every write is
// stamped with the caller's sync layer and an updated_at time so that the
// sync protocol can compute deltas by layer (local out-sync) or by time
// (peer server in-sync).
//
// Architecture:
//   - Database file: ~/.local/share/cpg/graph.db by default
//   - WAL mode: concurrent readers during writes
//   - Uniqueness: type names are primary keys; (owner, property_key, generation)
//     and value-per-key are unique indexes
//   - Transactions: multi-step writes run through Store.InTx
//
// Example:
//
//	database, err := db.Open("graph.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	node, err := database.CreateNode(ctx, "word", layer)
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/etenlab/core/internal/cpg/schema"
)

// DefaultDriver is the database/sql driver used when none is configured.
const DefaultDriver = "sqlite3"

// ReplayedLayer is the sync layer stamped on rows received from a peer. It is
// below every out-sync range, so replayed rows are never sent back.
const ReplayedLayer int64 = -1

// Options configures Open.
type Options struct {
	// Driver selects the SQL engine: "sqlite3" (ncruces, default),
	// "sqlite" (modernc) or "libsql" when built with the libsql tag.
	Driver string
	// MaxOpenConns overrides the pool size. Zero keeps the default.
	MaxOpenConns int
	// Clock overrides the time source for updated_at. Used in tests.
	Clock func() time.Time
}

// DB wraps the database connection. Graph operations are promoted from the
// embedded Store, which runs outside any transaction.
type DB struct {
	*Store
	conn   *sql.DB
	path   string
	driver string
}

// Open creates a database connection at path with the default driver.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions creates a database connection at path.
func OpenWithOptions(path string, opts Options) (*DB, error) {
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}
	build, ok := dsnBuilders[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open(opts.Driver, build(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	switch {
	case path == ":memory:":
		conn.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	default:
		conn.SetMaxOpenConns(25)
	}
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &DB{
		Store:  &Store{conn: conn, q: conn, clock: clock},
		conn:   conn,
		path:   path,
		driver: opts.Driver,
	}, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use.
func (db *DB) Driver() string {
	return db.driver
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if db.driver != "libsql" && db.path != ":memory:" {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the graph, voting and sync session tables if they
// don't exist. This is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// TableCounts returns the row count of every synced table.
func (db *DB) TableCounts() (map[string]int, error) {
	return db.TableCountsContext(context.Background())
}

// TableCountsContext returns the row count of every synced table with context support.
func (db *DB) TableCountsContext(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(schema.Tables))
	for _, t := range schema.Tables {
		var n int
		// Table names come from the fixed descriptor list.
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.Name).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

const schemaSQL = `
-- Graph catalogs
CREATE TABLE IF NOT EXISTS node_types (
	type_name TEXT PRIMARY KEY,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationship_types (
	type_name TEXT PRIMARY KEY,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

-- Entities
CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	node_type TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	relationship_id TEXT PRIMARY KEY,
	relationship_type TEXT NOT NULL,
	from_node_id TEXT NOT NULL,
	to_node_id TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

-- Properties (append-only generations)
CREATE TABLE IF NOT EXISTS node_property_keys (
	node_property_key_id TEXT PRIMARY KEY,
	node_id TEXT NOT NULL,
	property_key TEXT NOT NULL,
	generation INTEGER NOT NULL DEFAULT 0,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS node_property_values (
	node_property_value_id TEXT PRIMARY KEY,
	node_property_key_id TEXT NOT NULL,
	property_value TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationship_property_keys (
	relationship_property_key_id TEXT PRIMARY KEY,
	relationship_id TEXT NOT NULL,
	property_key TEXT NOT NULL,
	generation INTEGER NOT NULL DEFAULT 0,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationship_property_values (
	relationship_property_value_id TEXT PRIMARY KEY,
	relationship_property_key_id TEXT NOT NULL,
	property_value TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

-- Voting
CREATE TABLE IF NOT EXISTS election_types (
	type_name TEXT PRIMARY KEY,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS elections (
	election_id TEXT PRIMARY KEY,
	election_type TEXT NOT NULL,
	election_ref TEXT NOT NULL,
	ref_table_name TEXT NOT NULL,
	candidate_ref_table_name TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS candidates (
	candidate_id TEXT PRIMARY KEY,
	election_id TEXT NOT NULL,
	candidate_ref TEXT NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS votes (
	vote_id TEXT PRIMARY KEY,
	candidate_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	vote INTEGER NOT NULL,
	sync_layer INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);

-- Sync audit
CREATE TABLE IF NOT EXISTS sync_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sync_from INTEGER NOT NULL,
	sync_to INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	completed INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

-- Uniqueness
CREATE UNIQUE INDEX IF NOT EXISTS uq_node_property_keys
	ON node_property_keys(node_id, property_key, generation);
CREATE UNIQUE INDEX IF NOT EXISTS uq_node_property_values
	ON node_property_values(node_property_key_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_relationship_property_keys
	ON relationship_property_keys(relationship_id, property_key, generation);
CREATE UNIQUE INDEX IF NOT EXISTS uq_relationship_property_values
	ON relationship_property_values(relationship_property_key_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_elections_ref
	ON elections(election_type, election_ref, ref_table_name);
CREATE UNIQUE INDEX IF NOT EXISTS uq_candidates_ref
	ON candidates(election_id, candidate_ref);
CREATE UNIQUE INDEX IF NOT EXISTS uq_votes_ref
	ON votes(candidate_id, user_id);

-- Lookups
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type);
CREATE INDEX IF NOT EXISTS idx_relationships_from ON relationships(from_node_id, relationship_type);
CREATE INDEX IF NOT EXISTS idx_relationships_to ON relationships(to_node_id, relationship_type);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);
CREATE INDEX IF NOT EXISTS idx_node_property_keys_name ON node_property_keys(property_key);
CREATE INDEX IF NOT EXISTS idx_node_property_values_value ON node_property_values(property_value);

-- Delta selection
CREATE INDEX IF NOT EXISTS idx_node_types_layer ON node_types(sync_layer);
CREATE INDEX IF NOT EXISTS idx_nodes_layer ON nodes(sync_layer);
CREATE INDEX IF NOT EXISTS idx_node_property_keys_layer ON node_property_keys(sync_layer);
CREATE INDEX IF NOT EXISTS idx_node_property_values_layer ON node_property_values(sync_layer);
CREATE INDEX IF NOT EXISTS idx_relationship_types_layer ON relationship_types(sync_layer);
CREATE INDEX IF NOT EXISTS idx_relationships_layer ON relationships(sync_layer);
CREATE INDEX IF NOT EXISTS idx_relationship_property_keys_layer ON relationship_property_keys(sync_layer);
CREATE INDEX IF NOT EXISTS idx_relationship_property_values_layer ON relationship_property_values(sync_layer);
CREATE INDEX IF NOT EXISTS idx_nodes_updated ON nodes(updated_at);
CREATE INDEX IF NOT EXISTS idx_relationships_updated ON relationships(updated_at);
`

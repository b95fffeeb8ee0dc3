package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// setupTestDB opens a fresh database with the schema and a fixed clock.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var tick int64
	database, err := OpenWithOptions(testDBPath(t), Options{
		Clock: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Millisecond)
		},
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return database
}

// TestOpen_Success tests successful database creation
func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("path = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DefaultDriver {
		t.Errorf("driver = %q, want %q", db.Driver(), DefaultDriver)
	}
}

// TestOpen_ModerncDriver tests the pure-Go engine behind the same schema
func TestOpen_ModerncDriver(t *testing.T) {
	db, err := OpenWithOptions(testDBPath(t), Options{Driver: "sqlite"})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	if _, err := db.CreateNode(context.Background(), "word", 0); err != nil {
		t.Fatalf("CreateNode() failed: %v", err)
	}
}

// TestOpen_UnknownDriver tests driver validation
func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := OpenWithOptions(testDBPath(t), Options{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

// TestInitSchema_Success tests schema creation
func TestInitSchema_Success(t *testing.T) {
	db := setupTestDB(t)

	tables := []string{
		"node_types", "nodes", "node_property_keys", "node_property_values",
		"relationship_types", "relationships", "relationship_property_keys", "relationship_property_values",
		"election_types", "elections", "candidates", "votes", "sync_sessions",
	}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

// TestClose_Twice tests that Close can be called more than once
func TestClose_Twice(t *testing.T) {
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("first Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
}

func TestTableCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.CreateNodes(ctx, "word", 3, 0); err != nil {
		t.Fatalf("CreateNodes() failed: %v", err)
	}

	counts, err := db.TableCounts()
	if err != nil {
		t.Fatalf("TableCounts() failed: %v", err)
	}
	if counts["nodes"] != 3 {
		t.Errorf("nodes = %d, want 3", counts["nodes"])
	}
	if counts["node_types"] != 1 {
		t.Errorf("node_types = %d, want 1", counts["node_types"])
	}
}

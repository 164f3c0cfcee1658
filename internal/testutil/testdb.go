package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/pairtext/pairtext/internal/history"
)

// OpenTestDB creates an in-memory SQLite DB with the history schema applied.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(history.SchemaSQL()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

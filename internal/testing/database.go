package testing

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/teranos/marketpulse/db"
)

// CreateTestDB creates an in-memory SQLite database with every migration applied.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	// each pooled connection would get its own empty :memory: database
	conn.SetMaxOpenConns(1)

	t.Cleanup(func() {
		conn.Close()
	})

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return conn
}

// InsertStock adds a catalog row and returns its id
func InsertStock(t *testing.T, conn *sql.DB, symbol string) int64 {
	t.Helper()

	res, err := conn.Exec("INSERT INTO stocks (symbol, name) VALUES (?, ?)", symbol, symbol+" Inc")
	if err != nil {
		t.Fatalf("Failed to insert stock %s: %v", symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read stock id for %s: %v", symbol, err)
	}
	return id
}

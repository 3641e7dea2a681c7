package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a new in-memory SQLite database for testing.
func NewTestDB(t *testing.T) (*sql.DB, Store) {
	t.Helper()

	// Shared cache mode so all connections see the same database.
	db, err := sql.Open("sqlite3", "file::memory:?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	db.SetMaxOpenConns(1)

	store := NewStoreFromDB(db)
	if err := store.(*SQLStore).Setup(context.Background()); err != nil {
		db.Close()
		t.Fatalf("failed to setup test database schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db, store
}

// SeedTestUser creates a test user in the database.
func SeedTestUser(t *testing.T, store Store, userID string, permissions []string) {
	t.Helper()

	err := store.UserAdd(context.Background(), UserAddParams{
		UserID:         userID,
		PermissionList: permissions,
		LastSeen:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed test user: %v", err)
	}
}

// Package dbtest opens throwaway migrated SQLite databases for package tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"goalstake-backend/internal/db"
)

// Open returns a migrated database living in t.TempDir().
func Open(t testing.TB) *sqlx.DB {
	t.Helper()

	dsn := db.SQLiteDSN(filepath.Join(t.TempDir(), "goalstake.db"))
	if err := db.Migrate(db.DriverSQLite, dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	conn, err := db.Connect(db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return conn
}

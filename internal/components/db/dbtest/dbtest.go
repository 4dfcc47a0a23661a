// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"database/sql"
	"evetrade/internal/components/db"
	"path/filepath"
	"testing"
	"time"
)

// Open creates a sqlite file in a temp dir with db.Schema and any extra schema applied.
// A file is used instead of :memory: so every connection in the pool sees the same database.
func Open(t testing.TB, schema ...string) *sql.DB {
	t.Helper()
	return OpenWithTimeout(t, 5*time.Second, schema...)
}

// OpenWithTimeout is Open with a custom busy timeout, for tests that provoke lock contention.
func OpenWithTimeout(t testing.TB, busyTimeout time.Duration, schema ...string) *sql.DB {
	t.Helper()

	database, err := db.OpenSqlite(filepath.Join(t.TempDir(), "evetrade.db"), busyTimeout)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		database.Close()
	})

	for _, s := range append([]string{db.Schema}, schema...) {
		_, err = database.Exec(s)
		if err != nil {
			t.Fatal(err)
		}
	}
	return database
}

package db

import (
	"context"
	"database/sql"
	devenv "evetrade/dev/env"
	"fmt"
	"net/url"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// DBTX is the subset of *sql.DB, *sql.Conn and *sql.Tx that queries need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config points at either a local sqlite file or a remote libsql database.
type Config struct {
	// File may begin with `<dev_state>` to be resolved inside the dev state directory.
	File string `json:"file"`
	// Url is a libsql url, if set File is ignored.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
	// BusyTimeoutSeconds is how long a connection waits on a locked database, defaults to 30.
	BusyTimeoutSeconds int `json:"busy_timeout_seconds"`
}

// OpenDB opens the configured database and applies `schema` to it.
func (config Config) OpenDB(schema string) (*sql.DB, error) {
	var (
		database *sql.DB
		err      error
	)

	if config.Url != "" {
		values := url.Values{}
		if config.AuthToken != "" {
			values.Add("authToken", config.AuthToken)
		}
		database, err = sql.Open("libsql", config.Url+"?"+values.Encode())
		if err != nil {
			return nil, err
		}
	} else {
		if config.File == "" {
			return nil, fmt.Errorf("neither a database file nor url was specified")
		}
		dbpath, err := devenv.ResolvePath(config.File)
		if err != nil {
			return nil, err
		}
		busyTimeout := time.Duration(config.BusyTimeoutSeconds) * time.Second
		if busyTimeout <= 0 {
			busyTimeout = 30 * time.Second
		}
		database, err = OpenSqlite(dbpath, busyTimeout)
		if err != nil {
			return nil, err
		}
	}

	if schema != "" {
		_, err = database.Exec(schema)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return database, nil
}

// OpenSqlite opens a sqlite file in WAL mode, so readers are never blocked by the
// single writer, with the given busy timeout applied to every connection.
func OpenSqlite(path string, busyTimeout time.Duration) (*sql.DB, error) {
	values := url.Values{}
	values.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	values.Add("_pragma", "journal_mode(WAL)")
	values.Add("_pragma", "foreign_keys(1)")
	return sql.Open("sqlite", path+"?"+values.Encode())
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MakeTx is a function that creates a db transaction
type MakeTx = func(ctx context.Context) (tx *Queries, discard, commit func() error, err error)

func NewMakeTx(database *sql.DB) MakeTx {
	return func(ctx context.Context) (tx *Queries, discard, commit func() error, err error) {
		sqltx, err := database.BeginTx(ctx, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		return New(sqltx),
			func() error {
				err := sqltx.Rollback()
				if errors.Is(err, sql.ErrTxDone) {
					return nil
				}
				return err
			},
			func() error {
				return sqltx.Commit()
			},
			nil
	}
}

// ImmediateTx runs fn inside a `BEGIN IMMEDIATE` transaction on a dedicated
// connection. The write lock is taken up front so nothing else can write between
// the statements of fn. The transaction is rolled back if fn or the commit fails.
func ImmediateTx(ctx context.Context, database *sql.DB, fn func(conn *sql.Conn) error) error {
	conn, err := database.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	if err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	err = fn(conn)
	if err == nil {
		_, err = conn.ExecContext(ctx, "COMMIT")
		if err == nil {
			return nil
		}
		err = fmt.Errorf("commit: %w", err)
	}

	// the caller's context may be the reason we failed, rollback regardless
	_, rollbackErr := conn.ExecContext(context.Background(), "ROLLBACK")
	if rollbackErr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rollbackErr))
	}
	return err
}

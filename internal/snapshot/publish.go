package snapshot

import (
	"context"
	"database/sql"
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"fmt"
)

type viewDef struct {
	name string
	sql  string
}

// dependentViews lists the views whose definition mentions the table, in the
// order they were created so views built on other views are recreated after them.
// The match is by substring, a view naming a longer table (market_orders_archive)
// is dropped and recreated along with it, which is harmless.
func dependentViews(ctx context.Context, q db.DBTX, table string) ([]viewDef, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT name, sql FROM sqlite_master
		WHERE type = 'view' AND sql LIKE '%' || ? || '%'
		ORDER BY rowid`,
		table,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []viewDef
	for rows.Next() {
		var (
			v   viewDef
			def sql.NullString
		)
		err = rows.Scan(&v.name, &def)
		if err != nil {
			return nil, err
		}
		v.sql = def.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// publish swaps the staging table in for the live one. Everything happens under
// one BEGIN IMMEDIATE, concurrent readers keep seeing the old table until COMMIT
// and never observe the live table missing.
func (c *Coordinator) publish(ctx context.Context, tel telemetry.API, ds Dataset) ([]ViewRepairFailure, error) {
	var failures []ViewRepairFailure

	err := db.ImmediateTx(ctx, c.db, func(conn *sql.Conn) error {
		// the rename must not trip over views that are already broken and have
		// nothing to do with this table
		_, err := conn.ExecContext(ctx, "PRAGMA legacy_alter_table = ON")
		if err != nil {
			return fmt.Errorf("enable legacy alter table: %w", err)
		}
		defer conn.ExecContext(context.Background(), "PRAGMA legacy_alter_table = OFF")

		views, err := dependentViews(ctx, conn, ds.Name)
		if err != nil {
			return fmt.Errorf("list dependent views: %w", err)
		}
		for _, v := range views {
			_, err = conn.ExecContext(ctx, "DROP VIEW IF EXISTS "+quote(v.name))
			if err != nil {
				return fmt.Errorf("drop view %s: %w", v.name, err)
			}
		}

		_, err = conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(ds.Name))
		if err != nil {
			return fmt.Errorf("drop live table: %w", err)
		}
		_, err = conn.ExecContext(
			ctx,
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(ds.StagingName()), quote(ds.Name)),
		)
		if err != nil {
			return fmt.Errorf("rename staging: %w", err)
		}

		for _, v := range views {
			err := recreateView(ctx, conn, v)
			if err != nil {
				failure := ViewRepairFailure{View: v.name, Err: err}
				tel.ReportWarning(report_coordinator_view, failure)
				failures = append(failures, failure)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return failures, nil
}

// recreateView runs the saved definition and then selects from the view, sqlite
// only resolves the tables a view references when it is used.
func recreateView(ctx context.Context, conn *sql.Conn, v viewDef) error {
	if v.sql == "" {
		return fmt.Errorf("view has no stored definition")
	}
	_, err := conn.ExecContext(ctx, v.sql)
	if err != nil {
		return err
	}
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", quote(v.name)))
	if err != nil {
		return err
	}
	return rows.Close()
}

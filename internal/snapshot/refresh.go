package snapshot

import (
	"context"
	"errors"
	"evetrade/internal/components/telemetry"
	"fmt"
	"iter"
	"time"
)

// FetchPages walks the external source one page at a time. A non-nil error ends the walk.
type FetchPages[T any] func(ctx context.Context) iter.Seq2[[]T, error]

// RowMapper turns a record into the values of a dataset row, in column order.
// Returning ErrSkipRecord leaves the record out.
type RowMapper[T any] func(record T) ([]any, error)

// Result describes a successful publish.
type Result struct {
	Dataset        string
	RowsPublished  int64
	RecordsFetched int64
	RecordsSkipped int64
	PublishedAt    time.Time
	Duration       time.Duration
	// ViewFailures lists the dependent views that could not be recreated.
	ViewFailures []ViewRepairFailure
}

func (r Result) FailedViews() []string {
	names := make([]string, len(r.ViewFailures))
	for i, v := range r.ViewFailures {
		names[i] = v.View
	}
	return names
}

// Refresh replaces the content of a dataset's live table with a fresh pull from
// the source. Rows accumulate in a staging table that readers never see, then
// the live table is swapped for it in one write transaction. When Refresh fails
// for any reason the live table holds exactly what it held before.
func Refresh[T any](
	ctx context.Context,
	c *Coordinator,
	ds Dataset,
	fetch FetchPages[T],
	mapRow RowMapper[T],
) (Result, error) {
	err := ds.Validate()
	if err != nil {
		return Result{}, err
	}
	tel := telemetry.NewScopedAPI(ds.Name, c.tel)
	start := time.Now()

	release, err := c.acquireLock(ctx, ds.Name)
	if err != nil {
		return Result{}, err
	}
	defer release()

	next, stop := iter.Pull2(fetch(ctx))
	defer stop()

	// the first page is read before anything is staged, a source that is down
	// or empty should cost nothing
	page, err, ok := next()
	if ok && err != nil {
		return Result{}, wrap(ErrSourceUnavailable, err)
	}
	if !ok || len(page) == 0 {
		return Result{}, fmt.Errorf("%w: %s yielded no records", ErrEmptyResult, ds.Name)
	}

	err = c.stage(ctx, ds)
	if err != nil {
		tel.ReportBroken(report_coordinator_stage, err)
		c.dropStaging(tel, ds)
		return Result{}, wrap(ErrStagingFailure, err)
	}

	abort := func(err error) (Result, error) {
		c.dropStaging(tel, ds)
		return Result{}, err
	}

	var fetched, skipped int64
	pageNo := 1
	for {
		fetched += int64(len(page))
		n, err := loadPage(ctx, c, ds, page, mapRow)
		skipped += n
		if err != nil {
			if !errors.Is(err, ErrMalformedRecord) {
				tel.ReportBroken(report_coordinator_load, err)
				err = wrap(ErrStagingFailure, err)
			}
			return abort(err)
		}
		tel.ReportDebug("page staged", telemetry.KV{Key: "page", Value: pageNo}, telemetry.KV{Key: "records", Value: len(page)})

		page, err, ok = next()
		if !ok {
			break
		}
		if err != nil {
			return abort(fmt.Errorf("%w: page %d: %w", ErrSourceUnavailable, pageNo+1, err))
		}
		if len(page) == 0 {
			break
		}
		pageNo++
	}

	rows, err := c.countStaging(ctx, ds)
	if err != nil {
		return abort(wrap(ErrStagingFailure, err))
	}
	if rows == 0 {
		return abort(fmt.Errorf("%w: all %d records of %s were skipped", ErrEmptyResult, fetched, ds.Name))
	}

	viewFailures, err := c.publish(ctx, tel, ds)
	if err != nil {
		tel.ReportBroken(report_coordinator_publish, err)
		return abort(wrap(ErrPublishFailure, err))
	}

	result := Result{
		Dataset:        ds.Name,
		RowsPublished:  rows,
		RecordsFetched: fetched,
		RecordsSkipped: skipped,
		PublishedAt:    c.time.Now(),
		Duration:       time.Since(start),
		ViewFailures:   viewFailures,
	}
	tel.ReportCount("rows_published", rows)
	tel.ReportCount("records_skipped", skipped)

	err = recordHistory(ctx, c.db, HistoryEntry{
		Dataset:        result.Dataset,
		RowsPublished:  result.RowsPublished,
		RecordsFetched: result.RecordsFetched,
		RecordsSkipped: result.RecordsSkipped,
		PublishedAt:    result.PublishedAt,
		Duration:       result.Duration,
		FailedViews:    result.FailedViews(),
	})
	if err != nil {
		// the data is already live, a missing history row is not worth failing over
		tel.ReportWarning(report_coordinator_history, err)
	}

	return result, nil
}

// stage drops any staging table left behind by an earlier run and recreates it
// empty, with the dataset's indexes.
func (c *Coordinator) stage(ctx context.Context, ds Dataset) error {
	staging := ds.StagingName()
	_, err := c.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(staging))
	if err != nil {
		return fmt.Errorf("drop stale staging: %w", err)
	}
	_, err = c.db.ExecContext(ctx, ds.CreateTableSQL(staging))
	if err != nil {
		return fmt.Errorf("create staging: %w", err)
	}

	for _, idx := range ds.Indexes {
		name, err := c.freeIndexName(ctx, ds, idx)
		if err != nil {
			return err
		}
		_, err = c.db.ExecContext(ctx, createIndexSQL(name, staging, idx.Columns))
		if err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

// freeIndexName picks whichever of the two name slots of an index is not
// already taken by the live table. Index names are schema-global and move with
// the table on rename, so the slots alternate between refreshes.
func (c *Coordinator) freeIndexName(ctx context.Context, ds Dataset, idx Index) (string, error) {
	for _, alternate := range []bool{false, true} {
		name := ds.indexName(idx, alternate)
		var count int
		err := c.db.QueryRowContext(
			ctx,
			"SELECT count(*) FROM sqlite_master WHERE type = 'index' AND name = ?",
			name,
		).Scan(&count)
		if err != nil {
			return "", fmt.Errorf("lookup index %s: %w", name, err)
		}
		if count == 0 {
			return name, nil
		}
	}
	return "", fmt.Errorf("both name slots of index %s on %s are taken", idx.Name, ds.Name)
}

// loadPage inserts a page into the staging table in its own transaction and
// returns how many records the mapper skipped.
func loadPage[T any](ctx context.Context, c *Coordinator, ds Dataset, page []T, mapRow RowMapper[T]) (skipped int64, err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, ds.insertSQL(ds.StagingName()))
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for i, record := range page {
		row, err := mapRow(record)
		if errors.Is(err, ErrSkipRecord) {
			skipped++
			continue
		}
		if err != nil {
			return skipped, fmt.Errorf("%w: record %d: %w", ErrMalformedRecord, i, err)
		}
		if len(row) != len(ds.Columns) {
			return skipped, fmt.Errorf(
				"%w: record %d: got %d values for %d columns",
				ErrMalformedRecord, i, len(row), len(ds.Columns),
			)
		}
		_, err = stmt.ExecContext(ctx, row...)
		if err != nil {
			return skipped, fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	return skipped, tx.Commit()
}

func (c *Coordinator) countStaging(ctx context.Context, ds Dataset) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, "SELECT count(*) FROM "+quote(ds.StagingName())).Scan(&count)
	return count, err
}

// dropStaging is best-effort, a leftover staging table is dropped by the next run anyway.
func (c *Coordinator) dropStaging(tel telemetry.API, ds Dataset) {
	_, err := c.db.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+quote(ds.StagingName()))
	if err != nil {
		tel.ReportWarning(report_coordinator_cleanup, err)
	}
}

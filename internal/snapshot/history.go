package snapshot

import (
	"context"
	"evetrade/internal/components/db"
	"strings"
	"time"
)

// HistoryEntry is a successful publish recorded in refresh_history.
type HistoryEntry struct {
	Dataset        string
	RowsPublished  int64
	RecordsFetched int64
	RecordsSkipped int64
	PublishedAt    time.Time
	Duration       time.Duration
	FailedViews    []string
}

func recordHistory(ctx context.Context, q db.DBTX, entry HistoryEntry) error {
	_, err := q.ExecContext(
		ctx,
		`INSERT INTO refresh_history (
			dataset, rows_published, records_fetched, records_skipped,
			published_at, duration_ms, failed_views
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Dataset,
		entry.RowsPublished,
		entry.RecordsFetched,
		entry.RecordsSkipped,
		entry.PublishedAt.Unix(),
		entry.Duration.Milliseconds(),
		strings.Join(entry.FailedViews, ","),
	)
	return err
}

// History lists the most recent publishes, newest first. An empty dataset lists
// every dataset.
func History(ctx context.Context, q db.DBTX, dataset string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := q.QueryContext(
		ctx,
		`SELECT dataset, rows_published, records_fetched, records_skipped,
			published_at, duration_ms, failed_views
		FROM refresh_history
		WHERE ? = '' OR dataset = ?
		ORDER BY id DESC
		LIMIT ?`,
		dataset, dataset, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			entry       HistoryEntry
			publishedAt int64
			durationMs  int64
			failedViews string
		)
		err = rows.Scan(
			&entry.Dataset,
			&entry.RowsPublished,
			&entry.RecordsFetched,
			&entry.RecordsSkipped,
			&publishedAt,
			&durationMs,
			&failedViews,
		)
		if err != nil {
			return nil, err
		}
		entry.PublishedAt = time.Unix(publishedAt, 0).UTC()
		entry.Duration = time.Duration(durationMs) * time.Millisecond
		if failedViews != "" {
			entry.FailedViews = strings.Split(failedViews, ",")
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

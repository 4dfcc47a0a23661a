package snapshot

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the external source could not be read. On the first
	// page nothing has been staged yet, on later pages the staging table is dropped.
	// The live table is untouched either way, retry on the next scheduled run.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrEmptyResult means the source yielded no records, an empty result is never published.
	ErrEmptyResult = errors.New("empty result")
	// ErrMalformedRecord means a record could not be mapped into a row.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrStagingFailure means the store rejected the staging table or its rows.
	ErrStagingFailure = errors.New("staging failure")
	// ErrPublishFailure means the publish transaction failed and was rolled back,
	// the live table keeps its last-known-good content.
	ErrPublishFailure = errors.New("publish failure")
	// ErrRefreshInProgress means another refresh of the same dataset holds its lock.
	ErrRefreshInProgress = errors.New("refresh in progress")

	// ErrSkipRecord is returned by a RowMapper to leave a record out of the
	// dataset without failing the refresh, ex. an order at another station.
	ErrSkipRecord = errors.New("skip record")
)

// ViewRepairFailure is a dependent view that could not be recreated after a publish.
// It is reported but never fails the refresh.
type ViewRepairFailure struct {
	View string
	Err  error
}

func (v ViewRepairFailure) Error() string {
	return fmt.Sprintf("repair view %s: %s", v.View, v.Err)
}

func (v ViewRepairFailure) Unwrap() error {
	return v.Err
}

func wrap(kind error, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, err)
}

package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"evetrade/internal/components/telemetry"
	"fmt"

	"github.com/google/uuid"
)

type lockRow struct {
	holder   string
	hostname string
	pid      int32
}

// acquireLock takes the advisory lock of a dataset. A lock older than the
// coordinator's TTL is considered abandoned and taken over, as is a lock whose
// process is no longer running on this host.
func (c *Coordinator) acquireLock(ctx context.Context, dataset string) (release func(), err error) {
	if c.noLock {
		return func() {}, nil
	}

	holder := uuid.NewString()
	now := c.time.Now()
	res, err := c.db.ExecContext(
		ctx,
		`INSERT INTO refresh_locks (dataset, holder, hostname, pid, acquired_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dataset) DO UPDATE
			SET holder = excluded.holder,
				hostname = excluded.hostname,
				pid = excluded.pid,
				acquired_at = excluded.acquired_at
			WHERE refresh_locks.acquired_at < ?`,
		dataset, holder, c.hostname, c.pid, now.Unix(), now.Add(-c.lockTTL).Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	if affected == 0 {
		current, err := c.readLock(ctx, dataset)
		if err != nil {
			return nil, err
		}
		if !c.holderDead(ctx, current) {
			return nil, fmt.Errorf("%w: %s is locked by %s", ErrRefreshInProgress, dataset, current.holder)
		}

		res, err := c.db.ExecContext(
			ctx,
			`UPDATE refresh_locks SET holder = ?, hostname = ?, pid = ?, acquired_at = ?
			WHERE dataset = ? AND holder = ?`,
			holder, c.hostname, c.pid, now.Unix(), dataset, current.holder,
		)
		if err != nil {
			return nil, fmt.Errorf("take over lock: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("take over lock: %w", err)
		}
		if affected == 0 {
			return nil, fmt.Errorf("%w: %s was taken over by another process", ErrRefreshInProgress, dataset)
		}
		c.tel.ReportWarning(
			report_coordinator_lock,
			"took over lock of exited process",
			telemetry.KV{Key: "dataset", Value: dataset},
			telemetry.KV{Key: "holder", Value: current.holder},
			telemetry.KV{Key: "pid", Value: current.pid},
		)
	}

	return func() {
		// the refresh may have been cancelled, release regardless
		_, err := c.db.ExecContext(
			context.Background(),
			"DELETE FROM refresh_locks WHERE dataset = ? AND holder = ?",
			dataset, holder,
		)
		if err != nil {
			c.tel.ReportWarning(report_coordinator_lock, dataset, err)
		}
	}, nil
}

func (c *Coordinator) readLock(ctx context.Context, dataset string) (lockRow, error) {
	var row lockRow
	err := c.db.QueryRowContext(
		ctx,
		"SELECT holder, hostname, pid FROM refresh_locks WHERE dataset = ?",
		dataset,
	).Scan(&row.holder, &row.hostname, &row.pid)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return lockRow{}, fmt.Errorf("read lock holder: %w", err)
	}
	return row, nil
}

// holderDead reports whether the lock belongs to a process of this host that
// has exited. Locks of other hosts can only expire through the TTL.
func (c *Coordinator) holderDead(ctx context.Context, row lockRow) bool {
	if row.holder == "" || row.pid <= 0 || row.hostname == "" || row.hostname != c.hostname {
		return false
	}
	if row.pid == c.pid {
		return false
	}
	alive, err := c.processAlive(ctx, row.pid)
	if err != nil {
		c.tel.ReportWarning(report_coordinator_lock, "check lock holder", row.pid, err)
		return false
	}
	return !alive
}

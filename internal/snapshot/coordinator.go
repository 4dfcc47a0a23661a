package snapshot

import (
	"context"
	"database/sql"
	"evetrade/internal/components/assert"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/telemetry"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	report_coordinator_stage   = "coordinator.stage"
	report_coordinator_load    = "coordinator.load"
	report_coordinator_publish = "coordinator.publish"
	report_coordinator_view    = "coordinator.view-repair"
	report_coordinator_cleanup = "coordinator.cleanup"
	report_coordinator_lock    = "coordinator.lock"
	report_coordinator_history = "coordinator.history"
)

const defaultLockTTL = 30 * time.Minute

// Coordinator runs refreshes against a single database. The database must have
// the bookkeeping tables of db.Schema applied.
type Coordinator struct {
	db      *sql.DB
	tel     telemetry.API
	time    chrono.TimeAPI
	lockTTL time.Duration
	noLock  bool

	hostname     string
	pid          int32
	processAlive func(ctx context.Context, pid int32) (bool, error)
}

type Option func(c *Coordinator)

// WithTelemetry sets where warnings and counts are reported, defaults to slog.
func WithTelemetry(tel telemetry.API) Option {
	return func(c *Coordinator) {
		c.tel = tel
	}
}

// WithTime sets the clock used for lock expiry and history timestamps.
func WithTime(t chrono.TimeAPI) Option {
	return func(c *Coordinator) {
		c.time = t
	}
}

// WithLockTTL sets how long a lock may be held before another refresh may take
// it over. A lock left by a crashed process of the same host is taken over right
// away, the TTL covers holders on other hosts of a shared database.
func WithLockTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

// WithoutLock disables the per-dataset advisory lock.
func WithoutLock() Option {
	return func(c *Coordinator) {
		c.noLock = true
	}
}

func NewCoordinator(database *sql.DB, opts ...Option) *Coordinator {
	assert.NotNil(database, "database")

	c := &Coordinator{
		db:      database,
		tel:     telemetry.SlogAPI{},
		time:    chrono.NewStandardTime(),
		lockTTL: defaultLockTTL,

		pid:          int32(os.Getpid()),
		processAlive: process.PidExistsWithContext,
	}
	c.hostname, _ = os.Hostname()
	for _, opt := range opts {
		opt(c)
	}
	c.tel = telemetry.NewScopedAPI("snapshot", c.tel)
	return c
}

// DB returns the database the coordinator publishes into.
func (c *Coordinator) DB() *sql.DB {
	return c.db
}

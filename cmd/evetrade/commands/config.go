package commands

import (
	"evetrade/internal/components/db"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/esi"
	"evetrade/internal/market"
	"fmt"

	"github.com/robfig/cron/v3"
)

type RefreshConfig struct {
	// LockTTLSeconds is how long a refresh lock is honored before it is
	// considered abandoned, defaults to 30 minutes.
	LockTTLSeconds int `json:"lock_ttl_seconds"`
}

type ScheduleConfig struct {
	// Jobs maps a job name to a standard 5 field cron spec, evaluated in UTC.
	Jobs map[string]string `json:"jobs"`
}

type Config struct {
	Database  db.Config        `json:"database"`
	Esi       esi.Config       `json:"esi"`
	Identity  market.Identity  `json:"identity"`
	Refresh   RefreshConfig    `json:"refresh"`
	Schedule  ScheduleConfig   `json:"schedule"`
	Telemetry telemetry.Config `json:"telemetry"`
}

func (c *Config) Validate() error {
	if c.Database.File == "" && c.Database.Url == "" {
		return fmt.Errorf("database.file or database.url must be set")
	}
	if c.Refresh.LockTTLSeconds < 0 {
		return fmt.Errorf("refresh.lock_ttl_seconds must not be negative")
	}
	for name, spec := range c.Schedule.Jobs {
		_, err := cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("schedule.jobs.%s: %w", name, err)
		}
	}
	return nil
}

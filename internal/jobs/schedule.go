package jobs

import (
	"context"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/telemetry"
	"fmt"
	"sort"
)

// Schedule registers each job under its cron spec. Every tick runs the job
// on its own, through RunAll, so failures are reported the same way.
func Schedule(ctx context.Context, cron chrono.CronAPI, tel telemetry.API, registry *Registry, specs map[string]string) error {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		jobs, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		err = cron.Cron(specs[name], func() {
			RunAll(ctx, tel, jobs)
		})
		if err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, specs[name], err)
		}
	}
	return nil
}

package commands

import (
	"context"
	"evetrade/internal/components/chrono"
	"evetrade/internal/components/serviceutil"
	"evetrade/internal/components/telemetry"
	"evetrade/internal/jobs"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Runs jobs on the cron schedule in the config until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := serviceutil.SignalContext(cmd.Context())
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if len(a.config.Schedule.Jobs) == 0 {
			return fmt.Errorf("schedule.jobs is empty, nothing to run")
		}

		cron := chrono.NewStandardCron(a.tel)
		telemetry.InstrumentPerfStats(ctx, a.tel, time.Minute)
		slog.Info("daemon started", "jobs", len(a.config.Schedule.Jobs))

		err = runScheduled(ctx, cron, 2*time.Minute, func(runCtx context.Context) error {
			return jobs.Schedule(runCtx, cron, a.tel, a.registry, a.config.Schedule.Jobs)
		})
		if err != nil {
			return err
		}
		slog.Info("daemon stopped")
		return nil
	},
}

type stoppableCron interface {
	chrono.CronAPI
	Stop(ctx context.Context)
}

// runScheduled registers jobs through schedule and blocks until ctx is done.
// Jobs run on their own context, one still running at shutdown gets grace to
// publish before it is cancelled and rolls back.
func runScheduled(ctx context.Context, cron stoppableCron, grace time.Duration, schedule func(runCtx context.Context) error) error {
	runCtx, cancelRuns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRuns()

	err := schedule(runCtx)
	if err != nil {
		cron.Stop(context.Background())
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	cron.Stop(stopCtx)
	return nil
}

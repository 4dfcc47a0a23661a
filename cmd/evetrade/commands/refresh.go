package commands

import (
	"context"
	"evetrade/internal/components/serviceutil"
	"evetrade/internal/jobs"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(runAllCmd)
}

func runJobs(ctx context.Context, a *app, selected []jobs.Job) error {
	reports, err := jobs.RunAll(ctx, a.tel, selected)
	jobs.RenderSummary(os.Stdout, reports)
	return err
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <job>...",
	Short: "Runs the given jobs in order, see `evetrade jobs` for their names.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// an interrupted refresh still drops its staging table and releases its lock
		ctx := serviceutil.SignalContext(cmd.Context())
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		selected, err := a.registry.Resolve(args...)
		if err != nil {
			return err
		}
		return runJobs(ctx, a, selected)
	},
}

var runAllCmd = &cobra.Command{
	Use:   "run-all",
	Short: "Runs every job, skipping the rest when a critical job fails.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := serviceutil.SignalContext(cmd.Context())
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		return runJobs(ctx, a, a.registry.All())
	},
}

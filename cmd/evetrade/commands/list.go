package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Lists the jobs that can be refreshed, in run-all order.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		schedule := a.config.Schedule.Jobs
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Job", "Critical", "Schedule", "Description"})
		for _, job := range a.registry.All() {
			t.AppendRow(table.Row{job.Name, job.Critical, schedule[job.Name], job.Description})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

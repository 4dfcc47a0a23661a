package commands

import (
	"evetrade/internal/components/telemetry"
	"evetrade/internal/snapshot"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "The number of refreshes to show.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [dataset]",
	Short: "Lists the most recent successful refreshes.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		telemetry.InitSlog(verbose)

		config, err := readConfig()
		if err != nil {
			return err
		}
		database, err := openDB(config)
		if err != nil {
			return err
		}
		defer database.Close()

		dataset := ""
		if len(args) > 0 {
			dataset = args[0]
		}
		entries, err := snapshot.History(cmd.Context(), database, dataset, historyLimit)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Dataset", "Published At", "Rows", "Fetched", "Skipped", "Duration", "Failed Views"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.Dataset,
				e.PublishedAt.Format(time.DateTime),
				e.RowsPublished,
				e.RecordsFetched,
				e.RecordsSkipped,
				e.Duration.Round(time.Millisecond).String(),
				strings.Join(e.FailedViews, ", "),
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}

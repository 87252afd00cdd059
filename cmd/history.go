package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/crossfade/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history",
	Short:       "List recorded runs from the ledger",
	Annotations: map[string]string{needsDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := DB.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			utils.ShowError("Failed to list runs", err, nil)
			return reportedError{err}
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "RUN\tIMAGE\tSIZE\tWORKERS\tFRAMES\tSKIPPED\tSTATUS\tTIME\tSTARTED")
		fmt.Fprintln(w, "---\t-----\t----\t-------\t------\t-------\t------\t----\t-------")

		for _, r := range runs {
			size := "-"
			if r.Width > 0 {
				size = fmt.Sprintf("%dx%d", r.Width, r.Height)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%d\t%s\t%.3fs\t%s\n",
				r.ID.String()[:8], r.ImagePath, size, r.Workers, r.Written, r.Frames, r.Skipped,
				r.Status, r.Elapsed.Seconds(), r.StartedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

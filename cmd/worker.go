package cmd

import (
	"log/slog"

	"github.com/andresmejia3/crossfade/internal/crossfade"
	"github.com/andresmejia3/crossfade/internal/worker"
	"github.com/spf13/cobra"
)

var workerOpts struct {
	rank     int
	size     int
	frames   int
	compress bool
}

// workerCmd is the entrypoint of the child processes started by run.
var workerCmd = &cobra.Command{
	Use:         "worker",
	Short:       "Run one worker rank (started by run, not by hand)",
	Hidden:      true,
	Annotations: map[string]string{skipDB: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := worker.Attach(workerOpts.rank, workerOpts.size, workerOpts.compress)
		if err != nil {
			return err
		}
		defer c.Close()

		report, err := crossfade.Run(cmd.Context(), c, crossfade.Options{NumFrames: workerOpts.frames})
		if err != nil {
			return err
		}
		slog.Debug("worker finished", "rank", report.Rank, "elapsed", report.Elapsed)
		return nil
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerOpts.rank, "rank", 0, "Rank of this worker (>= 1)")
	workerCmd.Flags().IntVar(&workerOpts.size, "size", 0, "Total number of participants")
	workerCmd.Flags().IntVar(&workerOpts.frames, "frames", crossfade.DefaultFrames, "Number of frames")
	workerCmd.Flags().BoolVar(&workerOpts.compress, "compress", false, "Messages are zstd-compressed")
	workerCmd.MarkFlagRequired("rank")
	workerCmd.MarkFlagRequired("size")
	rootCmd.AddCommand(workerCmd)
}

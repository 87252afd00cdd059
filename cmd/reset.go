package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/crossfade/internal/imageio"
	"github.com/andresmejia3/crossfade/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetLedger bool
	resetFrames string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (ledger tables, rendered frames)",
	Long:  "Clears the run ledger (--ledger) and/or the frames written under a prefix (--frames). With neither it drops the ledger. The database is chosen with the global --db flag or the POSTGRES_* environment.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing the ledger
		dropLedger := resetLedger || resetFrames == ""

		reader := bufio.NewReader(cmd.InOrStdin())

		if dropLedger {
			if DB == nil {
				return fmt.Errorf("no database configured: pass --db <url> or set POSTGRES_HOST")
			}
			if confirm(reader, cmd.OutOrStdout(), "⚠️  Are you sure you want to DROP all ledger tables?") {
				fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return reportedError{err}
				}
			}
		}

		if resetFrames != "" {
			matches, err := frameFiles(resetFrames)
			if err != nil {
				return err
			}
			prompt := fmt.Sprintf("⚠️  Are you sure you want to delete %d frame files under %q?", len(matches), resetFrames)
			if len(matches) > 0 && confirm(reader, cmd.OutOrStdout(), prompt) {
				fmt.Fprintln(cmd.OutOrStdout(), "🗑️  Clearing Frames...")
				for _, m := range matches {
					removeFile(m)
				}
			}
		}

		fmt.Fprintln(cmd.OutOrStdout(), "✨ System Reset Complete.")
		return nil
	},
}

func init() {
	// --db is the root connection string flag, so the table switch has its own name.
	resetCmd.Flags().BoolVar(&resetLedger, "ledger", false, "Drop the PostgreSQL ledger tables")
	resetCmd.Flags().StringVar(&resetFrames, "frames", "", "Delete the frames written with this output prefix")
	rootCmd.AddCommand(resetCmd)
}

// frameFiles lists the files a run with this prefix may have written, in
// any of the output formats.
func frameFiles(prefix string) ([]string, error) {
	var out []string
	for _, ext := range imageio.Formats {
		matches, err := filepath.Glob(prefix + "_frame_*." + ext)
		if err != nil {
			return nil, fmt.Errorf("bad frame prefix %q: %w", prefix, err)
		}
		out = append(out, matches...)
	}
	return out, nil
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

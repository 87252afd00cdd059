package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/crossfade/internal/store"
	"github.com/spf13/cobra"
)

var (
	// DB is the run ledger shared by subcommands. It stays nil when no
	// database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL string
	// configPath points at an optional YAML run configuration
	configPath string
	debug      bool
)

// Version is the application version.
const Version = "0.1.0"

// Command annotations controlling the ledger connection.
const (
	needsDB = "needs-db"
	skipDB  = "skip-db"
)

var rootCmd = &cobra.Command{
	Use:           "crossfade",
	Short:         "Distributed color to grayscale crossfade renderer",
	Version:       Version, // This enables the --version flag
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(debug)
		if cmd.Annotations[skipDB] != "" {
			return nil
		}

		url := resolveDBURL(dbURL, os.Getenv)
		if url == "" {
			if cmd.Annotations[needsDB] != "" {
				return fmt.Errorf("%s needs a database: pass --db or set POSTGRES_HOST", cmd.Name())
			}
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		var err error
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// resolveDBURL picks the --db flag first, then the POSTGRES_* environment.
// An empty result means no ledger.
func resolveDBURL(flag string, getenv func(string) string) string {
	if flag != "" {
		return flag
	}
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
}

func setupLogging(debug bool) {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !reported(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run ledger (default: POSTGRES_* environment, or none)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML file with run settings; explicit flags win")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Verbose structured logs on stderr")
}

package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// executeReset runs the root command with args and restores the global
// flag state afterwards.
func executeReset(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		dbURL, resetLedger, resetFrames = "", false, ""
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
	})

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestResetFlagsKeepDatabaseURL(t *testing.T) {
	t.Cleanup(func() { dbURL, resetLedger, resetFrames = "", false, "" })
	const url = "postgres://u:p@127.0.0.1:1/x"

	cmd, _, err := rootCmd.Find([]string{"reset"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.ParseFlags([]string{"--db", url, "--ledger"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	if dbURL != url {
		t.Errorf("dbURL = %q, want %q", dbURL, url)
	}
	if !resetLedger {
		t.Error("Expected --ledger to be set")
	}
	if rest := cmd.Flags().Args(); len(rest) != 0 {
		t.Errorf("Unexpected positional arguments %v", rest)
	}
	noEnv := func(string) string { return "" }
	if got := resolveDBURL(dbURL, noEnv); got != url {
		t.Errorf("resolveDBURL() = %q, want %q", got, url)
	}
}

func TestResetConnectsWithDatabaseFlag(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")

	// Nothing listens on port 1, so reaching the connect step is the proof
	// that the URL was taken from the command line.
	_, err := executeReset(t, "", "reset", "--db", "postgres://u:p@127.0.0.1:1/x?connect_timeout=2", "--ledger")
	if err == nil {
		t.Fatal("Expected a connection error")
	}
	if !strings.Contains(err.Error(), "failed to connect to database") {
		t.Errorf("Error = %v, want a connection failure", err)
	}
	if strings.Contains(err.Error(), "no database configured") {
		t.Errorf("The --db URL was ignored: %v", err)
	}
}

func TestResetLedgerWithoutDatabase(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")

	_, err := executeReset(t, "", "reset", "--ledger")
	if err == nil || !strings.Contains(err.Error(), "--db <url>") {
		t.Errorf("Error = %v, want a hint about --db", err)
	}
}

func TestResetFramesOnly(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "")
	dir := t.TempDir()
	prefix := filepath.Join(dir, "cf")
	frame := filepath.Join(dir, "cf_frame_000.png")
	other := filepath.Join(dir, "keep_frame_000.png")
	for _, p := range []string{frame, other} {
		if err := os.WriteFile(p, nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	out, err := executeReset(t, "y\n", "reset", "--frames", prefix)
	if err != nil {
		t.Fatalf("reset error = %v", err)
	}
	if _, err := os.Stat(frame); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be removed, stat error = %v", frame, err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("Unrelated file was touched: %v", err)
	}
	if !strings.Contains(out, "Reset Complete") {
		t.Errorf("Output = %q", out)
	}
}

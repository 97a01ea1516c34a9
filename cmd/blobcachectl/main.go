// Command blobcachectl is a thin CLI wrapper over the blobcache library,
// useful for inspecting and poking at a cache file outside of an
// application — it is never a second writer against a live application's
// database (see the library's multi-process Non-goal).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	dbPath     string
	appName    string
	jsonOutput bool
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "blobcachectl",
	Short: "Inspect and manage a blobcache database",
	Long: `blobcachectl is a small command-line front end over the blobcache
library: get/put/remove individual entries, list keys, force a vacuum or
flush, and watch the database file for external changes.

It opens the same SQLite file your application uses, so run it only
against a database whose owning process is not currently writing to it,
or expect contention — blobcachectl never coordinates with another
writer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" && appName == "" {
			return fmt.Errorf("one of --db or --app-name is required")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the blobcache SQLite file")
	rootCmd.PersistentFlags().StringVar(&appName, "app-name", "", "application name to discover the cache directory for, instead of --db")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&debugTelemetry, "debug-telemetry", false, "print opqueue spans/metrics to stdout (batched, flushed on exit)")

	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("app-name", rootCmd.PersistentFlags().Lookup("app-name"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug-telemetry", rootCmd.PersistentFlags().Lookup("debug-telemetry"))
	viper.SetEnvPrefix("BLOBCACHE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(getCmd, putCmd, rmCmd, lsCmd, vacuumCmd, flushCmd, watchCmd)
}

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		rootCancel()
	}()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "blobcachectl: %v\n", err)
		os.Exit(1)
	}
}

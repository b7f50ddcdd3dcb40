// Package commands implements the marketcache command line.
package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ndewijer/market-data-cache/internal/version"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1
	ExitPartial = 2
)

var (
	logLevel  string
	logFormat string
	dbPath    string
)

// errPartial marks a run that finished with per-symbol failures. The
// summary has already been printed.
var errPartial = errors.New("completed with failures")

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketcache",
	Short: "Persistent market data cache",
	Long: `A persistent cache between trading strategies and a rate-limited
market data provider.

Bars are served from the local store and only uncovered ranges are fetched
upstream, through a retrying, circuit-broken executor. Maintenance commands
backfill history with resumable checkpoints, keep series current, enforce
retention and report cache health.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errPartial):
		return ExitPartial
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitFailure
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log encoding (json, console); overrides LOG_FORMAT")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the SQLite store; overrides DB_PATH")
}

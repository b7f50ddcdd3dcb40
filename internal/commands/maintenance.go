package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ndewijer/market-data-cache/internal/model"
	"github.com/ndewijer/market-data-cache/internal/service"
)

var (
	backfillJob       string
	backfillSymbols   string
	backfillFile      string
	backfillExchange  string
	backfillInterval  string
	backfillYears     int
	backfillBatchSize int
	backfillResume    bool

	updateExchange string
	updateInterval string
	updateLookback int

	cleanupRetention int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical bars with a resumable checkpoint",
	Long: `Fetch years of history for a symbol list, batch by batch.

Progress is checkpointed after every batch. Interrupt with Ctrl-C and rerun
with --resume to continue where the run stopped; completed symbols are
skipped. Symbols default to TRACKED_SYMBOLS.

Examples:
  # Five years of daily bars for two symbols
  marketcache backfill --symbols RELIANCE,TCS --years 5

  # Resume an interrupted weekly backfill
  marketcache backfill --job nse-weekly --symbols-file nifty500.txt --interval ONE_WEEK --resume

Exit status is 2 when some symbols failed or the run was interrupted.`,
	RunE: runBackfill,
}

var dailyUpdateCmd = &cobra.Command{
	Use:   "daily-update",
	Short: "Fetch new bars for every cached series",
	Long: `Refresh every cached series of the exchange whose last bar is older
than --lookback days, fetching only the range after that bar.

Exit status is 2 when some symbols failed.`,
	RunE: runDailyUpdate,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete bars past retention and compact the store",
	RunE:  runCleanup,
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Delete bars past their TTL or the retention horizon",
	RunE:  runExpire,
}

var healthReportCmd = &cobra.Command{
	Use:   "health-report",
	Short: "Report cache coverage, freshness and quality",
	Long: `Print the cache health report for the default exchange and interval.

Exit status is 2 for WARNING and 1 for CRITICAL so the command can drive
monitoring checks directly.`,
	RunE: runHealthReport,
}

func init() {
	backfillCmd.Flags().StringVar(&backfillJob, "job", service.DefaultBackfillJob, "Job name; names the checkpoint file")
	backfillCmd.Flags().StringVar(&backfillSymbols, "symbols", "", "Comma separated symbols (default TRACKED_SYMBOLS)")
	backfillCmd.Flags().StringVar(&backfillFile, "symbols-file", "", "File with one symbol per line")
	backfillCmd.Flags().StringVar(&backfillExchange, "exchange", "", "Exchange (default DEFAULT_EXCHANGE)")
	backfillCmd.Flags().StringVar(&backfillInterval, "interval", "", "Interval, e.g. ONE_DAY (default DEFAULT_INTERVAL)")
	backfillCmd.Flags().IntVar(&backfillYears, "years", 0, "Years of history (default BACKFILL_YEARS)")
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 0, "Symbols per checkpointed batch (default BACKFILL_BATCH_SIZE)")
	backfillCmd.Flags().BoolVar(&backfillResume, "resume", false, "Resume from the job's checkpoint if one exists")

	dailyUpdateCmd.Flags().StringVar(&updateExchange, "exchange", "", "Exchange (default DEFAULT_EXCHANGE)")
	dailyUpdateCmd.Flags().StringVar(&updateInterval, "interval", "", "Interval (default DEFAULT_INTERVAL)")
	dailyUpdateCmd.Flags().IntVar(&updateLookback, "lookback", 1, "Refresh series whose last bar is older than this many days")

	cleanupCmd.Flags().IntVar(&cleanupRetention, "retention-days", 0, "Retention in days (default CACHE_RETENTION_DAYS)")

	rootCmd.AddCommand(backfillCmd, dailyUpdateCmd, cleanupCmd, expireCmd, healthReportCmd)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	symbols, err := readSymbols(backfillSymbols, backfillFile)
	if err != nil {
		return err
	}
	if len(symbols) == 0 && !backfillResume {
		symbols = a.cfg.Cache.TrackedSymbols
	}

	req := model.BackfillRequest{
		Job:       backfillJob,
		Symbols:   symbols,
		Exchange:  backfillExchange,
		Years:     backfillYears,
		BatchSize: backfillBatchSize,
		Resume:    backfillResume,
	}
	if req.Years <= 0 {
		req.Years = a.cfg.Backfill.Years
	}
	if req.BatchSize <= 0 {
		req.BatchSize = a.cfg.Backfill.BatchSize
	}
	if backfillInterval != "" {
		if req.Interval, err = model.ParseInterval(backfillInterval); err != nil {
			return err
		}
	}

	summary, err := a.maintenanceService.RunHistoricalBackfill(ctx, req)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Outcome() == model.OutcomePartial {
		return errPartial
	}
	return nil
}

func runDailyUpdate(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var interval model.Interval
	if updateInterval != "" {
		if interval, err = model.ParseInterval(updateInterval); err != nil {
			return err
		}
	}

	summary, err := a.maintenanceService.RunDailyUpdate(ctx, updateExchange, interval, updateLookback)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Outcome() == model.OutcomePartial {
		return errPartial
	}
	return nil
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.maintenanceService.RunWeeklyCleanup(ctx, cleanupRetention)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

func runExpire(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	summary, err := a.maintenanceService.Expire(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

func runHealthReport(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.maintenanceService.GenerateHealthReport(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}

	switch report.Status {
	case model.HealthCritical:
		return fmt.Errorf("cache health is %s", report.Status)
	case model.HealthWarning:
		return errPartial
	}
	return nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ndewijer/market-data-cache/internal/api"
	"github.com/ndewijer/market-data-cache/internal/scheduler"
)

var (
	serveHost     string
	servePort     string
	serveNoCron   bool
	shutdownGrace = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance scheduler",
	Long: `Start the HTTP API and, unless disabled, the cron scheduler that runs
the daily update (SCHEDULE_DAILY_UPDATE) and weekly cleanup
(SCHEDULE_WEEKLY_CLEANUP). Schedules are evaluated in UTC.

Examples:
  marketcache serve
  marketcache serve --host 0.0.0.0 --port 8080
  marketcache serve --no-scheduler`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default SERVER_HOST)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (default SERVER_PORT)")
	serveCmd.Flags().BoolVar(&serveNoCron, "no-scheduler", false, "Do not run scheduled maintenance")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if serveHost != "" {
		a.cfg.Server.Host = serveHost
	}
	if servePort != "" {
		a.cfg.Server.Port = servePort
	}
	a.cfg.Server.Addr = fmt.Sprintf("%s:%s", a.cfg.Server.Host, a.cfg.Server.Port)

	var sched *scheduler.Scheduler
	if a.cfg.Schedule.Enabled && !serveNoCron {
		if sched, err = newMaintenanceScheduler(a); err != nil {
			return err
		}
		sched.Start()
		for _, st := range sched.Status() {
			a.logger.Info("scheduled job registered",
				zap.String("job", st.Name),
				zap.String("spec", st.Spec),
				zap.Time("next", st.Next))
		}
	}

	router := api.NewRouter(api.Services{
		System:      a.systemService,
		Bars:        a.barService,
		Earnings:    a.earningsService,
		Maintenance: a.maintenanceService,
	}, a.cfg, a.logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", a.cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down server")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			return err
		}
	}

	a.logger.Info("server exited")
	return nil
}

// newMaintenanceScheduler registers the periodic maintenance jobs.
func newMaintenanceScheduler(a *app) (*scheduler.Scheduler, error) {
	s := scheduler.New(a.logger.Named("scheduler"), time.UTC)
	cfg := a.cfg.Schedule

	if cfg.DailyUpdate != "" {
		err := s.Add("daily-update", cfg.DailyUpdate, func(ctx context.Context) error {
			summary, err := a.maintenanceService.RunDailyUpdate(ctx, "", "", cfg.LookbackDays)
			if err != nil {
				return err
			}
			if summary.SymbolsFailed > 0 {
				return fmt.Errorf("%d of %d symbols failed", summary.SymbolsFailed, summary.SymbolsUpdated+summary.SymbolsFailed)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.WeeklyCleanup != "" {
		err := s.Add("weekly-cleanup", cfg.WeeklyCleanup, func(ctx context.Context) error {
			summary, err := a.maintenanceService.RunWeeklyCleanup(ctx, 0)
			if err != nil {
				return err
			}
			if summary.Health != nil {
				a.logger.Info("cache health after cleanup",
					zap.String("status", string(summary.Health.Status)),
					zap.Strings("issues", summary.Health.Issues))
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	// Expired rows are dropped daily; retention purges stay weekly.
	if err := s.Add("expire", "@daily", func(ctx context.Context) error {
		_, err := a.maintenanceService.Expire(ctx)
		return err
	}); err != nil {
		return nil, err
	}
	return s, nil
}

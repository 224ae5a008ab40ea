package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-fleet/fleetwatch/internal/api"
	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/health"
	"github.com/opensource-fleet/fleetwatch/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background re-sanitizer",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.Int("port", 0, "listen port (overrides config)")
	f.String("host", "", "listen host (overrides config)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}

	slog.Info("starting fleetwatch",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"profile", cfg.Profile,
	)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Back-dated refuels change the derived distance of later records.
	resanitizer := worker.NewWorker(a.bus, a.sanitizer, a.cache)
	if err := resanitizer.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	slog.Info("re-sanitize worker started")

	if cfg.Health.WatchRules {
		w := health.NewWatcher(cfg.Health.RulesPath, a.scorer, a.reports.Invalidate)
		if err := w.Start(ctx); err != nil {
			_ = resanitizer.Stop()
			return err
		}
		slog.Info("watching health rules", "path", cfg.Health.RulesPath)
	}

	srv := api.NewServer(cfg.Server, a.deps(), Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("fleetwatch is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		_ = resanitizer.Stop()
		return err
	}

	// Stop consuming refuel events before the stores close.
	if err := resanitizer.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("fleetwatch shutdown complete")
	return nil
}

func printBanner(cmd *cobra.Command, cfg *domain.Config, version string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  FLEETWATCH  odometer validation and fleet data quality")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Profile:  %s\n", cfg.Profile)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /validate                    - Validate a reading as it is typed")
	fmt.Fprintln(out, "    POST /refuels                     - Record a refuel")
	fmt.Fprintln(out, "    PUT  /refuels/{id}                - Amend a refuel")
	fmt.Fprintln(out, "    GET  /vehicles/{id}/last-reading  - Latest reading for a vehicle")
	fmt.Fprintln(out, "    GET  /vehicles/{id}/rate          - Typical daily distance")
	fmt.Fprintln(out, "    POST /sanitize                    - Repair derived distances")
	fmt.Fprintln(out, "    GET  /health/database             - Database health report")
	fmt.Fprintln(out, "    POST /import/validate             - Check a staged import")
	fmt.Fprintln(out, "    GET  /metrics                     - Prometheus metrics")
	fmt.Fprintln(out)
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"igcollector/internal/worker"
	"igcollector/pkg/api"
	"igcollector/pkg/pool"
	"igcollector/pkg/scraper"
	"igcollector/pkg/ui"
)

var (
	serveAddr    string
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API with background fetch jobs, the temp-block sweeper and
Prometheus metrics on /metrics.`,
	Example: `  igcollector serve --addr :9090 --workers 4`,
	Args:    cobra.NoArgs,
	RunE:    runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().IntVarP(&serveWorkers, "workers", "w", 0, "concurrent fetches (1-10)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(map[string]interface{}{"addr": serveAddr, "workers": serveWorkers})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper, err := pool.NewSweeper(a.store, a.cfg.Pool.SweepSchedule, a.cfg.Pool.TempBlockWindow, a.log)
	if err != nil {
		return err
	}
	sweeper.Start(ctx)
	defer sweeper.Stop()

	jobs := worker.NewTracker(a.cfg.Fetch.Workers, 1000, func(ctx context.Context, job worker.Job) (scraper.Result, error) {
		return a.scraper.Fetch(ctx, job.Target)
	}, a.log)
	jobs.Start(ctx)

	handler := api.NewHandler(a.store, a.orch, a.scraper, jobs, a.log)
	srv := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      handler.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	ui.PrintInfo("Listening on", srv.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	stop()

	a.log.Info("Shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("Server forced to shutdown")
	}
	jobs.Stop()
	a.log.Info("Server stopped")
	return nil
}

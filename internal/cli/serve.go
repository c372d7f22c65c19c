package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"immotech/server/internal/analytics"
	"immotech/server/internal/api"
	"immotech/server/internal/geocoding"
	"immotech/server/internal/property"
	"immotech/server/internal/scheduler"
	"immotech/server/internal/telegram"
	"immotech/server/internal/transaction"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Start the marketplace HTTP API and the contract reconciliation scheduler.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")

	return cmd
}

// newTransactionManager wires the lifecycle manager with the configured notifier.
func newTransactionManager(rt *runtime, notifier transaction.Notifier) *transaction.Manager {
	opts := []transaction.Option{}
	if notifier != nil {
		opts = append(opts, transaction.WithNotifier(notifier))
	}
	return transaction.NewManager(rt.store, rt.cfg.Contracts.Dir, rt.logger, opts...)
}

func runServe(ctx context.Context, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	if addr == "" {
		addr = rt.cfg.Server.Address
	}

	notifier, err := telegram.NewService(rt.cfg.Telegram, rt.logger)
	if err != nil {
		return fmt.Errorf("failed to set up notifications: %w", err)
	}
	geocoder := geocoding.NewGeocoder(rt.cfg.Geocoder, rt.logger)
	transactions := newTransactionManager(rt, notifier)

	handler := api.NewHandler(api.Services{
		Store:        rt.store,
		Properties:   property.NewService(rt.store, geocoder, notifier, rt.logger),
		Transactions: transactions,
		Aggregator:   analytics.NewAggregator(rt.store, rt.logger),
		Activity:     analytics.NewActivityReporter(rt.store, rt.logger),
		Cities:       rt.cfg.Cities,
	}, rt.logger)

	if rt.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:    addr,
		Handler: api.NewRouter(handler, rt.cfg.Server.CORSOrigins),
	}

	if rt.cfg.Scheduler.Enabled {
		sched := scheduler.NewScheduler(transactions, rt.cfg.Scheduler.Interval, rt.logger)
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shelver/internal/web"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP intake server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configValue()
			if err != nil {
				return err
			}

			slog.Info("configuration loaded",
				"addr", cfg.Server.Addr(),
				"store", cfg.Store.Driver,
				"max_records", cfg.Upload.MaxRecords,
				"max_concurrent_batches", cfg.Processing.MaxConcurrentBatches,
				"rate_limit_enabled", cfg.Rate.Enabled,
			)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(sigCtx, cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			server := web.NewServer(rt.service, cfg, web.WithMetricsHandler(rt.metrics.Handler()))

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-sigCtx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			// Stop taking requests first so no new batch is accepted while
			// running batches drain.
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown error", "error", err)
			}
			if err := rt.service.Shutdown(shutdownCtx); err != nil {
				slog.Warn("batches did not finish in time", "error", err)
			} else {
				slog.Info("all batches finished")
			}
			return nil
		},
	}
}

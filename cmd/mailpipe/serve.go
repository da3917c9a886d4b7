package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-pipeline/internal/api"
	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/webhook"
	"github.com/ignite/mail-pipeline/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cobra.Command {
	var withWorkers bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, unsubscribe pages and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), withWorkers)
		},
	}
	cmd.Flags().BoolVar(&withWorkers, "workers", true, "also run the queue worker pool in this process")
	return cmd
}

func runServe(parent context.Context, withWorkers bool) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	var pool *worker.Pool
	if withWorkers {
		if pool = a.newPool(); pool != nil {
			pool.Start(ctx)
		}
	}

	ingestor := webhook.NewIngestor(
		webhook.NewVerifier(a.cfg.Webhook.Secret, a.cfg.Webhook.Tolerance),
		a.tracking,
		!a.cfg.IsProduction(),
	)
	server := api.NewServer(a.cfg.Server, a.cfg.Admin, &api.Handlers{
		Webhook:     ingestor,
		Preferences: a.preferences,
		Admin:       a.admin,
		Enqueuer:    a.manager,
		Health:      api.NewHealthChecker(a.db, a.rdb),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", a.cfg.Server.Addr(), "queue_available", a.manager.Available())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.Error("http server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http server shutdown", "error", serr)
	}
	if pool != nil {
		if perr := pool.Stop(shutdownCtx); perr != nil {
			logger.Warn("worker pool shutdown", "error", perr)
		}
	}
	a.close(shutdownCtx)
	logger.Info("server stopped")
	return err
}

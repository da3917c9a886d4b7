package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the email queue without serving HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runWorker(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	pool := a.newPool()
	if pool == nil {
		a.close(context.Background())
		return errors.New("queue is disabled or unreachable, nothing to consume")
	}
	pool.Start(ctx)

	<-ctx.Done()
	logger.Info("worker shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Warn("worker pool shutdown", "error", err)
	}
	a.close(shutdownCtx)
	return nil
}

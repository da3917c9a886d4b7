// Command mailpipe runs the outbound email pipeline: the HTTP surface,
// the queue workers and database migrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-pipeline/internal/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "mailpipe",
		Short:         "Asynchronous outbound email pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("MAILPIPE_CONFIG"), "path to a YAML config file")

	root.AddCommand(serveCommand(), workerCommand(), migrateCommand())

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("mailpipe exited with error", "error", err)
		logger.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Sync()
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite/mail-pipeline/internal/pkg/logger"
	"github.com/ignite/mail-pipeline/internal/repository/postgres"
)

func migrateCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				migs, err := postgres.Migrations()
				if err != nil {
					return err
				}
				for _, m := range migs {
					fmt.Fprintln(cmd.OutOrStdout(), m.Name)
				}
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := postgres.Migrate(ctx, db)
			if err != nil {
				return err
			}
			logger.Info("migrations complete", "applied", len(applied), "names", applied)
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list embedded migrations and exit")
	return cmd
}

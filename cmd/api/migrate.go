// AngelaMos | 2026
// migrate.go

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/carterperez-dev/goldsave/internal/auth"
	"github.com/carterperez-dev/goldsave/internal/core"
)

func newMigrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{core.MigrateUp, core.MigrateDown},
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			if err := core.Migrate(cfg.Database.URL, args[0]); err != nil {
				return err
			}

			logger.Info("migrations applied", "direction", args[0])
			return nil
		},
	}
}

func newSessionsCmd(load loader) *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Session maintenance",
	}

	sessions.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete sessions past their expiry plus the cleanup grace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			db, err := core.NewDatabase(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // process exits right after

			janitor := auth.NewJanitor(
				auth.NewRepository(db.DB),
				cfg.Session,
				core.SystemClock{},
				nil,
				logger,
			)

			n, err := janitor.RunOnce(ctx)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "purged %d sessions\n", n)
			return nil
		},
	})

	return sessions
}

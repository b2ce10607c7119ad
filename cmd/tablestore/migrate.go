package main

import (
	"fmt"

	"tablestore/internal/store/postgres"
	"tablestore/internal/store/sqlite"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch driver := cfg.StorageDriver(); driver {
			case "postgres":
				n, err := postgres.Migrate(ctx, cfg.Storage.DatabaseURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "postgres: %d migration(s) applied\n", n)
			case "sqlite":
				tables, err := cfg.TableSet()
				if err != nil {
					return err
				}
				// Open migrates as a side effect.
				st, err := sqlite.Open(ctx, cfg.Storage.SQLitePath, tables)
				if err != nil {
					return err
				}
				st.Close()
				fmt.Fprintf(out, "sqlite: %s is up to date\n", cfg.Storage.SQLitePath)
			default:
				fmt.Fprintf(out, "%s: nothing to migrate\n", driver)
			}
			return nil
		},
	}
}

package main

import (
	"tablestore/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	port       int
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tablestore",
		Short: "JSON collection store with session auth",
		Long: `tablestore serves allow-listed tables of JSON documents over HTTP,
together with account registration, login and cookie sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the bare binary starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().IntVar(&opts.port, "port", 0, "listen port (overrides config)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newTablesCmd(opts))
	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.port != 0 {
		cfg.Port = o.port
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

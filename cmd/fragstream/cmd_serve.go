package main

import (
	"github.com/spf13/cobra"

	"github.com/strongdm/fragstream/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve --config <serve.yaml>",
		Short: "Serve fragment files as slowly streamed responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfigFile(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			return server.New(*cfg, server.WithLogger(c.log)).ListenAndServe(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the server config (YAML or JSON)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides the config)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

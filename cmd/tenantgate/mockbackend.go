package main

import (
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate"
	"pkt.systems/tenantgate/internal/appconfig"
)

func newMockBackendCmd() *cobra.Command {
	var cfgPath string
	var addr string
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve the mock REST backend backed by the local directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			serverCfg := toServerConfig(cfg)
			if addr != "" {
				serverCfg.Mock.Addr = addr
			}
			server, err := tenantgate.New(serverCfg, tenantgate.ServerDeps{Logger: logger}, tenantgate.WithMockBackend())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), server, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides mock.addr)")
	return cmd
}

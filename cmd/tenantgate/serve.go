package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate"
	"pkt.systems/tenantgate/internal/appconfig"
)

func newServeCmd() *cobra.Command {
	var cfgPath string
	var withMock bool
	var disableRequestLogs bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if disableRequestLogs {
				cfg.Logging.DisableRequestLogs = true
			}
			serverCfg := toServerConfig(cfg)
			opts := []tenantgate.ServerOption{tenantgate.WithGateway()}
			if withMock {
				opts = append(opts, tenantgate.WithMockBackend())
			}
			server, err := tenantgate.New(serverCfg, tenantgate.ServerDeps{Logger: logger}, opts...)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), server, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&withMock, "with-mock", false, "also serve the mock backend")
	cmd.Flags().BoolVar(&disableRequestLogs, "disable-request-logs", false, "disable per-request logging")
	return cmd
}

func runServer(parent context.Context, server tenantgate.Server, logger pslog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Stop(stopCtx); err != nil {
			logger.Warn("server stop failed", "err", err)
		}
	}()
	if err := server.Start(ctx); err != nil {
		return err
	}
	return server.Wait()
}

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
	"pkt.systems/tenantgate/internal/appconfig"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	loaded, envErr := appconfig.LoadDotEnv(".")
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)
	if envErr != nil {
		logger.Warn("dotenv load failed", "err", envErr)
	}
	for _, path := range loaded {
		logger.Debug("dotenv loaded", "path", path)
	}

	args := applyArgv0Alias(os.Args)
	root := newRootCmd()
	root.SetArgs(args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tenantgate command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tenantgate",
		Short:         "Tenant-aware portal gateway for multi-tenant retail consoles",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newMockBackendCmd())
	root.AddCommand(newBootstrapCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newUsersCmd())

	return root
}

func argv0Alias(base string) string {
	switch base {
	case "tenantgate-mock", "tenantgate-mock-backend":
		return "mock-backend"
	default:
		return ""
	}
}

func applyArgv0Alias(args []string) []string {
	if len(args) == 0 {
		return args
	}
	alias := argv0Alias(filepath.Base(args[0]))
	if alias == "" {
		return args
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0], alias)
	out = append(out, args[1:]...)
	return out
}

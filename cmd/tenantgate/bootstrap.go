package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/bootstrap"
)

func newBootstrapCmd() *cobra.Command {
	var outputDir string
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Generate default config, compose file and .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			out := outputDir
			if out == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				out = filepath.Join(home, ".tenantgate")
			}
			paths, err := bootstrap.WriteBootstrap(out, overwrite)
			if err != nil {
				return err
			}
			logger.Info("bootstrap wrote", "path", paths.ConfigPath, "name", "config.yaml")
			logger.Info("bootstrap wrote", "path", paths.ContainerConfigPath, "name", "config-for-container.yaml")
			logger.Info("bootstrap wrote", "path", paths.ComposePath, "name", "docker-compose.yaml")
			logger.Info("bootstrap wrote", "path", paths.EnvPath, "name", ".env")
			logger.Info("bootstrap wrote", "path", paths.StateDir, "name", "state/")
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory")
	cmd.Flags().BoolVar(&overwrite, "force", false, "overwrite existing files")
	return cmd
}

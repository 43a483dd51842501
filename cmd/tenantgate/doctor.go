package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/backend"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

func newDoctorCmd() *cobra.Command {
	var cfgPath string
	var timeout time.Duration
	var skipBackend bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run tenantgate diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())

			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			configPath := cfgPath
			if strings.TrimSpace(configPath) == "" {
				path, err := appconfig.DefaultConfigPath()
				if err != nil {
					return err
				}
				configPath = path
			}
			logger.Info("doctor start", "config", configPath)

			if err := checkWritableDir(filepath.Dir(cfg.HTTP.PortalFile)); err != nil {
				return fmt.Errorf("portal file dir: %w", err)
			}
			logger.Info("doctor portal store ok", "path", cfg.HTTP.PortalFile)

			classifier := core.NewClassifier(toHostConfig(cfg.Tenancy))
			for _, label := range []string{cfg.Tenancy.AdminLabel, cfg.Tenancy.WarehouseLabel} {
				host := label
				if cfg.Tenancy.RootDomain != "" {
					host = label + "." + cfg.Tenancy.RootDomain
				}
				hc := classifier.Classify(host)
				logger.Info("doctor host classified", "host", host, "mode", hc.Mode.String(), "dev", hc.IsDev)
			}

			if _, err := os.Stat(cfg.Mock.DirectoryFile); err == nil {
				store, err := directory.NewStoreWithLogger(cfg.Mock.DirectoryFile, toDirectorySeed(cfg.Mock), logger)
				if err != nil {
					return fmt.Errorf("mock directory: %w", err)
				}
				logger.Info("doctor mock directory ok", "companies", len(store.Companies()), "users", len(store.Users()))
			}

			if skipBackend {
				logger.Info("doctor ok")
				return nil
			}
			client, err := backend.New(toBackendOptions(cfg.Backend))
			if err != nil {
				return err
			}
			if err := probeBackend(cmd.Context(), client, timeout); err != nil {
				return err
			}
			logger.Info("doctor backend ok", "url", cfg.Backend.BaseURL)
			logger.Info("doctor ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "backend probe timeout")
	cmd.Flags().BoolVar(&skipBackend, "skip-backend", false, "skip the backend reachability probe")
	return cmd
}

// doctorProbeToken is never issued, so a reachable backend answers 401.
const doctorProbeToken = "tenantgate-doctor-probe"

// probeBackend treats any answered request as reachable.
func probeBackend(ctx context.Context, client core.Backend, timeout time.Duration) error {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := client.ProbeSession(probeCtx, schema.AdminTenantKey, doctorProbeToken)
	switch {
	case err == nil, errors.Is(err, schema.ErrUnauthenticated), errors.Is(err, schema.ErrInvalidCredentials):
		return nil
	case errors.Is(err, schema.ErrBackendUnavailable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("backend unreachable: %w", err)
	default:
		return fmt.Errorf("backend probe: %w", err)
	}
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

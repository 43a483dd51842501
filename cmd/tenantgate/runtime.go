package main

import (
	"time"

	"pkt.systems/tenantgate"
	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/httpapi"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/backend"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

func toServerConfig(cfg appconfig.Config) tenantgate.ServerConfig {
	return tenantgate.ServerConfig{
		HTTP:    toHTTPConfig(cfg),
		Tenancy: toHostConfig(cfg.Tenancy),
		Backend: toBackendOptions(cfg.Backend),
		Mock: tenantgate.MockConfig{
			Addr:          cfg.Mock.Addr,
			DirectoryFile: cfg.Mock.DirectoryFile,
			TokenTTL:      time.Duration(cfg.Mock.TokenTTLMinutes) * time.Minute,
			Seed:          toDirectorySeed(cfg.Mock),
		},
	}
}

func toHTTPConfig(cfg appconfig.Config) httpapi.Config {
	return httpapi.Config{
		Addr:               cfg.HTTP.Addr,
		PortalCookie:       cfg.HTTP.PortalCookie,
		PortalTTLHours:     cfg.HTTP.PortalTTLHours,
		SecureCookie:       cfg.HTTP.SecureCookie,
		BasePath:           cfg.HTTP.BasePath,
		PortalFile:         cfg.HTTP.PortalFile,
		DevOverrides:       cfg.Tenancy.DevOverrides,
		DisableRequestLogs: cfg.Logging.DisableRequestLogs,
	}
}

func toHostConfig(cfg appconfig.TenancyConfig) core.HostConfig {
	return core.HostConfig{
		RootDomain:     cfg.RootDomain,
		AdminLabel:     cfg.AdminLabel,
		WarehouseLabel: cfg.WarehouseLabel,
		DevHosts:       cfg.DevHosts,
		DevSuffixes:    cfg.DevSuffixes,
		DevTenant:      schema.TenantDNS(cfg.DevTenant),
	}
}

func toBackendOptions(cfg appconfig.BackendConfig) backend.Options {
	return backend.Options{
		BaseURL: cfg.BaseURL,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

func toDirectorySeed(cfg appconfig.MockConfig) directory.Seed {
	return directory.Seed{
		Companies: cfg.SeedCompanies,
		Users:     cfg.SeedUsers,
	}
}

package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Tenancy       TenancyConfig `mapstructure:"tenancy" yaml:"tenancy"`
	Backend       BackendConfig `mapstructure:"backend" yaml:"backend"`
	Mock          MockConfig    `mapstructure:"mock" yaml:"mock"`
	Logging       LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EnvPrefix prefixes environment overrides (TENANTGATE_HTTP_ADDR).
const EnvPrefix = "TENANTGATE"

// HTTPConfig configures the gateway HTTP server.
type HTTPConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr"`
	PortalCookie   string `mapstructure:"portal_cookie" yaml:"portal_cookie"`
	PortalTTLHours int    `mapstructure:"portal_ttl_hours" yaml:"portal_ttl_hours"`
	SecureCookie   bool   `mapstructure:"secure_cookie" yaml:"secure_cookie"`
	BasePath       string `mapstructure:"base_path" yaml:"base_path"`
	PortalFile     string `mapstructure:"portal_file" yaml:"portal_file"`
}

// TenancyConfig configures hostname classification.
type TenancyConfig struct {
	RootDomain     string   `mapstructure:"root_domain" yaml:"root_domain"`
	AdminLabel     string   `mapstructure:"admin_label" yaml:"admin_label"`
	WarehouseLabel string   `mapstructure:"warehouse_label" yaml:"warehouse_label"`
	DevHosts       []string `mapstructure:"dev_hosts" yaml:"dev_hosts"`
	DevSuffixes    []string `mapstructure:"dev_suffixes" yaml:"dev_suffixes"`
	DevTenant      string   `mapstructure:"dev_tenant" yaml:"dev_tenant"`
	// DevOverrides honours the portal_mode query and X-Portal-Mode header on dev hosts.
	DevOverrides   bool     `mapstructure:"dev_overrides" yaml:"dev_overrides"`
}

// BackendConfig configures the REST backend client.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// MockConfig configures the mock backend and its directory.
type MockConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DirectoryFile   string        `mapstructure:"directory_file" yaml:"directory_file"`
	TokenTTLMinutes int           `mapstructure:"token_ttl_minutes" yaml:"token_ttl_minutes"`
	SeedCompanies   []SeedCompany `mapstructure:"seed_companies" yaml:"seed_companies"`
	SeedUsers       []SeedUser    `mapstructure:"seed_users" yaml:"seed_users"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	DisableRequestLogs bool `mapstructure:"disable_request_logs" yaml:"disable_request_logs"`
}

// SeedCompany seeds a company in the mock directory.
type SeedCompany struct {
	ID     string      `mapstructure:"id" yaml:"id"`
	Name   string      `mapstructure:"name" yaml:"name"`
	DNS    string      `mapstructure:"dns" yaml:"dns"`
	Color  string      `mapstructure:"color" yaml:"color"`
	Logo   string      `mapstructure:"logo" yaml:"logo"`
	Stores []SeedStore `mapstructure:"stores" yaml:"stores"`
}

// SeedStore seeds a store of a company.
type SeedStore struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Name    string `mapstructure:"name" yaml:"name"`
	Address string `mapstructure:"address" yaml:"address"`
}

// SeedUser seeds a user in the mock directory. Password is hashed on seed when no hash is
// given.
type SeedUser struct {
	Email        string   `mapstructure:"email" yaml:"email"`
	Name         string   `mapstructure:"name" yaml:"name"`
	Password     string   `mapstructure:"password" yaml:"password,omitempty"`
	PasswordHash string   `mapstructure:"password_hash" yaml:"password_hash,omitempty"`
	TOTPSecret   string   `mapstructure:"totp_secret" yaml:"totp_secret,omitempty"`
	Role         string   `mapstructure:"role" yaml:"role"`
	SuperAdmin   bool     `mapstructure:"super_admin" yaml:"super_admin"`
	Tenant       string   `mapstructure:"tenant" yaml:"tenant"`
	Stores       []string `mapstructure:"stores" yaml:"stores"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	stateDir := filepath.Join(home, ".tenantgate", "state")
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      stateDir,
		HTTP: HTTPConfig{
			Addr:           ":27480",
			PortalCookie:   "tenantgate_portal",
			PortalTTLHours: 720,
			SecureCookie:   false,
			BasePath:       "",
			PortalFile:     filepath.Join(stateDir, "portals.json"),
		},
		Tenancy: TenancyConfig{
			RootDomain:     "",
			AdminLabel:     "admin",
			WarehouseLabel: "warehouse",
			DevHosts:       []string{},
			DevSuffixes:    []string{"test"},
			DevTenant:      "demo",
			DevOverrides:   true,
		},
		Backend: BackendConfig{
			BaseURL:        "http://127.0.0.1:27481",
			TimeoutSeconds: 10,
		},
		Mock: MockConfig{
			Addr:            "127.0.0.1:27481",
			DirectoryFile:   filepath.Join(stateDir, "directory.json"),
			TokenTTLMinutes: 480,
			SeedCompanies: []SeedCompany{
				{
					ID:    "c-demo",
					Name:  "Demo Retail",
					DNS:   "demo",
					Color: "#1f6feb",
					Stores: []SeedStore{
						{ID: "demo-1", Name: "Demo Central", Address: "1 Main Street"},
						{ID: "demo-2", Name: "Demo North", Address: "12 North Road"},
					},
				},
			},
			SeedUsers: []SeedUser{
				{
					Email:      "admin@example.com",
					Name:       "Administrator",
					Password:   "admin",
					Role:       "admin",
					SuperAdmin: true,
					Tenant:     "demo",
				},
				{
					Email:    "store@demo.example.com",
					Name:     "Store Operator",
					Password: "store",
					Role:     "user",
					Tenant:   "demo",
					Stores:   []string{"demo-1"},
				},
			},
		},
		Logging: LoggingConfig{
			DisableRequestLogs: false,
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tenantgate", "config.yaml"), nil
}

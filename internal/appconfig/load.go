package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// TENANTGATE_* environment variables override file values.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.portal_cookie", cfg.HTTP.PortalCookie)
	v.SetDefault("http.portal_ttl_hours", cfg.HTTP.PortalTTLHours)
	v.SetDefault("http.secure_cookie", cfg.HTTP.SecureCookie)
	v.SetDefault("http.base_path", cfg.HTTP.BasePath)
	v.SetDefault("http.portal_file", cfg.HTTP.PortalFile)
	v.SetDefault("tenancy.root_domain", cfg.Tenancy.RootDomain)
	v.SetDefault("tenancy.admin_label", cfg.Tenancy.AdminLabel)
	v.SetDefault("tenancy.warehouse_label", cfg.Tenancy.WarehouseLabel)
	v.SetDefault("tenancy.dev_hosts", cfg.Tenancy.DevHosts)
	v.SetDefault("tenancy.dev_suffixes", cfg.Tenancy.DevSuffixes)
	v.SetDefault("tenancy.dev_tenant", cfg.Tenancy.DevTenant)
	v.SetDefault("tenancy.dev_overrides", cfg.Tenancy.DevOverrides)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.timeout_seconds", cfg.Backend.TimeoutSeconds)
	v.SetDefault("mock.addr", cfg.Mock.Addr)
	v.SetDefault("mock.directory_file", cfg.Mock.DirectoryFile)
	v.SetDefault("mock.token_ttl_minutes", cfg.Mock.TokenTTLMinutes)
	v.SetDefault("mock.seed_companies", cfg.Mock.SeedCompanies)
	v.SetDefault("mock.seed_users", cfg.Mock.SeedUsers)
	v.SetDefault("logging.disable_request_logs", cfg.Logging.DisableRequestLogs)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validateBackendConfig(cfg.Backend); err != nil {
		return Config{}, err
	}
	if err := validateTenancyConfig(cfg.Tenancy); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("http.addr is required")
	}
	if strings.TrimSpace(cfg.PortalCookie) == "" {
		return fmt.Errorf("http.portal_cookie is required")
	}
	basePath := strings.TrimSpace(cfg.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("http.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("http.base_path must not include query or fragment")
		}
	}
	return nil
}

func validateBackendConfig(cfg BackendConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.base_url must include scheme and host (e.g. https://api.example.com)")
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must not be negative")
	}
	return nil
}

func validateTenancyConfig(cfg TenancyConfig) error {
	for _, label := range []struct {
		key   string
		value string
	}{
		{"tenancy.admin_label", cfg.AdminLabel},
		{"tenancy.warehouse_label", cfg.WarehouseLabel},
	} {
		if strings.Contains(label.value, ".") {
			return fmt.Errorf("%s must be a single DNS label", label.key)
		}
	}
	if cfg.AdminLabel != "" && strings.EqualFold(cfg.AdminLabel, cfg.WarehouseLabel) {
		return fmt.Errorf("tenancy.admin_label and tenancy.warehouse_label must differ")
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.HTTP.PortalFile = expandEnv(cfg.HTTP.PortalFile)
	cfg.Backend.BaseURL = expandEnv(cfg.Backend.BaseURL)
	cfg.Mock.DirectoryFile = expandEnv(cfg.Mock.DirectoryFile)
	for i := range cfg.Mock.SeedUsers {
		cfg.Mock.SeedUsers[i].Password = expandEnv(cfg.Mock.SeedUsers[i].Password)
		cfg.Mock.SeedUsers[i].TOTPSecret = expandEnv(cfg.Mock.SeedUsers[i].TOTPSecret)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// LoadDotEnv reads .env and .env.<APP_ENV> (APP_ENV defaults to "local") from dir and sets
// only variables missing from the environment. It returns the files that were read.
func LoadDotEnv(dir string) ([]string, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "local"
	}
	var loaded []string
	for _, name := range []string{".env." + appEnv, ".env"} {
		path := filepath.Join(dir, name)
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("read %s: %w", path, err)
		}
		for key, value := range values {
			if _, ok := os.LookupEnv(key); ok {
				continue
			}
			if err := os.Setenv(key, value); err != nil {
				return loaded, err
			}
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

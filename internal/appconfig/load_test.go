package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":27480" || cfg.Tenancy.AdminLabel != "admin" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadRejectsUnsupportedConfigVersion(t *testing.T) {
	path := writeConfig(t, `
config_version: 99
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unsupported config_version") {
		t.Fatalf("expected config_version error, got %v", err)
	}
}

func TestLoadRequiresConfigVersion(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":9000"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "config_version is required") {
		t.Fatalf("expected config_version required error, got %v", err)
	}
}

func TestLoadRejectsInvalidBackendURL(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
backend:
  base_url: api.example.com
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "backend.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadRejectsSameConsoleLabels(t *testing.T) {
	path := writeConfig(t, `
config_version: 1
tenancy:
  admin_label: ops
  warehouse_label: OPS
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("expected label error, got %v", err)
	}
}

func TestLoadReadsTenancyAndEnvOverride(t *testing.T) {
	t.Setenv("TENANTGATE_HTTP_ADDR", ":9999")
	path := writeConfig(t, `
config_version: 1
tenancy:
  root_domain: cotton-blue.com
  dev_hosts:
    - portal.internal
backend:
  base_url: https://api.cotton-blue.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Tenancy.RootDomain != "cotton-blue.com" {
		t.Fatalf("expected root domain, got %q", cfg.Tenancy.RootDomain)
	}
	if len(cfg.Tenancy.DevHosts) != 1 || cfg.Tenancy.DevHosts[0] != "portal.internal" {
		t.Fatalf("expected dev hosts, got %v", cfg.Tenancy.DevHosts)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("expected env override, got %q", cfg.HTTP.Addr)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	value := expandEnv("$FOO/$UID/$GID/$MISSING")
	if !strings.HasPrefix(value, "bar/") {
		t.Fatalf("expected env expansion, got %q", value)
	}
	if strings.Contains(value, "$UID") || strings.Contains(value, "$GID") {
		t.Fatalf("expected UID/GID expansion, got %q", value)
	}
	if !strings.HasSuffix(value, "/$MISSING") {
		t.Fatalf("expected missing vars to remain, got %q", value)
	}
}

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "staging")
	t.Setenv("TENANTGATE_DOTENV_KEEP", "from-env")
	if err := os.WriteFile(filepath.Join(dir, ".env.staging"), []byte("TENANTGATE_DOTENV_KEEP=from-file\nTENANTGATE_DOTENV_NEW=staged\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TENANTGATE_DOTENV_NEW=base\nTENANTGATE_DOTENV_BASE=base\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("TENANTGATE_DOTENV_NEW")
		_ = os.Unsetenv("TENANTGATE_DOTENV_BASE")
	})

	loaded, err := LoadDotEnv(dir)
	if err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected two files loaded, got %v", loaded)
	}
	if got := os.Getenv("TENANTGATE_DOTENV_KEEP"); got != "from-env" {
		t.Fatalf("expected existing value kept, got %q", got)
	}
	if got := os.Getenv("TENANTGATE_DOTENV_NEW"); got != "staged" {
		t.Fatalf("expected environment file to win over .env, got %q", got)
	}
	if got := os.Getenv("TENANTGATE_DOTENV_BASE"); got != "base" {
		t.Fatalf("expected .env value, got %q", got)
	}
}

func TestWriteDefaultRespectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected path %q, got %q", path, written)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("expected written default to load: %v", err)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Fatalf("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Fatalf("expected overwrite to succeed: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

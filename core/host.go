package core

import (
	"net"
	"strings"

	"pkt.systems/tenantgate/schema"
)

// Default subdomain labels for the non-tenant consoles.
const (
	DefaultAdminLabel     = "admin"
	DefaultWarehouseLabel = "warehouse"
)

// HostConfig configures hostname classification.
type HostConfig struct {
	// RootDomain is the shared parent domain (example.com). Optional.
	RootDomain     string
	AdminLabel     string
	WarehouseLabel string
	// DevHosts are exact hostnames treated as development hosts.
	DevHosts []string
	// DevSuffixes are domain suffixes treated as development hosts (".test").
	DevSuffixes []string
	// DevTenant fills an empty tenant hint on development hosts.
	DevTenant schema.TenantDNS
}

// Classifier maps request hostnames to a HostContext. It is immutable after construction.
type Classifier struct {
	root        string
	admin       string
	warehouse   string
	devHosts    map[string]struct{}
	devSuffixes []string
	devTenant   schema.TenantDNS
}

var defaultClassifier = NewClassifier(HostConfig{})

// Classify classifies a hostname with the default labels and no root domain.
func Classify(hostname string) schema.HostContext {
	return defaultClassifier.Classify(hostname)
}

// NewClassifier constructs a classifier, filling default labels.
func NewClassifier(cfg HostConfig) *Classifier {
	c := &Classifier{
		root:      normalizeHost(cfg.RootDomain),
		admin:     strings.ToLower(strings.TrimSpace(cfg.AdminLabel)),
		warehouse: strings.ToLower(strings.TrimSpace(cfg.WarehouseLabel)),
		devHosts:  make(map[string]struct{}, len(cfg.DevHosts)),
	}
	if c.admin == "" {
		c.admin = DefaultAdminLabel
	}
	if c.warehouse == "" {
		c.warehouse = DefaultWarehouseLabel
	}
	for _, host := range cfg.DevHosts {
		if host = normalizeHost(host); host != "" {
			c.devHosts[host] = struct{}{}
		}
	}
	for _, suffix := range cfg.DevSuffixes {
		suffix = strings.Trim(strings.ToLower(strings.TrimSpace(suffix)), ".")
		if suffix != "" {
			c.devSuffixes = append(c.devSuffixes, "."+suffix)
		}
	}
	if tenant, err := schema.NormalizeTenantDNS(string(cfg.DevTenant)); err == nil {
		c.devTenant = tenant
	}
	return c
}

// Classify derives the host mode, dev flag and tenant hint from a hostname. Total: malformed
// input yields a client context without tenant hint.
func (c *Classifier) Classify(hostname string) schema.HostContext {
	host := normalizeHost(hostname)
	if host == "" {
		return schema.HostContext{Mode: schema.HostClient}
	}
	if ip := net.ParseIP(host); ip != nil {
		return c.devFallback(schema.HostContext{Mode: schema.HostClient, IsDev: ip.IsLoopback() || c.isDev(host)})
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if !schema.IsDNSLabel(label) {
			return schema.HostContext{Mode: schema.HostClient}
		}
	}

	hc := schema.HostContext{Mode: schema.HostClient, IsDev: c.isDev(host)}
	label := c.prefixLabel(host, labels)
	switch label {
	case "":
	case c.admin:
		hc.Mode = schema.HostAdmin
	case c.warehouse:
		hc.Mode = schema.HostWarehouse
	default:
		hc.TenantHint = schema.TenantDNS(label)
	}
	return c.devFallback(hc)
}

// ApplyDevOverride honours an explicit mode and tenant override on development hosts only.
func (c *Classifier) ApplyDevOverride(hc schema.HostContext, mode string, tenant string) schema.HostContext {
	if !hc.IsDev {
		return hc
	}
	if parsed, ok := schema.ParseHostMode(mode); ok {
		hc.Mode = parsed
		if parsed != schema.HostClient {
			hc.TenantHint = ""
		}
	}
	if hc.Mode == schema.HostClient {
		if normalized, err := schema.NormalizeTenantDNS(tenant); err == nil {
			hc.TenantHint = normalized
		}
	}
	return c.devFallback(hc)
}

func (c *Classifier) devFallback(hc schema.HostContext) schema.HostContext {
	if hc.IsDev && hc.Mode == schema.HostClient && hc.TenantHint == "" {
		hc.TenantHint = c.devTenant
	}
	return hc
}

func (c *Classifier) prefixLabel(host string, labels []string) string {
	if c.root != "" {
		if host == c.root {
			return ""
		}
		if strings.HasSuffix(host, "."+c.root) {
			return firstLabel(strings.TrimSuffix(host, "."+c.root))
		}
	}
	if host == "localhost" {
		return ""
	}
	if strings.HasSuffix(host, ".localhost") {
		return firstLabel(strings.TrimSuffix(host, ".localhost"))
	}
	for _, suffix := range c.devSuffixes {
		if strings.HasSuffix(host, suffix) {
			return firstLabel(strings.TrimSuffix(host, suffix))
		}
	}
	if len(labels) < 3 {
		return ""
	}
	return labels[0]
}

func (c *Classifier) isDev(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if _, ok := c.devHosts[host]; ok {
		return true
	}
	for _, suffix := range c.devSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

func firstLabel(prefix string) string {
	if idx := strings.IndexByte(prefix, '.'); idx >= 0 {
		return prefix[:idx]
	}
	return prefix
}

// normalizeHost lowercases, strips the port and the trailing dot.
func normalizeHost(raw string) string {
	host := strings.ToLower(strings.TrimSpace(raw))
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "[") {
		end := strings.IndexByte(host, ']')
		if end < 0 {
			return ""
		}
		return host[1:end]
	}
	if strings.Count(host, ":") == 1 {
		host = host[:strings.IndexByte(host, ':')]
	}
	return strings.TrimSuffix(host, ".")
}

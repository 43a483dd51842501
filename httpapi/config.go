package httpapi

// Config defines the gateway HTTP settings.
type Config struct {
	Addr           string
	PortalCookie   string
	PortalTTLHours int
	SecureCookie   bool
	BasePath       string
	// PortalFile persists logged-in portals across restarts. Empty disables persistence.
	PortalFile string
	// DevOverrides honours portal_mode/portal_tenant (query) and X-Portal-Mode/X-Portal-Tenant
	// (header) on development hosts.
	DevOverrides       bool
	DisableRequestLogs bool
}

package schema

import "time"

// TenantDNS identifies a tenant by its DNS prefix (the "acme" in acme.example.com).
type TenantDNS string

// CompanyID identifies a client company.
type CompanyID string

// StoreID identifies a store (agency) belonging to a tenant.
type StoreID string

// PortalID identifies one browser's portal state on the gateway.
type PortalID string

// Reserved tenant keys used for tenant-scoped backend calls outside the client portal.
const (
	AdminTenantKey     TenantDNS = "admin"
	WarehouseTenantKey TenantDNS = "warehouse"
)

// HostContext is derived from the request hostname and never persisted.
type HostContext struct {
	Mode       HostMode  `json:"mode"`
	IsDev      bool      `json:"is_dev"`
	TenantHint TenantDNS `json:"tenant_hint,omitempty"`
}

// TenantKey returns the tenant identifier for tenant-scoped backend calls.
func (h HostContext) TenantKey() TenantDNS {
	switch h.Mode {
	case HostAdmin:
		return AdminTenantKey
	case HostWarehouse:
		return WarehouseTenantKey
	default:
		return h.TenantHint
	}
}

// StoreAssignment links a user to a store they may operate on.
type StoreAssignment struct {
	StoreID   StoreID `json:"store_id"`
	StoreName string  `json:"store_name"`
}

// UserInfo is the immutable identity snapshot of a logged-in user.
type UserInfo struct {
	UserName         string            `json:"user_name"`
	UserRole         string            `json:"user_role"`
	StoreAssignments []StoreAssignment `json:"store_assignments"`
	CompanyLogo      string            `json:"company_logo,omitempty"`
	SuperAdmin       bool              `json:"super_admin"`
}

// Clone returns a deep copy so callers can never mutate a stored snapshot.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	out := *u
	out.StoreAssignments = append([]StoreAssignment(nil), u.StoreAssignments...)
	return &out
}

// Company is a client company (tenant).
type Company struct {
	ID    CompanyID `json:"id"`
	Name  string    `json:"name"`
	DNS   TenantDNS `json:"dns"`
	Color string    `json:"color,omitempty"`
	Logo  string    `json:"logo,omitempty"`
}

// Store is a physical or logical location of a tenant.
type Store struct {
	ID      StoreID `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address,omitempty"`
}

// Credentials carries a login attempt.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// Session is the readable identity state of a portal.
type Session struct {
	User       *UserInfo `json:"user"`
	IsLoggedIn bool      `json:"is_logged_in"`
	IsLoading  bool      `json:"is_loading"`
	Role       Role      `json:"role"`
	Error      string    `json:"error,omitempty"`
}

// TenantSelection is the currently selected company and store.
type TenantSelection struct {
	SelectedCompany *Company `json:"selected_company"`
	SelectedStore   StoreID  `json:"selected_store,omitempty"`
	StoreName       string   `json:"store_name,omitempty"`
}

// Dashboard holds the aggregates shown on a dashboard variant.
type Dashboard struct {
	Mode      DashboardMode      `json:"mode"`
	Metrics   map[string]float64 `json:"metrics"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Branding is the tenant look served to the portal.
type Branding struct {
	Company    string `json:"company"`
	Color      string `json:"color"`
	Foreground string `json:"foreground"`
	Logo       string `json:"logo,omitempty"`
}

// PortalState is a consistent snapshot of one portal.
type PortalState struct {
	ID      PortalID        `json:"id"`
	Host    HostContext     `json:"host"`
	Session Session         `json:"session"`
	Tenant  TenantSelection `json:"tenant"`
	Mode    DashboardMode   `json:"mode"`
	Route   RouteTree       `json:"route"`
}

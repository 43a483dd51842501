package schema

import (
	"fmt"
	"strings"
)

// HostMode is the operating mode chosen from the hostname.
type HostMode int

const (
	// HostClient serves the tenant client portal.
	HostClient HostMode = iota
	// HostAdmin serves the super-admin console.
	HostAdmin
	// HostWarehouse serves the warehouse console.
	HostWarehouse
)

func (m HostMode) String() string {
	switch m {
	case HostAdmin:
		return "admin"
	case HostWarehouse:
		return "warehouse"
	default:
		return "client"
	}
}

// MarshalText renders the mode name.
func (m HostMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *HostMode) UnmarshalText(data []byte) error {
	mode, ok := ParseHostMode(string(data))
	if !ok {
		return fmt.Errorf("%w: unknown host mode %q", ErrInvalidRequest, string(data))
	}
	*m = mode
	return nil
}

// ParseHostMode parses a mode name.
func ParseHostMode(value string) (HostMode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin":
		return HostAdmin, true
	case "warehouse":
		return HostWarehouse, true
	case "client":
		return HostClient, true
	default:
		return HostClient, false
	}
}

// Role is the authorization role of a logged-in user.
type Role int

const (
	// RoleNone is the anonymous role.
	RoleNone Role = iota
	// RoleSuperAdmin has access to the admin console across all tenants.
	RoleSuperAdmin
	// RoleClientAdmin administers a single tenant.
	RoleClientAdmin
	// RoleStoreUser operates on assigned stores only.
	RoleStoreUser
)

func (r Role) String() string {
	switch r {
	case RoleSuperAdmin:
		return "super_admin"
	case RoleClientAdmin:
		return "client_admin"
	case RoleStoreUser:
		return "store_user"
	default:
		return "none"
	}
}

// MarshalText renders the role name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a role name.
func (r *Role) UnmarshalText(data []byte) error {
	switch string(data) {
	case "super_admin":
		*r = RoleSuperAdmin
	case "client_admin":
		*r = RoleClientAdmin
	case "store_user":
		*r = RoleStoreUser
	case "none", "":
		*r = RoleNone
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, string(data))
	}
	return nil
}

// IsAdmin reports whether the role may see every store of a company.
func (r Role) IsAdmin() bool {
	return r == RoleSuperAdmin || r == RoleClientAdmin
}

// RoleFor derives the role from a backend user record. The super-admin flag wins over the
// textual role.
func RoleFor(user *UserInfo) Role {
	if user == nil {
		return RoleNone
	}
	if user.SuperAdmin {
		return RoleSuperAdmin
	}
	if strings.EqualFold(strings.TrimSpace(user.UserRole), "admin") {
		return RoleClientAdmin
	}
	return RoleStoreUser
}

// DashboardMode selects the super-admin dashboard variant.
type DashboardMode int

const (
	// AdminManagement shows cross-tenant administration.
	AdminManagement DashboardMode = iota
	// ClientManagement shows client-management aggregates.
	ClientManagement
)

func (m DashboardMode) String() string {
	if m == ClientManagement {
		return "client"
	}
	return "admin"
}

// MarshalText renders the mode name.
func (m DashboardMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *DashboardMode) UnmarshalText(data []byte) error {
	mode, ok := ParseDashboardMode(string(data))
	if !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, string(data))
	}
	*m = mode
	return nil
}

// ParseDashboardMode parses a dashboard mode name.
func ParseDashboardMode(value string) (DashboardMode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "admin", "admin_management":
		return AdminManagement, true
	case "client", "client_management":
		return ClientManagement, true
	default:
		return AdminManagement, false
	}
}

// RouteTree names the route tree mounted for a request.
type RouteTree int

const (
	// RouteNotFound is the fallback tree.
	RouteNotFound RouteTree = iota
	// RouteAdminLogin is the admin login tree.
	RouteAdminLogin
	// RouteAdminConsole is the protected admin console tree.
	RouteAdminConsole
	// RouteClientLogin is the tenant login tree.
	RouteClientLogin
	// RouteClientPortal is the protected tenant portal tree.
	RouteClientPortal
	// RouteWarehouseConsole is the warehouse tree.
	RouteWarehouseConsole
)

func (t RouteTree) String() string {
	switch t {
	case RouteAdminLogin:
		return "admin_login"
	case RouteAdminConsole:
		return "admin_console"
	case RouteClientLogin:
		return "client_login"
	case RouteClientPortal:
		return "client_portal"
	case RouteWarehouseConsole:
		return "warehouse_console"
	default:
		return "not_found"
	}
}

// MarshalText renders the tree name.
func (t RouteTree) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tree name.
func (t *RouteTree) UnmarshalText(data []byte) error {
	for tree := RouteNotFound; tree <= RouteWarehouseConsole; tree++ {
		if tree.String() == string(data) {
			*t = tree
			return nil
		}
	}
	return fmt.Errorf("%w: unknown route tree %q", ErrInvalidRequest, string(data))
}

package core

import "pkt.systems/tenantgate/schema"

// Paths of the route tree roots.
const (
	LoginPath = "/login"
	RootPath  = "/"
)

// Decide selects the route tree mounted for a request. It is evaluated on every request and
// keeps no state between calls.
func Decide(host schema.HostContext, session schema.Session) schema.RouteTree {
	switch host.Mode {
	case schema.HostAdmin:
		if session.IsLoggedIn && session.Role == schema.RoleSuperAdmin {
			return schema.RouteAdminConsole
		}
		return schema.RouteAdminLogin
	case schema.HostWarehouse:
		return schema.RouteWarehouseConsole
	case schema.HostClient:
		if session.IsLoggedIn {
			return schema.RouteClientPortal
		}
		return schema.RouteClientLogin
	default:
		return schema.RouteNotFound
	}
}

// TreeRoot returns the landing path of a route tree.
func TreeRoot(tree schema.RouteTree, mode schema.DashboardMode) string {
	switch tree {
	case schema.RouteAdminConsole:
		return DashboardRoot(mode)
	case schema.RouteAdminLogin, schema.RouteClientLogin:
		return LoginPath
	default:
		return RootPath
	}
}

// NotFoundRedirect returns where an unmatched path is sent. Admin hosts redirect to the mounted
// tree's root; other hosts render a not-found page.
func NotFoundRedirect(host schema.HostContext, tree schema.RouteTree, mode schema.DashboardMode) (string, bool) {
	if host.Mode != schema.HostAdmin {
		return "", false
	}
	return TreeRoot(tree, mode), true
}

package core

import (
	"context"

	"pkt.systems/tenantgate/schema"
)

// Backend is the REST backend consumed by a portal. Token is the upstream session token held by
// the portal, empty for anonymous portals.
type Backend interface {
	ProbeSession(ctx context.Context, tenant schema.TenantDNS, token string) (schema.SessionPayload, error)
	Login(ctx context.Context, tenant schema.TenantDNS, creds schema.Credentials) (schema.SessionPayload, error)
	Logout(ctx context.Context, tenant schema.TenantDNS, token string) error
	ListCompanies(ctx context.Context, token string) ([]schema.Company, error)
	ListStores(ctx context.Context, dns schema.TenantDNS, token string) ([]schema.Store, error)
	Dashboard(ctx context.Context, tenant schema.TenantDNS, mode schema.DashboardMode, token string) (schema.Dashboard, error)
}

// PortalDeps captures dependencies for a portal.
type PortalDeps struct {
	Backend   Backend
	EventSink EventSink
}

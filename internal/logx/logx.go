package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/schema"
)

type contextKey int

const (
	portalKey contextKey = iota
	tenantKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithPortal annotates the logger with the portal id if present.
func WithPortal(ctx context.Context, portalID schema.PortalID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if portalID != "" {
		if current, ok := ctx.Value(portalKey).(schema.PortalID); ok && current == portalID {
			return log
		}
		log = log.With("portal", portalID)
	}
	return log
}

// WithPortalTenant annotates the logger with portal and tenant identifiers.
func WithPortalTenant(ctx context.Context, portalID schema.PortalID, tenant schema.TenantDNS) pslog.Logger {
	log := WithPortal(ctx, portalID)
	if tenant != "" {
		if current, ok := ctx.Value(tenantKey).(schema.TenantDNS); ok && current == tenant {
			return log
		}
		log = log.With("tenant", tenant)
	}
	return log
}

// WithHost annotates the logger with the classified host.
func WithHost(log pslog.Logger, host schema.HostContext) pslog.Logger {
	log = log.With("host_mode", host.Mode.String())
	if host.TenantHint != "" {
		log = log.With("tenant", host.TenantHint)
	}
	if host.IsDev {
		log = log.With("dev", true)
	}
	return log
}

// ContextWithPortal stores the portal marker on the context for log de-duplication.
func ContextWithPortal(ctx context.Context, portalID schema.PortalID) context.Context {
	if ctx == nil || portalID == "" {
		return ctx
	}
	return context.WithValue(ctx, portalKey, portalID)
}

// ContextWithTenant stores the tenant marker on the context for log de-duplication.
func ContextWithTenant(ctx context.Context, tenant schema.TenantDNS) context.Context {
	if ctx == nil || tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

// ContextWithPortalLogger attaches the logger and portal/tenant markers to the context.
func ContextWithPortalLogger(ctx context.Context, log pslog.Logger, portalID schema.PortalID, tenant schema.TenantDNS) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTenant(ContextWithPortal(ctx, portalID), tenant)
}

// CopyContextFields copies portal/tenant markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if portal, ok := src.Value(portalKey).(schema.PortalID); ok && portal != "" {
		dst = ContextWithPortal(dst, portal)
	}
	if tenant, ok := src.Value(tenantKey).(schema.TenantDNS); ok && tenant != "" {
		dst = ContextWithTenant(dst, tenant)
	}
	return dst
}

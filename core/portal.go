package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// Portal is the per-browser central store. It composes the identity, tenant and mode slices
// and the dashboard cache. Each slice serializes its own mutations.
type Portal struct {
	id       schema.PortalID
	backend  Backend
	sink     EventSink
	identity *Identity
	tenant   *TenantContext
	mode     *ModeToggle
	now      func() time.Time

	dashMu     sync.Mutex
	dashboards map[dashboardKey]schema.Dashboard
}

type dashboardKey struct {
	mode   schema.DashboardMode
	tenant schema.TenantDNS
	epoch  uint64
}

// NewPortal constructs an anonymous portal.
func NewPortal(id schema.PortalID, deps PortalDeps) *Portal {
	return &Portal{
		id:         id,
		backend:    deps.Backend,
		sink:       deps.EventSink,
		identity:   NewIdentity(deps.Backend),
		tenant:     NewTenantContext(),
		mode:       NewModeToggle(),
		now:        time.Now,
		dashboards: make(map[dashboardKey]schema.Dashboard),
	}
}

// ID returns the portal id.
func (p *Portal) ID() schema.PortalID {
	return p.id
}

// Identity returns the session slice.
func (p *Portal) Identity() *Identity {
	return p.identity
}

// Tenant returns the tenant selection slice.
func (p *Portal) Tenant() *TenantContext {
	return p.tenant
}

// Modes returns the dashboard mode slice.
func (p *Portal) Modes() *ModeToggle {
	return p.mode
}

// Token returns the upstream session token for persistence.
func (p *Portal) Token() string {
	return p.identity.Token()
}

// Restore seeds a persisted upstream token.
func (p *Portal) Restore(token string) {
	p.identity.Restore(token)
}

// Start runs the application-start probe once: always on the admin host, and on other hosts
// when a restored upstream token is present.
func (p *Portal) Start(ctx context.Context, host schema.HostContext) error {
	tenant := host.TenantKey()
	if tenant == "" {
		return nil
	}
	if host.Mode != schema.HostAdmin && p.identity.Token() == "" {
		return nil
	}
	if !p.identity.ClaimProbe() {
		return nil
	}
	err := p.identity.ProbeSession(ctx, tenant)
	if errors.Is(err, schema.ErrSuperseded) {
		return nil
	}
	if err == nil {
		p.loadSessionCompany(ctx, host)
	}
	p.publishSession()
	return err
}

// Login authenticates the portal against the tenant of the host.
func (p *Portal) Login(ctx context.Context, host schema.HostContext, creds schema.Credentials) error {
	tenant := host.TenantKey()
	if tenant == "" {
		return schema.ErrMissingTenant
	}
	email, err := schema.NormalizeEmail(creds.Email)
	if err != nil {
		return err
	}
	creds.Email = email
	if err := p.identity.Login(ctx, tenant, creds); err != nil {
		if !errors.Is(err, schema.ErrSuperseded) {
			p.publishSession()
		}
		return err
	}
	p.tenant.Reset()
	p.dropDashboards()
	p.loadSessionCompany(ctx, host)
	p.publishSession()
	p.publishTenant()
	return nil
}

// Logout clears the portal. The local reset is unconditional; the returned error only reports
// a failed upstream invalidation.
func (p *Portal) Logout(ctx context.Context, host schema.HostContext) error {
	err := p.identity.Logout(ctx, host.TenantKey())
	p.tenant.Reset()
	p.mode.Reset()
	p.dropDashboards()
	p.publishSession()
	return err
}

// Session returns the identity snapshot.
func (p *Portal) Session() schema.Session {
	return p.identity.Snapshot()
}

// Route returns the tree mounted for the host.
func (p *Portal) Route(host schema.HostContext) schema.RouteTree {
	return Decide(host, p.identity.Snapshot())
}

// State returns a snapshot of the whole portal for the host.
func (p *Portal) State(host schema.HostContext) schema.PortalState {
	session := p.identity.Snapshot()
	mode, _ := p.mode.Mode()
	return schema.PortalState{
		ID:      p.id,
		Host:    host,
		Session: session,
		Tenant:  p.tenant.Selection(session.Role, session.User),
		Mode:    mode,
		Route:   Decide(host, session),
	}
}

// Companies lists every company. Super-admin on the admin host only.
func (p *Portal) Companies(ctx context.Context, host schema.HostContext) ([]schema.Company, error) {
	session := p.identity.Snapshot()
	if err := requireSuperAdmin(host, session); err != nil {
		return nil, err
	}
	return p.backend.ListCompanies(ctx, p.identity.Token())
}

// SelectCompany switches the selected company by id or DNS prefix.
func (p *Portal) SelectCompany(ctx context.Context, host schema.HostContext, ref string) (schema.TenantSelection, error) {
	session := p.identity.Snapshot()
	if err := requireSuperAdmin(host, session); err != nil {
		return schema.TenantSelection{}, err
	}
	companies, err := p.backend.ListCompanies(ctx, p.identity.Token())
	if err != nil {
		return schema.TenantSelection{}, err
	}
	company, ok := findCompany(companies, ref)
	if !ok {
		return schema.TenantSelection{}, fmt.Errorf("%w: %s", schema.ErrCompanyNotFound, ref)
	}
	err = p.tenant.SelectCompany(ctx, host.Mode, session.Role, session.User, company, p.listStores)
	if errors.Is(err, schema.ErrSuperseded) {
		return p.tenant.Selection(session.Role, session.User), err
	}
	p.tenant.EnsureInitialSelection(session.Role, session.User)
	p.dropDashboards()
	p.publishTenant()
	return p.tenant.Selection(session.Role, session.User), err
}

// Stores returns the stores visible to the current user, applying the initial selection first.
func (p *Portal) Stores(ctx context.Context) []schema.StoreAssignment {
	session := p.identity.Snapshot()
	if p.tenant.EnsureInitialSelection(session.Role, session.User) {
		p.publishTenant()
	}
	return p.tenant.VisibleStores(session.Role, session.User)
}

// SelectStore selects a visible store. Invalid ids leave the selection unchanged.
func (p *Portal) SelectStore(ctx context.Context, storeID schema.StoreID) (schema.TenantSelection, bool) {
	session := p.identity.Snapshot()
	ctx = logx.ContextWithPortalLogger(ctx, logx.WithPortal(ctx, p.id), p.id, "")
	ok := p.tenant.SelectStore(ctx, storeID, session.Role, session.User)
	if ok {
		p.publishTenant()
	}
	return p.tenant.Selection(session.Role, session.User), ok
}

// SetMode switches the dashboard mode. Cached dashboards are dropped on a switch.
func (p *Portal) SetMode(ctx context.Context, mode schema.DashboardMode, currentPath string) (ModeChange, error) {
	session := p.identity.Snapshot()
	if !session.IsLoggedIn {
		return ModeChange{}, schema.ErrUnauthenticated
	}
	change, err := p.mode.SetMode(session.Role, mode, currentPath)
	if err != nil {
		return change, err
	}
	if change.Changed {
		p.dropDashboards()
		logx.WithPortal(ctx, p.id).Info("dashboard mode changed", "mode", change.Mode.String(), "redirect", change.Redirect)
		p.publish(schema.PortalEvent{Type: schema.PortalEventMode, Mode: &change.Mode, Redirect: change.Redirect})
	}
	return change, nil
}

// Dashboard returns the dashboard aggregates for the current mode, cached per mode epoch.
func (p *Portal) Dashboard(ctx context.Context, host schema.HostContext) (schema.Dashboard, error) {
	session := p.identity.Snapshot()
	if !session.IsLoggedIn {
		return schema.Dashboard{}, schema.ErrUnauthenticated
	}
	mode, epoch := p.mode.Mode()
	tenant := host.TenantKey()
	if host.Mode == schema.HostAdmin {
		if company := p.tenant.Company(); company != nil && mode == schema.ClientManagement {
			tenant = company.DNS
		}
	} else {
		mode = schema.ClientManagement
	}
	key := dashboardKey{mode: mode, tenant: tenant, epoch: epoch}

	p.dashMu.Lock()
	cached, ok := p.dashboards[key]
	p.dashMu.Unlock()
	if ok {
		return cached, nil
	}

	dashboard, err := p.backend.Dashboard(ctx, tenant, mode, p.identity.Token())
	if err != nil {
		return schema.Dashboard{}, err
	}
	if dashboard.FetchedAt.IsZero() {
		dashboard.FetchedAt = p.now().UTC()
	}
	dashboard.Mode = mode

	if _, current := p.mode.Mode(); current == epoch {
		p.dashMu.Lock()
		p.dashboards[key] = dashboard
		p.dashMu.Unlock()
	}
	return dashboard, nil
}

// Branding returns the look of the selected company, falling back to the session company.
func (p *Portal) Branding() schema.Branding {
	company := p.tenant.Company()
	if company == nil {
		company = p.identity.Company()
	}
	branding := BrandingFor(company)
	if branding.Logo == "" {
		if user := p.identity.Snapshot().User; user != nil {
			branding.Logo = user.CompanyLogo
		}
	}
	return branding
}

func (p *Portal) loadSessionCompany(ctx context.Context, host schema.HostContext) {
	company := p.identity.Company()
	if company == nil && host.Mode == schema.HostClient && host.TenantHint != "" {
		company = &schema.Company{ID: schema.CompanyID(host.TenantHint), DNS: host.TenantHint}
	}
	session := p.identity.Snapshot()
	if company == nil || company.DNS == "" {
		p.tenant.EnsureInitialSelection(session.Role, session.User)
		return
	}
	if err := p.tenant.LoadCompanyStores(ctx, *company, session.Role, session.User, p.listStores); err != nil && !errors.Is(err, schema.ErrSuperseded) {
		logx.WithPortalTenant(ctx, p.id, company.DNS).Warn("load company stores failed", "err", err)
	}
	p.tenant.EnsureInitialSelection(session.Role, session.User)
}

func (p *Portal) listStores(ctx context.Context, dns schema.TenantDNS) ([]schema.Store, error) {
	return p.backend.ListStores(ctx, dns, p.identity.Token())
}

func (p *Portal) dropDashboards() {
	p.dashMu.Lock()
	defer p.dashMu.Unlock()
	clear(p.dashboards)
}

func (p *Portal) publishSession() {
	session := p.identity.Snapshot()
	p.publish(schema.PortalEvent{Type: schema.PortalEventSession, Session: &session})
}

func (p *Portal) publishTenant() {
	session := p.identity.Snapshot()
	selection := p.tenant.Selection(session.Role, session.User)
	p.publish(schema.PortalEvent{Type: schema.PortalEventTenant, Tenant: &selection})
}

func (p *Portal) publish(event schema.PortalEvent) {
	if p.sink == nil {
		return
	}
	event.Portal = p.id
	event.Timestamp = p.now().UTC()
	p.sink.OnPortalEvent(event)
}

func requireSuperAdmin(host schema.HostContext, session schema.Session) error {
	if host.Mode != schema.HostAdmin {
		return schema.ErrAdminHostOnly
	}
	if !session.IsLoggedIn {
		return schema.ErrUnauthenticated
	}
	if session.Role != schema.RoleSuperAdmin {
		return schema.ErrSuperAdminOnly
	}
	return nil
}

func findCompany(companies []schema.Company, ref string) (schema.Company, bool) {
	for _, company := range companies {
		if string(company.ID) == ref || string(company.DNS) == ref {
			return company, true
		}
	}
	return schema.Company{}, false
}

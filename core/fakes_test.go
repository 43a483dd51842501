package core

import (
	"context"
	"sync"

	"pkt.systems/tenantgate/schema"
)

type fakeBackend struct {
	mu          sync.Mutex
	probe       func(ctx context.Context, tenant schema.TenantDNS, token string) (schema.SessionPayload, error)
	login       func(ctx context.Context, tenant schema.TenantDNS, creds schema.Credentials) (schema.SessionPayload, error)
	logoutErr   error
	companies   []schema.Company
	stores      map[schema.TenantDNS][]schema.Store
	logouts     []string
	dashCalls   int
	probeCalls  int
	storeErr    error
	dashMetrics map[string]float64
}

func (f *fakeBackend) ProbeSession(ctx context.Context, tenant schema.TenantDNS, token string) (schema.SessionPayload, error) {
	f.mu.Lock()
	f.probeCalls++
	probe := f.probe
	f.mu.Unlock()
	if probe == nil {
		return schema.SessionPayload{}, schema.ErrUnauthenticated
	}
	return probe(ctx, tenant, token)
}

func (f *fakeBackend) Login(ctx context.Context, tenant schema.TenantDNS, creds schema.Credentials) (schema.SessionPayload, error) {
	if f.login == nil {
		return schema.SessionPayload{}, schema.ErrInvalidCredentials
	}
	return f.login(ctx, tenant, creds)
}

func (f *fakeBackend) Logout(_ context.Context, _ schema.TenantDNS, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	return f.logoutErr
}

func (f *fakeBackend) ListCompanies(context.Context, string) ([]schema.Company, error) {
	return append([]schema.Company(nil), f.companies...), nil
}

func (f *fakeBackend) ListStores(_ context.Context, dns schema.TenantDNS, _ string) ([]schema.Store, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return append([]schema.Store(nil), f.stores[dns]...), nil
}

func (f *fakeBackend) Dashboard(_ context.Context, _ schema.TenantDNS, mode schema.DashboardMode, _ string) (schema.Dashboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dashCalls++
	return schema.Dashboard{Mode: mode, Metrics: f.dashMetrics}, nil
}

func (f *fakeBackend) dashboardCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dashCalls
}

type recordingSink struct {
	mu     sync.Mutex
	events []schema.PortalEvent
}

func (s *recordingSink) OnPortalEvent(event schema.PortalEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) types() []schema.PortalEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.PortalEventType, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event.Type)
	}
	return out
}

func superAdminPayload() schema.SessionPayload {
	return schema.SessionPayload{
		User: schema.UserPayload{
			UserName:   "root",
			UserRole:   "admin",
			SuperAdmin: true,
		},
		Token: "tok-root",
	}
}

func storeUserPayload() schema.SessionPayload {
	return schema.SessionPayload{
		User: schema.UserPayload{
			UserName: "Léa",
			UserRole: "user",
			Stores:   []schema.StoreAssignment{{StoreID: "s1", StoreName: "Lyon"}},
		},
		Company:      schema.CompanyPayload{ID: "c-chrono", Name: "Chronodrive", DNS: "chronodrive"},
		CompanyColor: "#ffcc00",
		Token:        "tok-lea",
	}
}

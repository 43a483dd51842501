package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/backendmock"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

func newMockBackend(t *testing.T) *Client {
	t.Helper()
	dir, err := directory.NewStore(filepath.Join(t.TempDir(), "directory.json"), directory.Seed{
		Companies: []appconfig.SeedCompany{
			{ID: "c-chrono", Name: "Chronodrive", DNS: "chronodrive", Color: "#ffcc00", Stores: []appconfig.SeedStore{
				{ID: "s1", Name: "Lyon"},
				{ID: "s2", Name: "Paris"},
			}},
		},
		Users: []appconfig.SeedUser{
			{Email: "lea@chronodrive.fr", Name: "Léa", Password: "secret", Role: "user", Tenant: "chronodrive", Stores: []string{"s1"}},
			{Email: "root@example.com", Name: "Root", Password: "toor", Role: "admin", SuperAdmin: true},
		},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	mock, err := backendmock.New(backendmock.Options{Directory: dir})
	if err != nil {
		t.Fatalf("mock: %v", err)
	}
	srv := httptest.NewServer(mock)
	t.Cleanup(srv.Close)
	client, err := New(Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://nope"} {
		if _, err := New(Options{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestLoginProbeLogoutRoundTrip(t *testing.T) {
	client := newMockBackend(t)
	ctx := context.Background()

	payload, err := client.Login(ctx, "chronodrive", schema.Credentials{Email: "lea@chronodrive.fr", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if payload.Token == "" || payload.Company.DNS != "chronodrive" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	probed, err := client.ProbeSession(ctx, "chronodrive", payload.Token)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if probed.User.UserName != "Léa" || len(probed.User.Stores) != 1 {
		t.Fatalf("unexpected probe %+v", probed)
	}
	if err := client.Logout(ctx, "chronodrive", payload.Token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := client.ProbeSession(ctx, "chronodrive", payload.Token); !errors.Is(err, schema.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated after logout, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	client := newMockBackend(t)
	ctx := context.Background()

	_, err := client.Login(ctx, "chronodrive", schema.Credentials{Email: "lea@chronodrive.fr", Password: "wrong"})
	if !errors.Is(err, schema.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	var backendErr *Error
	if !errors.As(err, &backendErr) || backendErr.Status != http.StatusUnauthorized || backendErr.Code != schema.CodeInvalidCredentials {
		t.Fatalf("expected backend error detail, got %#v", err)
	}

	if _, err := client.ProbeSession(ctx, "chronodrive", ""); !errors.Is(err, schema.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated without token, got %v", err)
	}
	if _, err := client.ProbeSession(ctx, "", "tok"); !errors.Is(err, schema.ErrMissingTenant) {
		t.Fatalf("expected missing tenant, got %v", err)
	}

	lea, err := client.Login(ctx, "chronodrive", schema.Credentials{Email: "lea@chronodrive.fr", Password: "secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := client.ListCompanies(ctx, lea.Token); !errors.Is(err, schema.ErrSuperAdminOnly) {
		t.Fatalf("expected super-admin only, got %v", err)
	}
	root, err := client.Login(ctx, schema.AdminTenantKey, schema.Credentials{Email: "root@example.com", Password: "toor"})
	if err != nil {
		t.Fatalf("root login: %v", err)
	}
	if _, err := client.ListStores(ctx, "missing", root.Token); !errors.Is(err, schema.ErrCompanyNotFound) {
		t.Fatalf("expected company not found, got %v", err)
	}
}

func TestListsAndDashboard(t *testing.T) {
	client := newMockBackend(t)
	ctx := context.Background()
	root, err := client.Login(ctx, schema.AdminTenantKey, schema.Credentials{Email: "root@example.com", Password: "toor"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	companies, err := client.ListCompanies(ctx, root.Token)
	if err != nil {
		t.Fatalf("companies: %v", err)
	}
	if len(companies) != 1 || companies[0].Color != "#ffcc00" {
		t.Fatalf("unexpected companies %+v", companies)
	}
	stores, err := client.ListStores(ctx, "chronodrive", root.Token)
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("unexpected stores %+v", stores)
	}
	dashboard, err := client.Dashboard(ctx, schema.AdminTenantKey, schema.AdminManagement, root.Token)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dashboard.Mode != schema.AdminManagement || dashboard.Metrics["companies"] != 1 {
		t.Fatalf("unexpected dashboard %+v", dashboard)
	}
}

func TestUnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	client, err := New(Options{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if _, err := client.ListCompanies(context.Background(), "tok"); !errors.Is(err, schema.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}

func TestErrorStatusFallback(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusBadRequest, `{"message":"bad"}`, schema.ErrInvalidRequest},
		{http.StatusUnauthorized, ``, schema.ErrUnauthenticated},
		{http.StatusForbidden, `not json`, schema.ErrSuperAdminOnly},
		{http.StatusBadGateway, `{"message":"down"}`, schema.ErrBackendUnavailable},
		{http.StatusTeapot, `{"code":"invalid_totp"}`, schema.ErrInvalidTOTP},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		client, err := New(Options{BaseURL: srv.URL})
		if err != nil {
			t.Fatalf("client: %v", err)
		}
		_, err = client.Dashboard(context.Background(), "acme", schema.ClientManagement, "tok")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestConcurrentListsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","name":"One","dns":"one"}]`))
	}))
	defer srv.Close()
	client, err := New(Options{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make(chan []schema.Company, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			companies, err := client.ListCompanies(context.Background(), "tok")
			if err != nil {
				t.Errorf("list: %v", err)
				return
			}
			results <- companies
		}()
	}
	for hits.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream request, got %d", got)
	}
	first := true
	for companies := range results {
		if len(companies) != 1 {
			t.Fatalf("unexpected companies %+v", companies)
		}
		if first {
			companies[0].Name = "mutated"
			first = false
		} else if companies[0].Name != "One" {
			t.Fatalf("shared result mutated across callers")
		}
	}
}

func TestCanceledCallerDoesNotFailSharedRequest(t *testing.T) {
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","name":"One","dns":"one"}]`))
	}))
	defer srv.Close()
	defer func() {
		select {
		case <-release:
		default:
			close(release)
		}
	}()
	client, err := New(Options{BaseURL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.ListCompanies(firstCtx, "tok")
		firstErr <- err
	}()
	<-entered

	type result struct {
		companies []schema.Company
		err       error
	}
	second := make(chan result, 1)
	go func() {
		companies, err := client.ListCompanies(context.Background(), "tok")
		second <- result{companies: companies, err: err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected canceled first caller, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("canceled caller did not return")
	}

	close(release)
	select {
	case res := <-second:
		if res.err != nil {
			t.Fatalf("expected second caller to succeed, got %v", res.err)
		}
		if len(res.companies) != 1 || res.companies[0].DNS != "one" {
			t.Fatalf("unexpected companies %+v", res.companies)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("second caller did not return")
	}
}

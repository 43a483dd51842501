package backendmock

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

func newTestServer(t *testing.T, now func() time.Time) *Server {
	t.Helper()
	dir, err := directory.NewStore(filepath.Join(t.TempDir(), "directory.json"), directory.Seed{
		Companies: []appconfig.SeedCompany{
			{ID: "c-chrono", Name: "Chronodrive", DNS: "chronodrive", Color: "#ffcc00", Stores: []appconfig.SeedStore{
				{ID: "s1", Name: "Lyon"},
				{ID: "s2", Name: "Paris"},
			}},
			{ID: "c-acme", Name: "Acme", DNS: "acme", Stores: []appconfig.SeedStore{{ID: "a1", Name: "Main"}}},
		},
		Users: []appconfig.SeedUser{
			{Email: "lea@chronodrive.fr", Name: "Léa", Password: "secret", Role: "user", Tenant: "chronodrive", Stores: []string{"s1"}},
			{Email: "root@example.com", Name: "Root", Password: "toor", Role: "admin", SuperAdmin: true},
		},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	srv, err := New(Options{Directory: dir, TokenTTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, srv *Server, tenant, email, password string) schema.SessionPayload {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/tenants/"+tenant+"/login", "", schema.LoginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", rec.Code, rec.Body.String())
	}
	var payload schema.SessionPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected token")
	}
	return payload
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload schema.ErrorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload.Code
}

func TestLoginAndSessionProbe(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := login(t, srv, "chronodrive", "lea@chronodrive.fr", "secret")
	if payload.Company.DNS != "chronodrive" || payload.CompanyColor != "#ffcc00" {
		t.Fatalf("unexpected company %+v", payload)
	}
	if len(payload.User.Stores) != 1 || payload.User.Stores[0].StoreName != "Lyon" {
		t.Fatalf("unexpected stores %+v", payload.User.Stores)
	}

	rec := do(t, srv, http.MethodGet, "/api/tenants/chronodrive/session", payload.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("session status %d", rec.Code)
	}
	var probed schema.SessionPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &probed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if probed.Token != "" || probed.User.UserName != "Léa" {
		t.Fatalf("unexpected probe payload %+v", probed)
	}

	rec = do(t, srv, http.MethodGet, "/api/tenants/acme/session", payload.Token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on foreign tenant, got %d", rec.Code)
	}
}

func TestLoginErrorsCarryCodes(t *testing.T) {
	srv := newTestServer(t, nil)
	cases := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{"wrong password", schema.LoginRequest{Email: "lea@chronodrive.fr", Password: "nope"}, http.StatusUnauthorized, schema.CodeInvalidCredentials},
		{"unknown user", schema.LoginRequest{Email: "ghost@chronodrive.fr", Password: "secret"}, http.StatusUnauthorized, schema.CodeInvalidCredentials},
		{"unknown field", map[string]string{"email": "lea@chronodrive.fr", "pass": "x"}, http.StatusBadRequest, schema.CodeInvalidRequest},
	}
	for _, tc := range cases {
		rec := do(t, srv, http.MethodPost, "/api/tenants/chronodrive/login", "", tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, rec.Code)
		}
		if code := errorCode(t, rec); code != tc.code {
			t.Fatalf("%s: expected code %q, got %q", tc.name, tc.code, code)
		}
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv := newTestServer(t, nil)
	payload := login(t, srv, "admin", "root@example.com", "toor")
	if got := srv.Sessions(); got != 1 {
		t.Fatalf("expected one session, got %d", got)
	}
	for _, other := range []string{"warehouse", "chronodrive"} {
		rec := do(t, srv, http.MethodGet, "/api/tenants/"+other+"/session", payload.Token, nil)
		if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != schema.CodeUnauthenticated {
			t.Fatalf("expected admin token rejected on %s, got %d", other, rec.Code)
		}
	}
	if rec := do(t, srv, http.MethodGet, "/api/tenants/admin/session", payload.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected admin session valid, got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodPost, "/api/tenants/admin/logout", payload.Token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status %d", rec.Code)
	}
	rec := do(t, srv, http.MethodGet, "/api/tenants/admin/session", payload.Token, nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != schema.CodeUnauthenticated {
		t.Fatalf("expected unauthenticated after logout, got %d", rec.Code)
	}
}

func TestTokensExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	srv := newTestServer(t, func() time.Time { return now })
	payload := login(t, srv, "chronodrive", "lea@chronodrive.fr", "secret")
	now = now.Add(2 * time.Hour)
	if rec := do(t, srv, http.MethodGet, "/api/tenants/chronodrive/session", payload.Token, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired token, got %d", rec.Code)
	}
	if got := srv.Sessions(); got != 0 {
		t.Fatalf("expected expired grant pruned, got %d", got)
	}
}

func TestCompaniesRequireSuperAdmin(t *testing.T) {
	srv := newTestServer(t, nil)
	if rec := do(t, srv, http.MethodGet, "/api/companies", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	lea := login(t, srv, "chronodrive", "lea@chronodrive.fr", "secret")
	rec := do(t, srv, http.MethodGet, "/api/companies", lea.Token, nil)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != schema.CodeForbidden {
		t.Fatalf("expected 403 for store user, got %d", rec.Code)
	}

	root := login(t, srv, "admin", "root@example.com", "toor")
	rec = do(t, srv, http.MethodGet, "/api/companies", root.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("companies status %d", rec.Code)
	}
	var companies []schema.Company
	if err := json.Unmarshal(rec.Body.Bytes(), &companies); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(companies) != 2 {
		t.Fatalf("expected two companies, got %+v", companies)
	}
}

func TestStoresScopedToCompany(t *testing.T) {
	srv := newTestServer(t, nil)
	lea := login(t, srv, "chronodrive", "lea@chronodrive.fr", "secret")
	rec := do(t, srv, http.MethodGet, "/api/companies/chronodrive/stores", lea.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own stores status %d", rec.Code)
	}
	var stores []schema.Store
	if err := json.Unmarshal(rec.Body.Bytes(), &stores); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected two stores, got %+v", stores)
	}
	if rec := do(t, srv, http.MethodGet, "/api/companies/acme/stores", lea.Token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 on foreign company, got %d", rec.Code)
	}
	root := login(t, srv, "admin", "root@example.com", "toor")
	rec = do(t, srv, http.MethodGet, "/api/companies/missing/stores", root.Token, nil)
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != schema.CodeNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDashboardMetrics(t *testing.T) {
	srv := newTestServer(t, nil)
	root := login(t, srv, "admin", "root@example.com", "toor")

	cases := []struct {
		name   string
		path   string
		token  string
		status int
		metric string
		want   float64
	}{
		{"admin overview", "/api/tenants/admin/dashboard?mode=admin", root.Token, http.StatusOK, "companies", 2},
		{"admin all stores", "/api/tenants/admin/dashboard?mode=admin", root.Token, http.StatusOK, "stores", 3},
		{"client view of company", "/api/tenants/chronodrive/dashboard?mode=client", root.Token, http.StatusOK, "stores", 2},
		{"client users", "/api/tenants/chronodrive/dashboard?mode=client", root.Token, http.StatusOK, "users", 1},
		{"bad mode", "/api/tenants/admin/dashboard?mode=weird", root.Token, http.StatusBadRequest, "", 0},
		{"unknown company", "/api/tenants/nowhere/dashboard?mode=client", root.Token, http.StatusNotFound, "", 0},
	}
	for _, tc := range cases {
		rec := do(t, srv, http.MethodGet, tc.path, tc.token, nil)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if tc.metric == "" {
			continue
		}
		var dashboard schema.Dashboard
		if err := json.Unmarshal(rec.Body.Bytes(), &dashboard); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if got := dashboard.Metrics[tc.metric]; got != tc.want {
			t.Fatalf("%s: expected %s=%v, got %v", tc.name, tc.metric, tc.want, got)
		}
	}

	lea := login(t, srv, "chronodrive", "lea@chronodrive.fr", "secret")
	if rec := do(t, srv, http.MethodGet, "/api/tenants/chronodrive/dashboard?mode=admin", lea.Token, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin mode as store user, got %d", rec.Code)
	}
}

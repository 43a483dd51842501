package backendmock

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// DefaultTokenTTL bounds the lifetime of an issued session token.
const DefaultTokenTTL = 8 * time.Hour

// Options configures the mock backend.
type Options struct {
	Directory *directory.Store
	TokenTTL  time.Duration
	Logger    pslog.Logger
	Now       func() time.Time
}

// Server serves the backend REST contract over a directory store.
type Server struct {
	dir    *directory.Store
	ttl    time.Duration
	now    func() time.Time
	log    pslog.Logger
	router chi.Router

	mu     sync.Mutex
	grants map[string]grant
}

type grant struct {
	email   string
	tenant  schema.TenantDNS
	expires time.Time
}

// New constructs the mock backend.
func New(opts Options) (*Server, error) {
	if opts.Directory == nil {
		return nil, errors.New("directory is required")
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		dir:    opts.Directory,
		ttl:    ttl,
		now:    now,
		log:    opts.Logger,
		grants: make(map[string]grant),
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Sessions returns the number of live tokens.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked()
	return len(s.grants)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogger)
	r.Route("/api", func(r chi.Router) {
		r.Route("/tenants/{tenant}", func(r chi.Router) {
			r.Get("/session", s.handleSession)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Get("/dashboard", s.handleDashboard)
		})
		r.Get("/companies", s.handleCompanies)
		r.Get("/companies/{dns}/stores", s.handleStores)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, schema.CodeNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, schema.CodeInvalidRequest, "method not allowed")
	})
	return r
}

func (s *Server) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.log == nil {
			next.ServeHTTP(w, r)
			return
		}
		log := s.log.With("component", "mock_backend")
		next.ServeHTTP(w, r.WithContext(pslog.ContextWithLogger(r.Context(), log)))
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	user, g, ok := s.authorizeGrant(w, r)
	if !ok {
		return
	}
	if g.tenant != tenant || !user.CanAccess(tenant) {
		writeError(w, http.StatusUnauthorized, schema.CodeUnauthenticated, "session not valid for tenant")
		return
	}
	writeJSON(w, http.StatusOK, s.dir.SessionPayload(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	log := logx.Ctx(r.Context()).With("tenant", tenant)
	var payload schema.LoginRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, schema.CodeInvalidRequest, err.Error())
		return
	}
	user, err := s.dir.Authenticate(tenant, payload.Email, payload.Password, payload.TOTP)
	if err != nil {
		log.Info("mock login rejected", "email", payload.Email, "err", err)
		switch {
		case errors.Is(err, schema.ErrInvalidTOTP):
			writeError(w, http.StatusUnauthorized, schema.CodeInvalidTOTP, "invalid second factor")
		case errors.Is(err, schema.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, schema.CodeInvalidCredentials, "invalid email or password")
		default:
			writeError(w, http.StatusInternalServerError, "", err.Error())
		}
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.pruneLocked()
	s.grants[token] = grant{email: user.Email, tenant: tenant, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()
	log.Info("mock login", "email", user.Email, "super_admin", user.SuperAdmin)

	resp := s.dir.SessionPayload(user)
	resp.Token = token
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.mu.Lock()
		delete(s.grants, token)
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if !user.SuperAdmin {
		writeError(w, http.StatusForbidden, schema.CodeForbidden, "super-admin role required")
		return
	}
	companies := s.dir.Companies()
	out := make([]schema.Company, 0, len(companies))
	for _, company := range companies {
		out = append(out, schema.Company{
			ID:    company.ID,
			Name:  company.Name,
			DNS:   company.DNS,
			Color: company.Color,
			Logo:  company.Logo,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	dns := schema.TenantDNS(strings.ToLower(chi.URLParam(r, "dns")))
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if !user.SuperAdmin && user.Tenant != dns {
		writeError(w, http.StatusForbidden, schema.CodeForbidden, "company not accessible")
		return
	}
	company, err := s.dir.Company(dns)
	if err != nil {
		writeError(w, http.StatusNotFound, schema.CodeNotFound, "company not found")
		return
	}
	stores := company.Stores
	if stores == nil {
		stores = []schema.Store{}
	}
	writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	tenant := tenantParam(r)
	user, ok := s.authorize(w, r)
	if !ok {
		return
	}
	if !user.CanAccess(tenant) {
		writeError(w, http.StatusForbidden, schema.CodeForbidden, "tenant not accessible")
		return
	}
	mode := schema.ClientManagement
	if raw := r.URL.Query().Get("mode"); raw != "" {
		parsed, ok := schema.ParseDashboardMode(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, schema.CodeInvalidRequest, "unknown dashboard mode")
			return
		}
		mode = parsed
	}
	if mode == schema.AdminManagement && !user.SuperAdmin {
		writeError(w, http.StatusForbidden, schema.CodeForbidden, "super-admin role required")
		return
	}
	metrics, err := s.metrics(tenant, mode)
	if err != nil {
		writeError(w, http.StatusNotFound, schema.CodeNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schema.Dashboard{Mode: mode, Metrics: metrics, FetchedAt: s.now().UTC()})
}

func (s *Server) metrics(tenant schema.TenantDNS, mode schema.DashboardMode) (map[string]float64, error) {
	users := s.dir.Users()
	if mode == schema.AdminManagement || tenant == schema.AdminTenantKey || tenant == schema.WarehouseTenantKey {
		companies := s.dir.Companies()
		stores := 0
		for _, company := range companies {
			stores += len(company.Stores)
		}
		superAdmins := 0
		for _, user := range users {
			if user.SuperAdmin {
				superAdmins++
			}
		}
		return map[string]float64{
			"companies":    float64(len(companies)),
			"stores":       float64(stores),
			"users":        float64(len(users)),
			"super_admins": float64(superAdmins),
		}, nil
	}
	company, err := s.dir.Company(tenant)
	if err != nil {
		return nil, err
	}
	members, admins, assigned := 0, 0, 0
	for _, user := range users {
		if user.Tenant != tenant {
			continue
		}
		members++
		if user.Role == directory.RoleAdmin {
			admins++
		}
		assigned += len(user.Stores)
	}
	return map[string]float64{
		"stores":            float64(len(company.Stores)),
		"users":             float64(members),
		"client_admins":     float64(admins),
		"store_assignments": float64(assigned),
	}, nil
}

// authorize resolves the bearer token to its directory user, answering 401 when it cannot.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (directory.User, bool) {
	user, _, ok := s.authorizeGrant(w, r)
	return user, ok
}

// authorizeGrant is authorize that also returns the grant, which records the login tenant.
func (s *Server) authorizeGrant(w http.ResponseWriter, r *http.Request) (directory.User, grant, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, schema.CodeUnauthenticated, "missing bearer token")
		return directory.User{}, grant{}, false
	}
	s.mu.Lock()
	g, ok := s.grants[token]
	if ok && !s.now().Before(g.expires) {
		delete(s.grants, token)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, schema.CodeUnauthenticated, "session expired")
		return directory.User{}, grant{}, false
	}
	user, err := s.dir.User(g.email)
	if err != nil {
		s.mu.Lock()
		delete(s.grants, token)
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, schema.CodeUnauthenticated, "user no longer exists")
		return directory.User{}, grant{}, false
	}
	return user, g, true
}

func (s *Server) pruneLocked() {
	now := s.now()
	for token, g := range s.grants {
		if !now.Before(g.expires) {
			delete(s.grants, token)
		}
	}
}

func tenantParam(r *http.Request) schema.TenantDNS {
	return schema.TenantDNS(strings.ToLower(strings.TrimSpace(chi.URLParam(r, "tenant"))))
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, schema.ErrorPayload{Message: message, Code: code})
}

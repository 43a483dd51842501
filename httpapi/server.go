package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/internal/eventbus"
	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// Dev override carriers.
const (
	devModeQuery    = "portal_mode"
	devTenantQuery  = "portal_tenant"
	devModeHeader   = "X-Portal-Mode"
	devTenantHeader = "X-Portal-Tenant"
)

const maxBodyBytes = 1 << 20

// Server is the tenant-aware portal gateway. Every request is classified by host, bound to the
// browser's portal and dispatched to the route tree the gate mounts for it.
type Server struct {
	cfg        Config
	classifier *core.Classifier
	backend    core.Backend
	bus        *eventbus.Bus
	sink       core.EventSink
	portals    *portalStore
	basePath   string
	trees      map[schema.RouteTree]http.Handler
}

// NewServer constructs the gateway. bus may be nil. Portal events reach the bus and every extra
// sink.
func NewServer(cfg Config, classifier *core.Classifier, backend core.Backend, bus *eventbus.Bus, sinks ...core.EventSink) *Server {
	ttl := time.Duration(cfg.PortalTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 720 * time.Hour
	}
	if classifier == nil {
		classifier = core.NewClassifier(core.HostConfig{})
	}
	if strings.TrimSpace(cfg.PortalCookie) == "" {
		cfg.PortalCookie = "tenantgate_portal"
	}
	s := &Server{
		cfg:        cfg,
		classifier: classifier,
		backend:    backend,
		bus:        bus,
		sink:       newEventFanout(bus, sinks...),
		basePath:   normalizeBasePath(cfg.BasePath),
	}
	s.portals = newPortalStore(ttl, cfg.PortalFile, s.newPortal)
	s.trees = s.buildTrees()
	return s
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = middleware.Recoverer(http.HandlerFunc(s.dispatch))
	if !s.cfg.DisableRequestLogs {
		handler = withRequestLogging(handler)
	}
	if s.basePath == "" {
		return handler
	}
	prefix := s.basePath
	root := http.NewServeMux()
	root.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	root.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != prefix {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, prefix+"/", http.StatusTemporaryRedirect)
	})
	return root
}

// Portals returns the number of live portals.
func (s *Server) Portals() int {
	return s.portals.len()
}

func (s *Server) newPortal(id schema.PortalID) *core.Portal {
	return core.NewPortal(id, core.PortalDeps{Backend: s.backend, EventSink: s.sink})
}

type requestScope struct {
	entry *portalEntry
	host  schema.HostContext
	tree  schema.RouteTree
}

type requestScopeKey struct{}

func scopeFrom(r *http.Request) requestScope {
	scope, _ := r.Context().Value(requestScopeKey{}).(requestScope)
	return scope
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	host := s.classify(r)
	entry := s.portalFor(w, r)

	log := logx.WithHost(logx.WithPortal(r.Context(), entry.id), host)
	ctx := logx.ContextWithPortalLogger(r.Context(), log, entry.id, host.TenantHint)

	hadToken := entry.portal.Token() != ""
	if err := entry.portal.Start(ctx, host); err != nil {
		log.Info("portal start probe failed", "err", err)
	}
	if hadToken && entry.portal.Token() == "" {
		s.portals.persist()
	}

	tree := entry.portal.Route(host)
	if info := requestInfoFrom(ctx); info != nil {
		info.portal, info.host, info.tree, info.set = entry.id, host, tree, true
	}
	ctx = context.WithValue(ctx, requestScopeKey{}, requestScope{entry: entry, host: host, tree: tree})
	handler, ok := s.trees[tree]
	if !ok {
		handler = s.trees[schema.RouteNotFound]
	}
	handler.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) classify(r *http.Request) schema.HostContext {
	host := s.classifier.Classify(r.Host)
	if !s.cfg.DevOverrides || !host.IsDev {
		return host
	}
	mode := r.URL.Query().Get(devModeQuery)
	if mode == "" {
		mode = r.Header.Get(devModeHeader)
	}
	tenant := r.URL.Query().Get(devTenantQuery)
	if tenant == "" {
		tenant = r.Header.Get(devTenantHeader)
	}
	if mode == "" && tenant == "" {
		return host
	}
	return s.classifier.ApplyDevOverride(host, mode, tenant)
}

func (s *Server) portalFor(w http.ResponseWriter, r *http.Request) *portalEntry {
	if cookie, err := r.Cookie(s.cfg.PortalCookie); err == nil {
		if entry, ok := s.portals.get(schema.PortalID(cookie.Value)); ok {
			return entry
		}
	}
	entry := s.portals.create()
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.PortalCookie,
		Value:    string(entry.id),
		Path:     withBasePath(s.basePath, "/"),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  entry.expiresAt,
	})
	return entry
}

func (s *Server) buildTrees() map[schema.RouteTree]http.Handler {
	return map[schema.RouteTree]http.Handler{
		schema.RouteAdminLogin: s.newTree(func(r chi.Router) {
			r.Post("/api/login", s.handleLogin)
			r.Get(core.LoginPath, s.handlePage)
			r.Get(core.RootPath, s.redirectToRoot)
		}),
		schema.RouteAdminConsole: s.newTree(func(r chi.Router) {
			r.Get("/api/companies", s.handleCompanies)
			r.Post("/api/companies/select", s.handleSelectCompany)
			r.Get("/api/stores", s.handleStores)
			r.Post("/api/stores/select", s.handleSelectStore)
			r.Get("/api/mode", s.handleMode)
			r.Post("/api/mode", s.handleSetMode)
			r.Get("/api/dashboard", s.handleDashboard)
			r.Get("/api/branding", s.handleBranding)
			for _, page := range []string{
				core.AdminDashboardPath,
				core.ClientDashboardPath,
				"/companies",
				"/stores",
				"/warehouse",
				"/warehouse/*",
				"/test",
				"/test/*",
				"/error-log",
				"/error-log/*",
			} {
				r.Get(page, s.handlePage)
			}
			r.Get(core.RootPath, s.redirectToRoot)
			r.Get(core.LoginPath, s.redirectToRoot)
		}),
		schema.RouteClientLogin: s.newTree(func(r chi.Router) {
			r.Post("/api/login", s.handleLogin)
			r.Get("/api/branding", s.handleBranding)
			r.Get(core.LoginPath, s.handlePage)
			r.Get(core.RootPath, s.redirectToRoot)
		}),
		schema.RouteClientPortal: s.newTree(func(r chi.Router) {
			r.Get("/api/stores", s.handleStores)
			r.Post("/api/stores/select", s.handleSelectStore)
			r.Get("/api/dashboard", s.handleDashboard)
			r.Get("/api/branding", s.handleBranding)
			r.Get(core.RootPath, s.handlePage)
			r.Get("/stores", s.handlePage)
			r.Get("/dashboard", s.handlePage)
			r.Get(core.LoginPath, s.redirectToRoot)
		}),
		schema.RouteWarehouseConsole: s.newTree(func(r chi.Router) {
			r.Post("/api/login", s.handleLogin)
			r.Get(core.RootPath, s.handlePage)
		}),
		schema.RouteNotFound: s.newTree(func(chi.Router) {}),
	}
}

// newTree builds one route tree: the endpoints every tree shares plus the tree's own routes.
func (s *Server) newTree(mount func(r chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/route", s.handleRoute)
	r.Get("/api/session", s.handleSession)
	r.Get("/api/state", s.handleState)
	r.Post("/api/logout", s.handleLogout)
	r.Get("/api/events", s.handleEvents)
	mount(r)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

// pageView describes the page the browser renders for a route.
type pageView struct {
	Page     string             `json:"page"`
	Route    schema.RouteTree   `json:"route"`
	State    schema.PortalState `json:"state"`
	Branding *schema.Branding   `json:"branding,omitempty"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	view := pageView{
		Page:  r.URL.Path,
		Route: scope.tree,
		State: scope.entry.portal.State(scope.host),
	}
	if scope.tree != schema.RouteWarehouseConsole {
		branding := scope.entry.portal.Branding()
		view.Branding = &branding
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) redirectToRoot(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	mode, _ := scope.entry.portal.Modes().Mode()
	http.Redirect(w, r, withBasePath(s.basePath, core.TreeRoot(scope.tree, mode)), http.StatusFound)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	if isAPIPath(r.URL.Path) || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	mode, _ := scope.entry.portal.Modes().Mode()
	if target, ok := core.NotFoundRedirect(scope.host, scope.tree, mode); ok {
		http.Redirect(w, r, withBasePath(s.basePath, target), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": "not found",
		"page":  r.URL.Path,
		"route": schema.RouteNotFound,
	})
}

type routeResponse struct {
	Route schema.RouteTree   `json:"route"`
	Root  string             `json:"root"`
	Host  schema.HostContext `json:"host"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	mode, _ := scope.entry.portal.Modes().Mode()
	writeJSON(w, http.StatusOK, routeResponse{Route: scope.tree, Root: core.TreeRoot(scope.tree, mode), Host: scope.host})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scopeFrom(r).entry.portal.Session())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	writeJSON(w, http.StatusOK, scope.entry.portal.State(scope.host))
}

type authResponse struct {
	Session  schema.Session   `json:"session"`
	Route    schema.RouteTree `json:"route"`
	Redirect string           `json:"redirect"`
	Warning  string           `json:"warning,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	var creds schema.Credentials
	if err := decodeJSON(r.Body, &creds); err != nil {
		log.Warn("http login decode failed", "err", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	log = log.With("email", strings.ToLower(strings.TrimSpace(creds.Email)))
	if err := scope.entry.portal.Login(r.Context(), scope.host, creds); err != nil {
		log.Warn("http login failed", "err", err)
		writeError(w, errorStatus(err), err)
		return
	}
	s.portals.persist()
	writeJSON(w, http.StatusOK, s.authResponse(scope, ""))
	log.Info("http login ok", "role", scope.entry.portal.Session().Role.String())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	log := logx.Ctx(r.Context()).With("remote", clientIP(r))
	err := scope.entry.portal.Logout(r.Context(), scope.host)
	s.portals.persist()
	warning := ""
	if err != nil {
		log.Warn("http logout upstream failed", "err", err)
		warning = err.Error()
	}
	writeJSON(w, http.StatusOK, s.authResponse(scope, warning))
	log.Info("http logout")
}

func (s *Server) authResponse(scope requestScope, warning string) authResponse {
	session := scope.entry.portal.Session()
	tree := core.Decide(scope.host, session)
	mode, _ := scope.entry.portal.Modes().Mode()
	return authResponse{
		Session:  session,
		Route:    tree,
		Redirect: withBasePath(s.basePath, core.TreeRoot(tree, mode)),
		Warning:  warning,
	}
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	companies, err := scope.entry.portal.Companies(r.Context(), scope.host)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	page := core.Paginate(companies, listFilter(r), func(c schema.Company) []string {
		return []string{c.Name, string(c.DNS), string(c.ID)}
	})
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSelectCompany(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	var payload struct {
		Company string `json:"company"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ref := strings.TrimSpace(payload.Company)
	if ref == "" {
		writeError(w, http.StatusBadRequest, errors.New("company is required"))
		return
	}
	selection, err := scope.entry.portal.SelectCompany(r.Context(), scope.host, ref)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, selection)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	stores := scope.entry.portal.Stores(r.Context())
	page := core.Paginate(stores, listFilter(r), func(a schema.StoreAssignment) []string {
		return []string{a.StoreName, string(a.StoreID)}
	})
	writeJSON(w, http.StatusOK, page)
}

type storeSelectionResponse struct {
	Selection schema.TenantSelection `json:"selection"`
	Applied   bool                   `json:"applied"`
}

func (s *Server) handleSelectStore(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	var payload struct {
		StoreID schema.StoreID `json:"store_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	selection, ok := scope.entry.portal.SelectStore(r.Context(), payload.StoreID)
	writeJSON(w, http.StatusOK, storeSelectionResponse{Selection: selection, Applied: ok})
}

type modeResponse struct {
	Mode  schema.DashboardMode `json:"mode"`
	Epoch uint64               `json:"epoch"`
	Root  string               `json:"root"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	mode, epoch := scopeFrom(r).entry.portal.Modes().Mode()
	writeJSON(w, http.StatusOK, modeResponse{Mode: mode, Epoch: epoch, Root: core.DashboardRoot(mode)})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	var payload struct {
		Mode schema.DashboardMode `json:"mode"`
		Path string               `json:"path"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	change, err := scope.entry.portal.SetMode(r.Context(), payload.Mode, payload.Path)
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	scope := scopeFrom(r)
	dashboard, err := scope.entry.portal.Dashboard(r.Context(), scope.host)
	if err != nil {
		if errors.Is(err, schema.ErrUnauthenticated) {
			s.portals.persist()
		}
		writeError(w, errorStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *Server) handleBranding(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scopeFrom(r).entry.portal.Branding())
}

func listFilter(r *http.Request) core.ListFilter {
	query := r.URL.Query()
	return core.ListFilter{
		Query:    query.Get("q"),
		Page:     parseInt(query.Get("page"), 1),
		PageSize: parseInt(query.Get("page_size"), core.DefaultPageSize),
	}
}

func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// errorStatus maps domain errors to HTTP statuses.
// statusClientClosedRequest reports a request abandoned by the client before it completed.
const statusClientClosedRequest = 499

func errorStatus(err error) int {
	switch {
	case errors.Is(err, schema.ErrInvalidRequest),
		errors.Is(err, schema.ErrMissingTenant),
		errors.Is(err, schema.ErrInvalidTenant):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrInvalidCredentials),
		errors.Is(err, schema.ErrInvalidTOTP),
		errors.Is(err, schema.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, schema.ErrSuperAdminOnly),
		errors.Is(err, schema.ErrAdminHostOnly):
		return http.StatusForbidden
	case errors.Is(err, schema.ErrCompanyNotFound):
		return http.StatusNotFound
	case errors.Is(err, schema.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, schema.ErrBackendUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.Reader, target any) error {
	decoder := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: %v", schema.ErrInvalidRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

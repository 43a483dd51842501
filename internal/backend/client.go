package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// DefaultTimeout bounds a single backend round trip.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Options configures the client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the REST backend. Concurrent identical reads are collapsed into one request.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	group   singleflight.Group
}

// Error is a backend failure. It unwraps to the matching schema sentinel.
type Error struct {
	Status  int
	Code    string
	Message string
	kind    error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.kind.Error()
}

// Unwrap returns the sentinel error.
func (e *Error) Unwrap() error {
	return e.kind
}

// New constructs a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("backend base url must include scheme and host: %q", raw)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, http: httpClient, timeout: timeout}, nil
}

// ProbeSession checks the upstream session of the token for the tenant.
func (c *Client) ProbeSession(ctx context.Context, tenant schema.TenantDNS, token string) (schema.SessionPayload, error) {
	if tenant == "" {
		return schema.SessionPayload{}, schema.ErrMissingTenant
	}
	if token == "" {
		return schema.SessionPayload{}, &Error{Status: http.StatusUnauthorized, Code: schema.CodeUnauthenticated, kind: schema.ErrUnauthenticated}
	}
	key := "session\x00" + string(tenant) + "\x00" + token
	v, err := c.shared(ctx, key, func(ctx context.Context) (any, error) {
		var payload schema.SessionPayload
		err := c.do(ctx, http.MethodGet, c.tenantPath(tenant, "session"), token, nil, &payload)
		return payload, err
	})
	if err != nil {
		return schema.SessionPayload{}, err
	}
	payload := v.(schema.SessionPayload)
	payload.User.Stores = append([]schema.StoreAssignment(nil), payload.User.Stores...)
	return payload, nil
}

// Login authenticates credentials for the tenant.
func (c *Client) Login(ctx context.Context, tenant schema.TenantDNS, creds schema.Credentials) (schema.SessionPayload, error) {
	if tenant == "" {
		return schema.SessionPayload{}, schema.ErrMissingTenant
	}
	body := schema.LoginRequest{Email: creds.Email, Password: creds.Password, TOTP: creds.TOTP}
	var payload schema.SessionPayload
	if err := c.do(ctx, http.MethodPost, c.tenantPath(tenant, "login"), "", body, &payload); err != nil {
		return schema.SessionPayload{}, err
	}
	if payload.Token == "" {
		return schema.SessionPayload{}, fmt.Errorf("%w: login response without token", schema.ErrBackendUnavailable)
	}
	return payload, nil
}

// Logout invalidates the upstream session.
func (c *Client) Logout(ctx context.Context, tenant schema.TenantDNS, token string) error {
	if tenant == "" {
		return schema.ErrMissingTenant
	}
	return c.do(ctx, http.MethodPost, c.tenantPath(tenant, "logout"), token, nil, nil)
}

// ListCompanies lists every company.
func (c *Client) ListCompanies(ctx context.Context, token string) ([]schema.Company, error) {
	v, err := c.shared(ctx, "companies\x00"+token, func(ctx context.Context) (any, error) {
		var companies []schema.Company
		err := c.do(ctx, http.MethodGet, "/api/companies", token, nil, &companies)
		return companies, err
	})
	if err != nil {
		return nil, err
	}
	return append([]schema.Company(nil), v.([]schema.Company)...), nil
}

// ListStores lists the stores of a company.
func (c *Client) ListStores(ctx context.Context, dns schema.TenantDNS, token string) ([]schema.Store, error) {
	if dns == "" {
		return nil, schema.ErrMissingTenant
	}
	v, err := c.shared(ctx, "stores\x00"+string(dns)+"\x00"+token, func(ctx context.Context) (any, error) {
		var stores []schema.Store
		err := c.do(ctx, http.MethodGet, "/api/companies/"+url.PathEscape(string(dns))+"/stores", token, nil, &stores)
		return stores, err
	})
	if err != nil {
		return nil, err
	}
	return append([]schema.Store(nil), v.([]schema.Store)...), nil
}

// Dashboard fetches the dashboard aggregates of a tenant in a mode.
func (c *Client) Dashboard(ctx context.Context, tenant schema.TenantDNS, mode schema.DashboardMode, token string) (schema.Dashboard, error) {
	if tenant == "" {
		return schema.Dashboard{}, schema.ErrMissingTenant
	}
	path := c.tenantPath(tenant, "dashboard") + "?mode=" + url.QueryEscape(mode.String())
	var dashboard schema.Dashboard
	if err := c.do(ctx, http.MethodGet, path, token, nil, &dashboard); err != nil {
		return schema.Dashboard{}, err
	}
	return dashboard, nil
}

// shared runs fn once per key across concurrent callers. The shared call is detached from any
// single caller's cancellation and bounded by the client timeout; each caller still returns as
// soon as its own context is done.
func (c *Client) shared(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return fn(callCtx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) tenantPath(tenant schema.TenantDNS, action string) string {
	return "/api/tenants/" + url.PathEscape(string(tenant)) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path, token string, in any, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("create %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logx.Ctx(ctx).Warn("backend request failed", "method", method, "path", path, "err", err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", schema.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	logx.Ctx(ctx).Debug("backend request", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", schema.ErrBackendUnavailable, method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload schema.ErrorPayload
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if len(data) > 0 {
		_ = json.Unmarshal(data, &payload)
	}
	e := &Error{Status: resp.StatusCode, Code: payload.Code, Message: strings.TrimSpace(payload.Message)}
	e.kind = errorKind(resp.StatusCode, payload.Code)
	return e
}

func errorKind(status int, code string) error {
	switch code {
	case schema.CodeInvalidCredentials:
		return schema.ErrInvalidCredentials
	case schema.CodeInvalidTOTP:
		return schema.ErrInvalidTOTP
	case schema.CodeUnauthenticated:
		return schema.ErrUnauthenticated
	case schema.CodeInvalidRequest:
		return schema.ErrInvalidRequest
	case schema.CodeForbidden:
		return schema.ErrSuperAdminOnly
	case schema.CodeNotFound:
		return schema.ErrCompanyNotFound
	}
	switch status {
	case http.StatusBadRequest:
		return schema.ErrInvalidRequest
	case http.StatusUnauthorized:
		return schema.ErrUnauthenticated
	case http.StatusForbidden:
		return schema.ErrSuperAdminOnly
	case http.StatusNotFound:
		return schema.ErrCompanyNotFound
	default:
		return schema.ErrBackendUnavailable
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pkt.systems/tenantgate/schema"
)

// Identity holds the session slice of a portal. Mutations are serialized; backend calls run
// outside the lock and are fenced by a ticket so that only the latest dispatch is applied.
type Identity struct {
	backend Backend

	mu       sync.Mutex
	user     *schema.UserInfo
	company  *schema.Company
	loggedIn bool
	probing  int
	lastErr  string
	token    string
	ticket   uint64
	probed   bool
}

// NewIdentity constructs an anonymous identity.
func NewIdentity(backend Backend) *Identity {
	return &Identity{backend: backend}
}

// Restore seeds a persisted upstream token. The next admin-host start re-probes it.
func (id *Identity) Restore(token string) {
	id.mu.Lock()
	defer id.mu.Unlock()
	id.token = token
	id.probed = false
}

// ClaimProbe reports whether the caller should run the start-up probe and marks it as
// started. It returns true at most once per application start.
func (id *Identity) ClaimProbe() bool {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.probed {
		return false
	}
	id.probed = true
	return true
}

// ProbeSession asks the backend whether the stored upstream session is still valid.
func (id *Identity) ProbeSession(ctx context.Context, tenant schema.TenantDNS) error {
	if id.backend == nil {
		return fmt.Errorf("%w: no backend configured", schema.ErrBackendUnavailable)
	}
	id.mu.Lock()
	id.ticket++
	ticket := id.ticket
	id.probing++
	id.probed = true
	token := id.token
	id.mu.Unlock()

	payload, err := id.backend.ProbeSession(ctx, tenant, token)

	id.mu.Lock()
	defer id.mu.Unlock()
	id.probing--
	if ticket != id.ticket {
		return schema.ErrSuperseded
	}
	if err != nil {
		id.user = nil
		id.company = nil
		id.loggedIn = false
		id.lastErr = err.Error()
		if errors.Is(err, schema.ErrUnauthenticated) {
			id.token = ""
		}
		return err
	}
	id.user = payload.UserInfo()
	id.company = payload.CompanyRef()
	id.loggedIn = true
	id.lastErr = ""
	if payload.Token != "" {
		id.token = payload.Token
	}
	return nil
}

// Login authenticates against the backend. On failure only the error is recorded.
func (id *Identity) Login(ctx context.Context, tenant schema.TenantDNS, creds schema.Credentials) error {
	if id.backend == nil {
		return fmt.Errorf("%w: no backend configured", schema.ErrBackendUnavailable)
	}
	id.mu.Lock()
	id.ticket++
	ticket := id.ticket
	id.mu.Unlock()

	payload, err := id.backend.Login(ctx, tenant, creds)

	id.mu.Lock()
	defer id.mu.Unlock()
	if ticket != id.ticket {
		return schema.ErrSuperseded
	}
	if err != nil {
		id.lastErr = err.Error()
		return err
	}
	id.user = payload.UserInfo()
	id.company = payload.CompanyRef()
	id.token = payload.Token
	id.loggedIn = true
	id.lastErr = ""
	id.probed = true
	return nil
}

// Logout resets the identity to anonymous and invalidates the upstream session best-effort.
// The local reset happens before the backend call and supersedes any in-flight probe or login,
// so the identity is anonymous once Logout returns regardless of the backend outcome.
func (id *Identity) Logout(ctx context.Context, tenant schema.TenantDNS) error {
	id.mu.Lock()
	id.ticket++
	token := id.token
	id.user = nil
	id.company = nil
	id.loggedIn = false
	id.lastErr = ""
	id.token = ""
	id.mu.Unlock()

	if id.backend == nil || token == "" {
		return nil
	}
	return id.backend.Logout(ctx, tenant, token)
}

// Snapshot returns a copy of the session state.
func (id *Identity) Snapshot() schema.Session {
	id.mu.Lock()
	defer id.mu.Unlock()
	user := id.user.Clone()
	return schema.Session{
		User:       user,
		IsLoggedIn: id.loggedIn,
		IsLoading:  id.probing > 0,
		Role:       schema.RoleFor(user),
		Error:      id.lastErr,
	}
}

// Company returns the company attached to the backend session, if any.
func (id *Identity) Company() *schema.Company {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.company == nil {
		return nil
	}
	company := *id.company
	return &company
}

// Token returns the upstream session token.
func (id *Identity) Token() string {
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.token
}

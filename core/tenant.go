package core

import (
	"context"
	"fmt"
	"sync"

	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// StoreLister fetches the stores of a company.
type StoreLister func(ctx context.Context, dns schema.TenantDNS) ([]schema.Store, error)

// TenantContext holds the company/store selection slice of a portal.
type TenantContext struct {
	mu           sync.Mutex
	company      *schema.Company
	stores       []schema.Store
	selected     schema.StoreID
	hasSelection bool
	ticket       uint64
}

// NewTenantContext constructs an empty tenant context.
func NewTenantContext() *TenantContext {
	return &TenantContext{}
}

// VisibleStores lists the stores the role may select. Store users see their own assignments;
// admins additionally see every store of the selected company.
func VisibleStores(role schema.Role, user *schema.UserInfo, companyStores []schema.Store) []schema.StoreAssignment {
	var own []schema.StoreAssignment
	if user != nil {
		own = user.StoreAssignments
	}
	switch role {
	case schema.RoleStoreUser:
		return append([]schema.StoreAssignment(nil), own...)
	case schema.RoleSuperAdmin, schema.RoleClientAdmin:
		out := make([]schema.StoreAssignment, 0, len(own)+len(companyStores))
		seen := make(map[schema.StoreID]struct{}, len(own)+len(companyStores))
		for _, a := range own {
			if _, ok := seen[a.StoreID]; ok {
				continue
			}
			seen[a.StoreID] = struct{}{}
			out = append(out, a)
		}
		for _, s := range companyStores {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			out = append(out, schema.StoreAssignment{StoreID: s.ID, StoreName: s.Name})
		}
		return out
	case schema.RoleNone:
		return nil
	default:
		return nil
	}
}

// VisibleStores lists the stores visible to the role in the current company.
func (t *TenantContext) VisibleStores(role schema.Role, user *schema.UserInfo) []schema.StoreAssignment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return VisibleStores(role, user, t.stores)
}

// SelectStore selects a store if it is visible to the role. Invalid selections are logged and
// ignored; the return value reports whether the selection was applied.
func (t *TenantContext) SelectStore(ctx context.Context, storeID schema.StoreID, role schema.Role, user *schema.UserInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !containsStore(VisibleStores(role, user, t.stores), storeID) {
		logx.Ctx(ctx).Warn("tenant store selection rejected", "store", storeID, "role", role.String())
		return false
	}
	t.selected = storeID
	t.hasSelection = true
	return true
}

// CurrentStoreName returns the name of the selected store, or "" when nothing visible is
// selected.
func (t *TenantContext) CurrentStoreName(role schema.Role, user *schema.UserInfo) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentStoreNameLocked(role, user)
}

func (t *TenantContext) currentStoreNameLocked(role schema.Role, user *schema.UserInfo) string {
	if !t.hasSelection {
		return ""
	}
	for _, a := range VisibleStores(role, user, t.stores) {
		if a.StoreID == t.selected {
			return a.StoreName
		}
	}
	return ""
}

// EnsureInitialSelection selects a default store when none is selected: the user's first
// assignment, else for admins the first store of the company, else nothing. It reports
// whether a selection was made.
func (t *TenantContext) EnsureInitialSelection(role schema.Role, user *schema.UserInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasSelection && containsStore(VisibleStores(role, user, t.stores), t.selected) {
		return false
	}
	t.selected = ""
	t.hasSelection = false
	if user != nil && len(user.StoreAssignments) > 0 && role != schema.RoleNone {
		t.selected = user.StoreAssignments[0].StoreID
		t.hasSelection = true
		return true
	}
	if role.IsAdmin() && len(t.stores) > 0 {
		t.selected = t.stores[0].ID
		t.hasSelection = true
		return true
	}
	return false
}

// SelectCompany switches the selected company. Only super-admins on the admin host may switch;
// the new company's stores are re-fetched and a store selection that is no longer visible is
// cleared.
func (t *TenantContext) SelectCompany(ctx context.Context, host schema.HostMode, role schema.Role, user *schema.UserInfo, company schema.Company, list StoreLister) error {
	if host != schema.HostAdmin {
		return schema.ErrAdminHostOnly
	}
	if role != schema.RoleSuperAdmin {
		return schema.ErrSuperAdminOnly
	}
	return t.LoadCompanyStores(ctx, company, role, user, list)
}

// LoadCompanyStores makes company the current company and fetches its stores.
func (t *TenantContext) LoadCompanyStores(ctx context.Context, company schema.Company, role schema.Role, user *schema.UserInfo, list StoreLister) error {
	t.mu.Lock()
	t.ticket++
	ticket := t.ticket
	t.company = &company
	t.stores = nil
	t.revalidateLocked(role, user)
	t.mu.Unlock()

	if list == nil {
		return nil
	}
	stores, err := list(ctx, company.DNS)

	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket != t.ticket {
		return schema.ErrSuperseded
	}
	if err != nil {
		return fmt.Errorf("load stores for %s: %w", company.DNS, err)
	}
	t.stores = append([]schema.Store(nil), stores...)
	t.revalidateLocked(role, user)
	return nil
}

func (t *TenantContext) revalidateLocked(role schema.Role, user *schema.UserInfo) {
	if t.hasSelection && !containsStore(VisibleStores(role, user, t.stores), t.selected) {
		t.selected = ""
		t.hasSelection = false
	}
}

// Company returns the selected company, if any.
func (t *TenantContext) Company() *schema.Company {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.company == nil {
		return nil
	}
	company := *t.company
	return &company
}

// Stores returns the fetched stores of the selected company.
func (t *TenantContext) Stores() []schema.Store {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]schema.Store(nil), t.stores...)
}

// Selection returns the current selection snapshot.
func (t *TenantContext) Selection(role schema.Role, user *schema.UserInfo) schema.TenantSelection {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out schema.TenantSelection
	if t.company != nil {
		company := *t.company
		out.SelectedCompany = &company
	}
	if t.hasSelection && containsStore(VisibleStores(role, user, t.stores), t.selected) {
		out.SelectedStore = t.selected
		out.StoreName = t.currentStoreNameLocked(role, user)
	}
	return out
}

// Reset clears the selection; pending store fetches are dropped.
func (t *TenantContext) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticket++
	t.company = nil
	t.stores = nil
	t.selected = ""
	t.hasSelection = false
}

func containsStore(stores []schema.StoreAssignment, id schema.StoreID) bool {
	for _, s := range stores {
		if s.StoreID == id {
			return true
		}
	}
	return false
}

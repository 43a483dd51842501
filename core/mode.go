package core

import (
	"strings"
	"sync"

	"pkt.systems/tenantgate/schema"
)

// Dashboard roots per mode.
const (
	AdminDashboardPath  = "/dashboard"
	ClientDashboardPath = "/client-dashboard"
)

// Paths that keep the current page when the mode changes. Sub-paths are included.
var modeSwitchExcluded = []string{"/warehouse", "/test", "/error-log"}

// ModeChange is the outcome of a mode switch.
type ModeChange struct {
	Mode    schema.DashboardMode `json:"mode"`
	Changed bool                 `json:"changed"`
	// Redirect is the dashboard root to navigate to, empty when the page is kept.
	Redirect string `json:"redirect,omitempty"`
	Epoch    uint64 `json:"epoch"`
}

// ModeToggle holds the dashboard mode slice of a portal. The epoch increases on every switch
// and invalidates cached dashboard data.
type ModeToggle struct {
	mu    sync.Mutex
	mode  schema.DashboardMode
	epoch uint64
}

// NewModeToggle returns a toggle in AdminManagement mode.
func NewModeToggle() *ModeToggle {
	return &ModeToggle{mode: schema.AdminManagement}
}

// DashboardRoot returns the dashboard path for a mode.
func DashboardRoot(mode schema.DashboardMode) string {
	if mode == schema.ClientManagement {
		return ClientDashboardPath
	}
	return AdminDashboardPath
}

// SetMode switches the dashboard mode. Only super-admins may switch. The toggle never touches
// the identity slice.
func (m *ModeToggle) SetMode(role schema.Role, mode schema.DashboardMode, currentPath string) (ModeChange, error) {
	if role != schema.RoleSuperAdmin {
		return ModeChange{}, schema.ErrSuperAdminOnly
	}
	if mode != schema.AdminManagement && mode != schema.ClientManagement {
		return ModeChange{}, schema.ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == mode {
		return ModeChange{Mode: mode, Epoch: m.epoch}, nil
	}
	m.mode = mode
	m.epoch++
	change := ModeChange{Mode: mode, Changed: true, Epoch: m.epoch}
	if !isModeSwitchExcluded(currentPath) {
		change.Redirect = DashboardRoot(mode)
	}
	return change, nil
}

// Mode returns the current mode and epoch.
func (m *ModeToggle) Mode() (schema.DashboardMode, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.epoch
}

// Reset returns to AdminManagement and invalidates cached data.
func (m *ModeToggle) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = schema.AdminManagement
	m.epoch++
}

func isModeSwitchExcluded(path string) bool {
	path = "/" + strings.Trim(strings.TrimSpace(path), "/")
	for _, prefix := range modeSwitchExcluded {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

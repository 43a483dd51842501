package schema

import "time"

// PortalEventType identifies portal event categories.
type PortalEventType string

const (
	// PortalEventSession reports an identity change (probe, login, logout).
	PortalEventSession PortalEventType = "session"
	// PortalEventTenant reports a company or store selection change.
	PortalEventTenant PortalEventType = "tenant"
	// PortalEventMode reports a dashboard mode switch.
	PortalEventMode PortalEventType = "mode"
)

// PortalEvent describes a state change of a portal.
type PortalEvent struct {
	Type      PortalEventType  `json:"type"`
	Portal    PortalID         `json:"portal"`
	Session   *Session         `json:"session,omitempty"`
	Tenant    *TenantSelection `json:"tenant,omitempty"`
	Mode      *DashboardMode   `json:"mode,omitempty"`
	Redirect  string           `json:"redirect,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

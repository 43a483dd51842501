package core

import "pkt.systems/tenantgate/schema"

// EventSink receives portal state change events.
type EventSink interface {
	OnPortalEvent(event schema.PortalEvent)
}

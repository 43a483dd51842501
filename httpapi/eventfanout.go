package httpapi

import (
	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/internal/eventbus"
	"pkt.systems/tenantgate/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

// newEventFanout returns nil when there is nothing to deliver to.
func newEventFanout(bus *eventbus.Bus, extra ...core.EventSink) core.EventSink {
	var sinks []core.EventSink
	if bus != nil {
		sinks = append(sinks, bus)
	}
	for _, sink := range extra {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	}
	return eventFanout{sinks: sinks}
}

func (f eventFanout) OnPortalEvent(event schema.PortalEvent) {
	for _, sink := range f.sinks {
		sink.OnPortalEvent(event)
	}
}

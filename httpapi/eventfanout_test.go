package httpapi

import (
	"testing"

	"pkt.systems/tenantgate/internal/eventbus"
	"pkt.systems/tenantgate/schema"
)

type recordingSink struct {
	events []schema.PortalEvent
}

func (r *recordingSink) OnPortalEvent(event schema.PortalEvent) {
	r.events = append(r.events, event)
}

func TestEventFanoutDeliversToBusAndSinks(t *testing.T) {
	bus := eventbus.New(nil)
	ch, cancel := bus.Subscribe("p1")
	defer cancel()
	extra := &recordingSink{}

	sink := newEventFanout(bus, nil, extra)
	sink.OnPortalEvent(schema.PortalEvent{Portal: "p1", Type: schema.PortalEventSession})

	if len(extra.events) != 1 {
		t.Fatalf("expected extra sink to receive 1 event, got %d", len(extra.events))
	}
	select {
	case event := <-ch:
		if event.Portal != "p1" {
			t.Fatalf("unexpected portal %q", event.Portal)
		}
	default:
		t.Fatalf("expected bus subscriber to receive the event")
	}
}

func TestEventFanoutEmpty(t *testing.T) {
	if sink := newEventFanout(nil); sink != nil {
		t.Fatalf("expected nil sink, got %T", sink)
	}
	extra := &recordingSink{}
	if sink := newEventFanout(nil, extra); sink != extra {
		t.Fatalf("expected single sink to be returned as is")
	}
}

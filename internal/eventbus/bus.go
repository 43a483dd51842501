package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/schema"
)

// Bus fans portal events out to per-portal subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.PortalID]map[chan schema.PortalEvent]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.PortalID]map[chan schema.PortalEvent]struct{}),
		log:   logger,
		depth: 64,
	}
}

// Subscribe registers a subscriber for the portal and returns a channel + cancel. The channel
// is closed by cancel.
func (b *Bus) Subscribe(portalID schema.PortalID) (<-chan schema.PortalEvent, func()) {
	if b == nil {
		ch := make(chan schema.PortalEvent)
		close(ch)
		return ch, func() {}
	}
	ch := make(chan schema.PortalEvent, b.depth)
	b.mu.Lock()
	portalSubs := b.subs[portalID]
	if portalSubs == nil {
		portalSubs = make(map[chan schema.PortalEvent]struct{})
		b.subs[portalID] = portalSubs
	}
	portalSubs[ch] = struct{}{}
	count := len(portalSubs)
	b.mu.Unlock()
	b.log.With("portal", portalID).Debug("eventbus subscribe", "subs", count)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[portalID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, portalID)
				}
			}
			close(ch)
			b.mu.Unlock()
			b.log.With("portal", portalID).Debug("eventbus unsubscribe")
		})
	}
}

// Subscribers returns the number of subscribers of a portal.
func (b *Bus) Subscribers(portalID schema.PortalID) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[portalID])
}

// OnPortalEvent publishes an event to the subscribers of its portal. Full subscribers drop the
// event instead of blocking the publisher.
func (b *Bus) OnPortalEvent(event schema.PortalEvent) {
	if b == nil {
		return
	}
	dropped := 0
	b.mu.Lock()
	for sub := range b.subs[event.Portal] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 {
		b.log.With("portal", event.Portal).Trace("eventbus dropped", "count", dropped, "type", string(event.Type))
	}
}

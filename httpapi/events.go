package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// keepaliveInterval spaces SSE comment frames so idle proxies keep the stream open.
var keepaliveInterval = 25 * time.Second

// streamEvent is one SSE frame. The first frame of a stream is a "state" snapshot.
type streamEvent struct {
	Type      string              `json:"type"`
	State     *schema.PortalState `json:"state,omitempty"`
	Event     *schema.PortalEvent `json:"event,omitempty"`
	Timestamp time.Time           `json:"ts"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("stream unsupported"))
		return
	}
	scope := scopeFrom(r)
	log := logx.Ctx(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsubscribe := s.bus.Subscribe(scope.entry.id)
	defer unsubscribe()

	state := scope.entry.portal.State(scope.host)
	_ = writeSSEvent(w, "state", streamEvent{Type: "state", State: &state, Timestamp: time.Now().UTC()})
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	log.Info("http stream opened")
	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			log.Info("http stream closed")
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				log.Info("http stream ended")
				return
			}
			_ = writeSSEvent(w, string(event.Type), streamEvent{Type: string(event.Type), Event: &event, Timestamp: event.Timestamp})
			flusher.Flush()
		}
	}
}

func writeSSEvent(w http.ResponseWriter, name string, event streamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if name != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", name)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

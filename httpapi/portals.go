package httpapi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/internal/logx"
	"pkt.systems/tenantgate/schema"
)

// portalFactory builds a fresh anonymous portal for an id.
type portalFactory func(id schema.PortalID) *core.Portal

type portalEntry struct {
	id        schema.PortalID
	portal    *core.Portal
	expiresAt time.Time
}

// portalStore keeps one portal per browser cookie. Only portals holding an upstream token are
// persisted.
type portalStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	items     map[schema.PortalID]*portalEntry
	path      string
	newPortal portalFactory
	now       func() time.Time
}

func newPortalStore(ttl time.Duration, path string, factory portalFactory) *portalStore {
	store := &portalStore{
		ttl:       ttl,
		items:     make(map[schema.PortalID]*portalEntry),
		path:      strings.TrimSpace(path),
		newPortal: factory,
		now:       time.Now,
	}
	if store.path != "" {
		if err := store.load(); err != nil {
			logx.Ctx(context.Background()).Warn("portal store load failed", "err", err)
		}
	}
	return store
}

func (s *portalStore) create() *portalEntry {
	id := schema.PortalID(uuid.NewString())
	entry := &portalEntry{
		id:        id,
		portal:    s.newPortal(id),
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Lock()
	s.pruneLocked()
	s.items[id] = entry
	s.mu.Unlock()
	logx.Ctx(context.Background()).Debug("portal created", "portal", id, "expires", entry.expiresAt.Format(time.RFC3339))
	return entry
}

func (s *portalStore) get(id schema.PortalID) (*portalEntry, bool) {
	if id == "" {
		return nil, false
	}
	s.mu.Lock()
	entry, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.items, id)
		s.mu.Unlock()
		logx.Ctx(context.Background()).Info("portal expired", "portal", id)
		if entry.portal.Token() != "" {
			s.persist()
		}
		return nil, false
	}
	s.mu.Unlock()
	return entry, true
}

func (s *portalStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *portalStore) pruneLocked() {
	now := s.now()
	for id, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, id)
		}
	}
}

type portalRecord struct {
	PortalID  string    `json:"portal_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type portalFile struct {
	Version int            `json:"version"`
	Portals []portalRecord `json:"portals"`
}

func (s *portalStore) load() error {
	path := s.path
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file portalFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	now := s.now()
	entries := make(map[schema.PortalID]*portalEntry)
	for _, record := range file.Portals {
		if strings.TrimSpace(record.PortalID) == "" || strings.TrimSpace(record.Token) == "" {
			continue
		}
		if now.After(record.ExpiresAt) {
			continue
		}
		id := schema.PortalID(record.PortalID)
		portal := s.newPortal(id)
		portal.Restore(record.Token)
		entries[id] = &portalEntry{id: id, portal: portal, expiresAt: record.ExpiresAt}
	}
	s.mu.Lock()
	s.items = entries
	s.mu.Unlock()
	if len(file.Portals) != len(entries) {
		s.persist()
	}
	logx.Ctx(context.Background()).Info("portal store loaded", "portals", len(entries))
	return nil
}

func (s *portalStore) persist() {
	if s.path == "" {
		return
	}
	records := s.snapshot()
	if err := writePortalFile(s.path, records); err != nil {
		logx.Ctx(context.Background()).Warn("portal store save failed", "err", err)
	}
}

func (s *portalStore) snapshot() []portalRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]portalRecord, 0, len(s.items))
	for id, entry := range s.items {
		token := entry.portal.Token()
		if token == "" {
			continue
		}
		records = append(records, portalRecord{
			PortalID:  string(id),
			Token:     token,
			ExpiresAt: entry.expiresAt,
		})
	}
	return records
}

func writePortalFile(path string, records []portalRecord) error {
	payload := portalFile{Version: 1, Portals: records}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "portals-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

package tenantgate

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/cookiejar"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/httpapi"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/internal/backend"
	"pkt.systems/tenantgate/internal/directory"
	"pkt.systems/tenantgate/schema"
)

func TestNewRequiresService(t *testing.T) {
	if _, err := New(ServerConfig{}, ServerDeps{}); err == nil {
		t.Fatalf("expected error without services")
	}
	if _, err := New(ServerConfig{}, ServerDeps{}, WithMockBackend()); err == nil {
		t.Fatalf("expected error without mock address")
	}
	if _, err := New(ServerConfig{}, ServerDeps{}, WithGateway()); err == nil {
		t.Fatalf("expected error without backend url")
	}
}

func TestServerStopCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	server := &compositeServer{
		ctx:     ctx,
		cancel:  cancel,
		started: true,
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatalf("expected server context to be canceled")
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	server := &compositeServer{}
	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := server.Wait(); err == nil {
		t.Fatalf("expected Wait to fail before Start")
	}
}

type countingSink struct {
	events chan schema.PortalEvent
}

func (c *countingSink) OnPortalEvent(event schema.PortalEvent) {
	select {
	case c.events <- event:
	default:
	}
}

func TestGatewayAndMockServeTogether(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("toor"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gatewayAddr := freeAddr(t)
	mockAddr := freeAddr(t)
	cfg := ServerConfig{
		HTTP: httpapi.Config{
			Addr:               gatewayAddr,
			DisableRequestLogs: true,
		},
		Tenancy: core.HostConfig{RootDomain: "example.com"},
		Backend: backend.Options{BaseURL: "http://" + mockAddr, Timeout: 2 * time.Second},
		Mock: MockConfig{
			Addr:          mockAddr,
			DirectoryFile: filepath.Join(t.TempDir(), "directory.json"),
			Seed: directory.Seed{
				Users: []appconfig.SeedUser{{
					Email:        "root@example.com",
					Name:         "Root",
					PasswordHash: string(hash),
					Role:         "admin",
					SuperAdmin:   true,
				}},
			},
		},
	}
	sink := &countingSink{events: make(chan schema.PortalEvent, 16)}
	server, err := New(cfg, ServerDeps{EventSink: sink}, WithGateway(), WithMockBackend())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := server.Start(ctx); err == nil {
		t.Fatalf("expected second Start to fail")
	}
	waitListening(t, gatewayAddr)
	waitListening(t, mockAddr)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	body, _ := json.Marshal(schema.Credentials{Email: "root@example.com", Password: "toor"})
	req, err := http.NewRequest(http.MethodPost, "http://"+gatewayAddr+"/api/login", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Host = "admin.example.com"
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var auth struct {
		Route schema.RouteTree `json:"route"`
	}
	err = json.NewDecoder(resp.Body).Decode(&auth)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if auth.Route != schema.RouteAdminConsole {
		t.Fatalf("expected admin console, got %s", auth.Route)
	}
	select {
	case event := <-sink.events:
		if event.Type != schema.PortalEventSession {
			t.Fatalf("expected session event, got %s", event.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected extra sink to observe the login")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := server.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := server.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitListening(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s never started listening", addr)
}

package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/schema"
)

func TestWithHostAddsFields(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	log := WithHost(logger, schema.HostContext{Mode: schema.HostClient, TenantHint: "acme", IsDev: true})
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["host_mode"] != "client" {
		t.Fatalf("expected host_mode field, got %+v", entry)
	}
	if entry["tenant"] != "acme" {
		t.Fatalf("expected tenant field, got %+v", entry)
	}
	if entry["dev"] != true {
		t.Fatalf("expected dev field, got %+v", entry)
	}
}

func TestWithHostOmitsEmptyTenant(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture)
	WithHost(logger, schema.HostContext{Mode: schema.HostAdmin}).Info("hello")

	entry := capture.firstEntry(t)
	if _, ok := entry["tenant"]; ok {
		t.Fatalf("did not expect tenant for admin host, got %+v", entry)
	}
	if _, ok := entry["dev"]; ok {
		t.Fatalf("did not expect dev flag, got %+v", entry)
	}
}

func TestWithPortalTenantAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	WithPortalTenant(ctx, "p1", "acme").Info("hello")

	entry := capture.firstEntry(t)
	if entry["portal"] != "p1" {
		t.Fatalf("expected portal field, got %+v", entry)
	}
	if entry["tenant"] != "acme" {
		t.Fatalf("expected tenant field, got %+v", entry)
	}
}

func TestWithPortalSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("portal", "p1")
	ctx := ContextWithPortalLogger(context.Background(), logger, "p1", "")
	WithPortal(ctx, "p1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"portal"`)) != 1 {
		t.Fatalf("expected a single portal field, got %s", line)
	}
}

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}

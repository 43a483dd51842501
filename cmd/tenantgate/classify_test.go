package main

import (
	"bytes"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestClassifyReportsRouteTree(t *testing.T) {
	cfgPath := writeTestConfig(t)
	tests := []struct {
		name      string
		args      []string
		wantMode  string
		wantRoute string
		wantRoot  string
	}{
		{name: "admin-anonymous", args: []string{"admin.example.com"}, wantMode: "admin", wantRoute: "admin_login", wantRoot: "/login"},
		{name: "admin-super", args: []string{"admin.example.com", "--role", "super_admin"}, wantMode: "admin", wantRoute: "admin_console", wantRoot: "/dashboard"},
		{name: "warehouse", args: []string{"warehouse.example.com"}, wantMode: "warehouse", wantRoute: "warehouse_console", wantRoot: "/"},
		{name: "client-store-user", args: []string{"chronodrive.example.com", "--role", "store_user"}, wantMode: "client", wantRoute: "client_portal", wantRoot: "/"},
		{name: "dev-override", args: []string{"localhost.test", "--mode", "admin"}, wantMode: "admin", wantRoute: "admin_login", wantRoot: "/login"},
	}
	for _, tc := range tests {
		out := &bytes.Buffer{}
		cmd := newClassifyCmd()
		cmd.SetArgs(append([]string{"-c", cfgPath}, tc.args...))
		cmd.SetOut(out)
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("%s: classify: %v", tc.name, err)
		}
		var report classifyReport
		if err := yaml.Unmarshal(out.Bytes(), &report); err != nil {
			t.Fatalf("%s: decode: %v", tc.name, err)
		}
		if report.Mode != tc.wantMode || report.Route != tc.wantRoute || report.Root != tc.wantRoot {
			t.Fatalf("%s: unexpected report %+v", tc.name, report)
		}
	}
}

func TestClassifyRejectsUnknownRole(t *testing.T) {
	cfgPath := writeTestConfig(t)
	cmd := newClassifyCmd()
	cmd.SetArgs([]string{"-c", cfgPath, "admin.example.com", "--role", "owner"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/tenantgate/core"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/schema"
)

type classifyReport struct {
	Host       string `yaml:"host"`
	Mode       string `yaml:"mode"`
	Dev        bool   `yaml:"dev"`
	TenantHint string `yaml:"tenant_hint,omitempty"`
	TenantKey  string `yaml:"tenant_key,omitempty"`
	Role       string `yaml:"role"`
	Route      string `yaml:"route"`
	Root       string `yaml:"root"`
}

func newClassifyCmd() *cobra.Command {
	var cfgPath string
	var role string
	var devMode string
	var devTenant string
	cmd := &cobra.Command{
		Use:   "classify <hostname>",
		Short: "Show how a hostname is classified and which route tree it mounts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			var parsed schema.Role
			if err := parsed.UnmarshalText([]byte(role)); err != nil {
				return err
			}
			classifier := core.NewClassifier(toHostConfig(cfg.Tenancy))
			host := classifier.Classify(args[0])
			if host.IsDev && cfg.Tenancy.DevOverrides && (devMode != "" || devTenant != "") {
				host = classifier.ApplyDevOverride(host, devMode, devTenant)
			}
			session := schema.Session{IsLoggedIn: parsed != schema.RoleNone, Role: parsed}
			tree := core.Decide(host, session)
			report := classifyReport{
				Host:       args[0],
				Mode:       host.Mode.String(),
				Dev:        host.IsDev,
				TenantHint: string(host.TenantHint),
				TenantKey:  string(host.TenantKey()),
				Role:       parsed.String(),
				Route:      tree.String(),
				Root:       core.TreeRoot(tree, schema.AdminManagement),
			}
			data, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&role, "role", "none", "session role (none, super_admin, client_admin, store_user)")
	cmd.Flags().StringVar(&devMode, "mode", "", "dev host mode override (admin, warehouse, client)")
	cmd.Flags().StringVar(&devTenant, "tenant", "", "dev tenant override")
	return cmd
}

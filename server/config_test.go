package server

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  public_url: https://notes.example.com
  dev_mode: false
  tls:
    domains: [notes.example.com]
    email: admin@example.com
oidc:
  issuer_url: https://idp.example.com
  redirect_url: https://notes.example.com/auth/callback
  client_id: notes
  client_secret: hunter2
  scopes: [openid, profile]
  required_groups: [notes-users]
storage:
  location: /var/lib/notesd
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.PublicURL != "https://notes.example.com" {
		t.Errorf("public_url = %q", cfg.Server.PublicURL)
	}
	if cfg.Server.DevMode {
		t.Error("dev_mode should be false")
	}
	if cfg.OIDC.IssuerURL != "https://idp.example.com" {
		t.Errorf("issuer_url = %q", cfg.OIDC.IssuerURL)
	}
	if cfg.OIDC.ClientSecret != "hunter2" {
		t.Errorf("client_secret = %q", cfg.OIDC.ClientSecret)
	}
	if !reflect.DeepEqual(cfg.OIDC.Scopes, []string{"openid", "profile"}) {
		t.Errorf("scopes = %v", cfg.OIDC.Scopes)
	}
	if !reflect.DeepEqual(cfg.OIDC.RequiredGroups, []string{"notes-users"}) {
		t.Errorf("required_groups = %v", cfg.OIDC.RequiredGroups)
	}
	if cfg.Storage.Location != "/var/lib/notesd" {
		t.Errorf("storage.location = %q", cfg.Storage.Location)
	}
	// Omitted keys keep their defaults.
	if cfg.Server.HTTPSListenAddr != ":443" {
		t.Errorf("https_listen_addr = %q", cfg.Server.HTTPSListenAddr)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
server:
  public_url: http://127.0.0.1:8080
  listen_adress: ":8080"
storage:
  location: ./notes
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for misspelled key")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvIssuerURL, "https://idp.example.com")
	t.Setenv(EnvRedirectURL, "https://notes.example.com/auth/callback")
	t.Setenv(EnvClientID, "notes")
	t.Setenv(EnvClientSecret, " hunter2 ")
	t.Setenv(EnvScopes, "openid email")
	t.Setenv(EnvGroups, "staff admins")
	t.Setenv(EnvStorage, "/srv/notes")
	t.Setenv(EnvPublicURL, "https://notes.example.com")
	t.Setenv(EnvListenAddr, "127.0.0.1:9000")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OIDC.IssuerURL != "https://idp.example.com" {
		t.Errorf("issuer_url = %q", cfg.OIDC.IssuerURL)
	}
	if cfg.OIDC.ClientSecret != "hunter2" {
		t.Errorf("client_secret = %q, want trimmed", cfg.OIDC.ClientSecret)
	}
	if !reflect.DeepEqual(cfg.OIDC.Scopes, []string{"openid", "email"}) {
		t.Errorf("scopes = %v", cfg.OIDC.Scopes)
	}
	if !reflect.DeepEqual(cfg.OIDC.RequiredGroups, []string{"staff", "admins"}) {
		t.Errorf("required_groups = %v", cfg.OIDC.RequiredGroups)
	}
	if cfg.Storage.Location != "/srv/notes" {
		t.Errorf("storage.location = %q", cfg.Storage.Location)
	}
	if cfg.Server.DevListenAddr != "127.0.0.1:9000" {
		t.Errorf("dev_listen_addr = %q", cfg.Server.DevListenAddr)
	}
}

func TestValidate(t *testing.T) {
	prod := func(mutate func(*Config)) Config {
		cfg := DefaultConfig()
		cfg.Server.DevMode = false
		cfg.Server.PublicURL = "https://notes.example.com"
		cfg.Server.TLS.Domains = []string{"notes.example.com"}
		cfg.OIDC.IssuerURL = "https://idp.example.com"
		cfg.OIDC.RedirectURL = "https://notes.example.com/auth/callback"
		cfg.OIDC.ClientID = "notes"
		if mutate != nil {
			mutate(&cfg)
		}
		return cfg
	}

	if err := prod(nil).Validate(); err != nil {
		t.Fatalf("complete prod config rejected: %v", err)
	}

	cases := []struct {
		name   string
		cfg    Config
		errHas string
	}{
		{
			name:   "missing storage",
			cfg:    prod(func(c *Config) { c.Storage.Location = "" }),
			errHas: "storage.location",
		},
		{
			name:   "missing public url",
			cfg:    prod(func(c *Config) { c.Server.PublicURL = "" }),
			errHas: "public_url",
		},
		{
			name:   "prod without issuer",
			cfg:    prod(func(c *Config) { c.OIDC.IssuerURL = "" }),
			errHas: "issuer_url",
		},
		{
			name:   "relative issuer",
			cfg:    prod(func(c *Config) { c.OIDC.IssuerURL = "idp.example.com" }),
			errHas: "http(s)",
		},
		{
			name:   "missing redirect",
			cfg:    prod(func(c *Config) { c.OIDC.RedirectURL = "" }),
			errHas: "redirect_url",
		},
		{
			name:   "missing client id",
			cfg:    prod(func(c *Config) { c.OIDC.ClientID = "" }),
			errHas: "client_id",
		},
		{
			name:   "prod without tls domains",
			cfg:    prod(func(c *Config) { c.Server.TLS.Domains = nil }),
			errHas: "tls.domains",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.errHas) {
				t.Errorf("err = %v, want mention of %q", err, tc.errHas)
			}
		})
	}
}

func TestDevModeWithoutIssuerIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OIDC.IssuerURL = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

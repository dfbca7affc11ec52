package server

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the full application configuration loaded from YAML and
// environment variables.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OIDC    OIDCConfig    `yaml:"oidc"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	FrontendDir     string    `yaml:"frontend_dir"`
	TLS             TLSConfig `yaml:"tls"`

	// DevIDPListenAddr hosts the embedded identity provider when dev mode
	// runs without a configured issuer.
	DevIDPListenAddr string `yaml:"dev_idp_listen_addr"`
}

// TLSConfig defines autocert behaviour.
type TLSConfig struct {
	Domains   []string `yaml:"domains"`
	Email     string   `yaml:"email"`
	CachePath string   `yaml:"cache_path"`
}

// OIDCConfig is the provider relationship. ClientSecret stays out of logs
// and marshalled output.
type OIDCConfig struct {
	IssuerURL      string   `yaml:"issuer_url"`
	RedirectURL    string   `yaml:"redirect_url"`
	ClientID       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret,omitempty"`
	Scopes         []string `yaml:"scopes"`
	RequiredGroups []string `yaml:"required_groups"`
}

// StorageConfig locates the document root.
type StorageConfig struct {
	Location string `yaml:"location"`
}

// DefaultConfig returns the dev-mode defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:        "http://127.0.0.1:8080",
			DevListenAddr:    "127.0.0.1:8080",
			HTTPListenAddr:   ":80",
			HTTPSListenAddr:  ":443",
			DevMode:          true,
			FrontendDir:      "./frontend/build",
			DevIDPListenAddr: "127.0.0.1:9210",
			TLS: TLSConfig{
				CachePath: "./secrets/tls",
			},
		},
		OIDC: OIDCConfig{
			Scopes: []string{"openid", "profile", "email"},
		},
		Storage: StorageConfig{
			Location: "./notes",
		},
	}
}

// LoadConfig reads the YAML config file, applies environment overrides, and
// validates the result. An empty path skips the file and configures from
// environment and defaults alone.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Environment variable names, overriding the file.
const (
	EnvIssuerURL    = "NOTESD_OIDC_ISSUER_URL"
	EnvRedirectURL  = "NOTESD_OIDC_REDIRECT_URL"
	EnvClientID     = "NOTESD_OIDC_CLIENT_ID"
	EnvClientSecret = "NOTESD_OIDC_CLIENT_SECRET"
	EnvScopes       = "NOTESD_OIDC_SCOPES"
	EnvGroups       = "NOTESD_OIDC_GROUPS"
	EnvStorage      = "NOTESD_STORAGE_LOCATION"
	EnvPublicURL    = "NOTESD_PUBLIC_URL"
	EnvListenAddr   = "NOTESD_LISTEN_ADDR"
)

func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	setString(&cfg.OIDC.IssuerURL, EnvIssuerURL)
	setString(&cfg.OIDC.RedirectURL, EnvRedirectURL)
	setString(&cfg.OIDC.ClientID, EnvClientID)
	setString(&cfg.OIDC.ClientSecret, EnvClientSecret)
	setString(&cfg.Storage.Location, EnvStorage)
	setString(&cfg.Server.PublicURL, EnvPublicURL)
	setString(&cfg.Server.DevListenAddr, EnvListenAddr)

	if v, ok := os.LookupEnv(EnvScopes); ok {
		cfg.OIDC.Scopes = splitList(v)
	}
	if v, ok := os.LookupEnv(EnvGroups); ok {
		cfg.OIDC.RequiredGroups = splitList(v)
	}
}

// Validate rejects configurations the process must not serve with. The
// trust root has to be complete outside dev mode.
func (cfg Config) Validate() error {
	if cfg.Storage.Location == "" {
		return fmt.Errorf("storage.location is required")
	}
	if cfg.Server.PublicURL == "" {
		return fmt.Errorf("server.public_url is required")
	}

	if cfg.Server.DevMode && cfg.OIDC.IssuerURL == "" {
		// The embedded dev provider will be used; credentials are minted
		// at startup.
		return nil
	}

	if cfg.OIDC.IssuerURL == "" {
		return fmt.Errorf("oidc.issuer_url is required (or set %s)", EnvIssuerURL)
	}
	if !strings.HasPrefix(cfg.OIDC.IssuerURL, "http://") && !strings.HasPrefix(cfg.OIDC.IssuerURL, "https://") {
		return fmt.Errorf("oidc.issuer_url must be an absolute http(s) URL")
	}
	if cfg.OIDC.RedirectURL == "" {
		return fmt.Errorf("oidc.redirect_url is required (or set %s)", EnvRedirectURL)
	}
	if cfg.OIDC.ClientID == "" {
		return fmt.Errorf("oidc.client_id is required (or set %s)", EnvClientID)
	}
	if !cfg.Server.DevMode && len(cfg.Server.TLS.Domains) == 0 {
		return fmt.Errorf("server.tls.domains is required outside dev mode")
	}
	return nil
}

// splitList parses a space-separated list, dropping empty items.
func splitList(raw string) []string {
	return strings.Fields(raw)
}

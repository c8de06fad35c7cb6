// ABOUTME: Configuration loading and parsing for passkey-gateway
// ABOUTME: Supports YAML files with environment variable expansion plus pure-env fallback

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default certificate locations match the layout produced by the cert
// generation scripts shipped alongside the quantum-safe proxy.
const (
	DefaultClientCert = "certs/hybrid-client/client.crt"
	DefaultClientKey  = "certs/hybrid-client/client_pkcs8.key"
	DefaultCACert     = "certs/hybrid-ca/ca.crt"
	DefaultProxyURL   = "https://localhost:8443"
	DefaultPendingTTL = 5 * time.Minute
)

// Config represents the complete passkey-gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	WebAuthn WebAuthnConfig `yaml:"webauthn"`
	TLS      TLSConfig      `yaml:"tls"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Ceremony CeremonyConfig `yaml:"ceremony"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the listen address and deployment mode.
type ServerConfig struct {
	HTTPAddr   string `yaml:"http_addr"`
	Production bool   `yaml:"production"` // adds Strict-Transport-Security to responses
}

// AuthConfig holds token signing configuration.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwt_secret"`
	Issuer    string   `yaml:"issuer"`
	Audiences []string `yaml:"audiences"`
}

// WebAuthnConfig holds relying party configuration.
type WebAuthnConfig struct {
	RPID          string `yaml:"rp_id"`
	RPDisplayName string `yaml:"rp_display_name"`
	RPOrigin      string `yaml:"rp_origin"`
}

// TLSConfig holds the client certificate material and the path to the
// OpenSSL binary used for the post-quantum handshake.
type TLSConfig struct {
	ClientCert  string `yaml:"client_cert"`
	ClientKey   string `yaml:"client_key"`
	CACert      string `yaml:"ca_cert"`
	OpenSSLPath string `yaml:"openssl_path"`
}

// ProxyConfig holds the downstream quantum-safe proxy location.
type ProxyConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
}

// CeremonyConfig holds pending ceremony state lifetime configuration.
type CeremonyConfig struct {
	PendingTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PendingTTLRaw string `yaml:"pending_ttl"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded,
// documented environment overrides are applied, and defaults are filled in.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a Config from environment variables alone, for deployments
// that carry no config file.
func FromEnv() (*Config, error) {
	var cfg Config
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv applies the documented environment overrides. Environment wins
// over file values so secrets never need to live on disk.
func (c *Config) applyEnv() {
	setIfEnv(&c.Auth.JWTSecret, "JWT_SECRET")
	setIfEnv(&c.Auth.Issuer, "JWT_ISSUER")
	if v := os.Getenv("JWT_AUDIENCES"); v != "" {
		c.Auth.Audiences = splitList(v)
	}
	setIfEnv(&c.TLS.ClientCert, "CLIENT_CERT_PATH")
	setIfEnv(&c.TLS.ClientKey, "CLIENT_KEY_PATH")
	setIfEnv(&c.TLS.CACert, "CA_CERT_PATH")
	setIfEnv(&c.TLS.OpenSSLPath, "OPENSSL_PATH")
	setIfEnv(&c.Proxy.URL, "QUANTUM_SAFE_PROXY_URL")
	setIfEnv(&c.Server.HTTPAddr, "PASSKEY_HTTP_ADDR")
	setIfEnv(&c.Ceremony.PendingTTLRaw, "PASSKEY_PENDING_TTL")
	if v := os.Getenv("PASSKEY_PRODUCTION"); v != "" {
		c.Server.Production = v == "true" || v == "1"
	}
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "localhost:3000"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "passkey-gateway"
	}
	if len(c.Auth.Audiences) == 0 {
		c.Auth.Audiences = []string{"quantum-safe-proxy"}
	}
	if c.WebAuthn.RPID == "" {
		c.WebAuthn.RPID = "localhost"
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = "Passkey Gateway"
	}
	if c.WebAuthn.RPOrigin == "" {
		c.WebAuthn.RPOrigin = "http://" + c.Server.HTTPAddr
	}
	if c.TLS.ClientCert == "" {
		c.TLS.ClientCert = DefaultClientCert
	}
	if c.TLS.ClientKey == "" {
		c.TLS.ClientKey = DefaultClientKey
	}
	if c.TLS.CACert == "" {
		c.TLS.CACert = DefaultCACert
	}
	if c.Proxy.URL == "" {
		c.Proxy.URL = DefaultProxyURL
	}
	if c.Proxy.Path == "" {
		c.Proxy.Path = "/api"
	}
}

// Validate checks that all required configuration fields are present and
// valid. Returns an error describing the first validation failure.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set JWT_SECRET)")
	}
	if len(c.Auth.Audiences) == 0 {
		return fmt.Errorf("auth.audiences must name at least one downstream service")
	}
	if !strings.HasPrefix(c.Proxy.URL, "https://") {
		return fmt.Errorf("proxy.url must be an https:// URL, got %q", c.Proxy.URL)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func (c *Config) parseDurations() error {
	c.Ceremony.PendingTTL = DefaultPendingTTL
	if c.Ceremony.PendingTTLRaw != "" {
		d, err := time.ParseDuration(c.Ceremony.PendingTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing pending_ttl %q: %w", c.Ceremony.PendingTTLRaw, err)
		}
		c.Ceremony.PendingTTL = d
	}
	return nil
}

// ProxyHostPort splits the proxy URL into host and port, defaulting to 443
// when no port is given.
func (c *Config) ProxyHostPort() (host string, port int) {
	trimmed := strings.TrimPrefix(c.Proxy.URL, "https://")
	trimmed = strings.TrimSuffix(trimmed, "/")

	host, portStr, found := strings.Cut(trimmed, ":")
	if host == "" {
		host = "localhost"
	}
	if !found {
		return host, 443
	}

	port = 0
	for _, r := range portStr {
		if r < '0' || r > '9' {
			return host, 443
		}
		port = port*10 + int(r-'0')
	}
	if port == 0 || port > 65535 {
		return host, 443
	}
	return host, port
}

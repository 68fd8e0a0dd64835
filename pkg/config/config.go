package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/fedgate/pkg/observability"
	"github.com/platinummonkey/fedgate/pkg/provision"
	"github.com/platinummonkey/fedgate/pkg/wsfed"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// Federation request configuration (the redirect side)
	Federation FederationConfig

	// Session configuration
	Session SessionConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	URL string
}

// FederationConfig holds the sign-in redirect settings and points at the
// trust file carrying certificates, DNs and the claim mapping.
type FederationConfig struct {
	IdentityProviderURL string
	Realm               string
	ReplyPolicy         string
	ReplyStripPrefixes  []string
	ReplyStripSuffixes  []string
	IncludeContext      bool
	IncludeTimestamp    bool
	FreshnessMinutes    int
	TrustFile           string
}

// SessionConfig holds session store settings
type SessionConfig struct {
	// Store selects the backend: "redis" or "postgres".
	Store             string
	TTL               time.Duration
	PendingTTL        time.Duration
	SweepSchedule     string
	ConsumedCacheSize int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Federation:    loadFederationConfig(),
		Session:       loadSessionConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FEDGATE_HOST", "0.0.0.0"),
		Port:            getEnv("FEDGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FEDGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FEDGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("FEDGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FEDGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:          getEnv("FEDGATE_POSTGRES_URL", ""),
		MaxOpenConns: getEnvInt("FEDGATE_POSTGRES_MAX_CONNS", 25),
		MaxIdleConns: getEnvInt("FEDGATE_POSTGRES_IDLE_CONNS", 5),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL: getEnv("FEDGATE_REDIS_URL", ""),
	}
}

func loadFederationConfig() FederationConfig {
	return FederationConfig{
		IdentityProviderURL: getEnv("FEDGATE_IDP_URL", ""),
		Realm:               getEnv("FEDGATE_REALM", ""),
		ReplyPolicy:         getEnv("FEDGATE_REPLY_POLICY", "disabled"),
		ReplyStripPrefixes:  getEnvList("FEDGATE_REPLY_STRIP_PREFIXES"),
		ReplyStripSuffixes:  getEnvList("FEDGATE_REPLY_STRIP_SUFFIXES"),
		IncludeContext:      getEnvBool("FEDGATE_INCLUDE_CONTEXT", true),
		IncludeTimestamp:    getEnvBool("FEDGATE_INCLUDE_TIMESTAMP", true),
		FreshnessMinutes:    getEnvInt("FEDGATE_FRESHNESS_MINUTES", 0),
		TrustFile:           getEnv("FEDGATE_TRUST_FILE", ""),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		Store:             getEnv("FEDGATE_SESSION_STORE", "redis"),
		TTL:               getEnvDuration("FEDGATE_SESSION_TTL", 8*time.Hour),
		PendingTTL:        getEnvDuration("FEDGATE_PENDING_TTL", 10*time.Minute),
		SweepSchedule:     getEnv("FEDGATE_SWEEP_SCHEDULE", "@every 5m"),
		ConsumedCacheSize: getEnvInt("FEDGATE_CONSUMED_CACHE_SIZE", 4096),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("FEDGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("FEDGATE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Federation.IdentityProviderURL == "" {
		return fmt.Errorf("identity provider URL is required")
	}
	if c.Federation.Realm == "" {
		return fmt.Errorf("realm is required")
	}
	if c.Federation.TrustFile == "" {
		return fmt.Errorf("trust file is required")
	}
	switch c.Federation.ReplyPolicy {
	case "disabled", "full", "shortened":
	default:
		return fmt.Errorf("invalid reply policy: %s (must be disabled, full, or shortened)", c.Federation.ReplyPolicy)
	}
	switch c.Session.Store {
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis session store")
		}
	case "postgres":
	default:
		return fmt.Errorf("invalid session store: %s (must be redis or postgres)", c.Session.Store)
	}
	return nil
}

// RequestConfig converts the federation settings into a sign-in request
// builder configuration.
func (c *Config) RequestConfig() wsfed.RequestConfig {
	return wsfed.RequestConfig{
		IdentityProviderURL: c.Federation.IdentityProviderURL,
		Realm:               c.Federation.Realm,
		ReplyPolicy:         wsfed.ReplyPolicy(c.Federation.ReplyPolicy),
		ReplyStripPrefixes:  c.Federation.ReplyStripPrefixes,
		ReplyStripSuffixes:  c.Federation.ReplyStripSuffixes,
		IncludeContext:      c.Federation.IncludeContext,
		IncludeTimestamp:    c.Federation.IncludeTimestamp,
		FreshnessMinutes:    c.Federation.FreshnessMinutes,
	}
}

// TrustFile is the YAML document carrying the trust anchors and the claim
// mapping. It complements the environment configuration because certificates
// and DN lists do not fit environment variables well.
type TrustFile struct {
	EntityID           string   `yaml:"entity_id"`
	IssuerName         string   `yaml:"issuer_name"`
	IssuerDN           string   `yaml:"issuer_dn"`
	SubjectDNs         []string `yaml:"subject_dns"`
	Audiences          []string `yaml:"audiences"`
	Certificates       []string `yaml:"certificates"`
	ClockSkew          string   `yaml:"clock_skew"`
	ValidateExpiration *bool    `yaml:"validate_expiration"`
	RequireContext     *bool    `yaml:"require_context"`

	Mapping         string   `yaml:"mapping"`
	MappingFile     string   `yaml:"mapping_file"`
	Casing          string   `yaml:"casing"`
	IdentityField   string   `yaml:"identity_field"`
	UsernameFields  []string `yaml:"username_fields"`
	DefaultUsername string   `yaml:"default_username"`
}

// LoadTrustFile reads and parses the trust file at path.
func LoadTrustFile(path string) (*TrustFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust file: %w", err)
	}
	tf := &TrustFile{}
	if err := yaml.Unmarshal(data, tf); err != nil {
		return nil, fmt.Errorf("failed to parse trust file %s: %w", path, err)
	}
	return tf, nil
}

// TrustConfig converts the trust file into the validator configuration.
func (t *TrustFile) TrustConfig() (wsfed.TrustConfig, error) {
	cfg := wsfed.TrustConfig{
		TrustedSubjectNames: t.SubjectDNs,
		TrustedIssuerName:   t.IssuerName,
		TrustedIssuerDN:     t.IssuerDN,
		AudienceURIs:        t.Audiences,
		EntityID:            t.EntityID,
		Certificates:        t.Certificates,
		ValidateExpiration:  true,
		RequireContext:      true,
	}
	if t.ClockSkew != "" {
		skew, err := time.ParseDuration(t.ClockSkew)
		if err != nil {
			return wsfed.TrustConfig{}, fmt.Errorf("invalid clock_skew %q: %w", t.ClockSkew, err)
		}
		cfg.ClockSkew = skew
	}
	if t.ValidateExpiration != nil {
		cfg.ValidateExpiration = *t.ValidateExpiration
	}
	if t.RequireContext != nil {
		cfg.RequireContext = *t.RequireContext
	}
	return cfg, nil
}

// ProvisionConfig converts the trust file into the provisioner
// configuration.
func (t *TrustFile) ProvisionConfig() provision.Config {
	return provision.Config{
		IdentityField:   t.IdentityField,
		UsernameFields:  t.UsernameFields,
		DefaultUsername: t.DefaultUsername,
	}
}

// CasingPolicy returns the configured attribute casing policy.
func (t *TrustFile) CasingPolicy() provision.CasingPolicy {
	return provision.CasingPolicy(t.Casing)
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated environment variable as a slice
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

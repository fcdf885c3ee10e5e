package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tillworks/accessgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (membership, permission matrix, audit)
	Database DatabaseConfig

	// Redis configuration (grace marker, tenant preference)
	Redis RedisConfig

	// Identity provider configuration
	Identity IdentityConfig

	// Gate tuning
	Gate GateConfig

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

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
	Timeout  time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// IdentityConfig holds OIDC identity provider configuration
type IdentityConfig struct {
	IssuerURL     string
	ClientID      string
	OperatorClaim string
}

// GateConfig holds tenant resolution and entitlement tuning
type GateConfig struct {
	// PollInterval is the membership re-fetch cadence while resolving
	PollInterval time.Duration
	// MaxWait bounds polling when no grace marker is present
	MaxWait time.Duration
	// GraceMaxWait bounds polling for freshly provisioned accounts
	GraceMaxWait time.Duration
	// GraceTTL is the lifetime of the provisioning grace marker
	GraceTTL time.Duration
	// DecisionCacheSize is the LRU capacity for entitlement decisions
	DecisionCacheSize int
	// MenuManifest is the path to the navigation manifest YAML
	MenuManifest string
	// AuditRetention is how long access decisions are kept
	AuditRetention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		Gate:          loadGateConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATE_HOST", "0.0.0.0"),
		Port:            getEnv("GATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATE_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("GATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GATE_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:      getEnv("GATE_POSTGRES_URL", ""),
		MaxConns: getEnvInt("GATE_POSTGRES_MAX_CONNS", 20),
		MinConns: getEnvInt("GATE_POSTGRES_MIN_CONNS", 2),
		Timeout:  getEnvDuration("GATE_POSTGRES_TIMEOUT", 5*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("GATE_REDIS_URL", "redis://localhost:6379/0"),
		Password:   getEnv("GATE_REDIS_PASSWORD", ""),
		DB:         getEnvInt("GATE_REDIS_DB", -1),
		MaxRetries: getEnvInt("GATE_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("GATE_REDIS_POOL_SIZE", 0),
	}
}

// loadIdentityConfig loads identity provider configuration from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL:     getEnv("GATE_OIDC_ISSUER_URL", ""),
		ClientID:      getEnv("GATE_OIDC_CLIENT_ID", ""),
		OperatorClaim: getEnv("GATE_OIDC_OPERATOR_CLAIM", "operator"),
	}
}

// loadGateConfig loads gate tuning from environment
func loadGateConfig() GateConfig {
	return GateConfig{
		PollInterval:      getEnvDuration("GATE_POLL_INTERVAL", 1*time.Second),
		MaxWait:           getEnvDuration("GATE_MAX_WAIT", 8*time.Second),
		GraceMaxWait:      getEnvDuration("GATE_GRACE_MAX_WAIT", 15*time.Second),
		GraceTTL:          getEnvDuration("GATE_GRACE_TTL", 15*time.Second),
		DecisionCacheSize: getEnvInt("GATE_DECISION_CACHE_SIZE", 4096),
		MenuManifest:      getEnv("GATE_MENU_MANIFEST", "menu.yaml"),
		AuditRetention:    getEnvDuration("GATE_AUDIT_RETENTION", 90*24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATE_OTEL_SERVICE_NAME", "accessgate"),
		OTelServiceVersion: getEnv("GATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATE_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}
	if c.Identity.ClientID == "" {
		return fmt.Errorf("OIDC client ID is required")
	}

	if c.Gate.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Gate.MaxWait < c.Gate.PollInterval {
		return fmt.Errorf("max wait must be at least one poll interval")
	}
	if c.Gate.GraceMaxWait < c.Gate.MaxWait {
		return fmt.Errorf("grace max wait must not be shorter than max wait")
	}
	if c.Gate.DecisionCacheSize <= 0 {
		return fmt.Errorf("decision cache size must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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

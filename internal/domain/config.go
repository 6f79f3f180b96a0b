package domain

import (
	"os"
	"strconv"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	FeatureStore FeatureStoreConfig `json:"featureStore"`
	Cache        CacheConfig        `json:"cache"`
	EventBus     EventBusConfig     `json:"eventBus"`

	// ProfileTTL bounds how long a resolved profile may be served from
	// cache before the feature store is consulted again.
	ProfileTTL time.Duration `json:"profileTtl"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier:
// embedded SQLite feature store, in-process cache and bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8090,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		FeatureStore: FeatureStoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		ProfileTTL: 60 * time.Second,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier:
// PostgreSQL feature store, two-phase Redis cache, NATS bus.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.FeatureStore = FeatureStoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// ConfigFromEnv builds the configuration from environment variables,
// starting from the tier selected by KESTREL_TIER. Unset variables
// keep their tier defaults.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if Tier(getEnv("KESTREL_TIER", string(TierCommunity))) == TierPro {
		cfg = ProConfig()
	}

	cfg.Server.Host = getEnv("KESTREL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("KESTREL_PORT", cfg.Server.Port)

	cfg.FeatureStore.SQLitePath = getEnv("KESTREL_SQLITE_PATH", cfg.FeatureStore.SQLitePath)
	cfg.FeatureStore.PostgresHost = getEnv("POSTGRES_HOST", cfg.FeatureStore.PostgresHost)
	cfg.FeatureStore.PostgresPort = getEnvInt("POSTGRES_PORT", cfg.FeatureStore.PostgresPort)
	cfg.FeatureStore.PostgresDB = getEnv("POSTGRES_DB", cfg.FeatureStore.PostgresDB)
	cfg.FeatureStore.PostgresUser = getEnv("POSTGRES_USER", cfg.FeatureStore.PostgresUser)
	cfg.FeatureStore.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.FeatureStore.PostgresPassword)

	cfg.Cache.RedisAddr = getEnv("KESTREL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.EventBus.NATSUrl = getEnv("KESTREL_NATS_URL", cfg.EventBus.NATSUrl)

	if ttl := getEnvInt("KESTREL_PROFILE_TTL", 0); ttl > 0 {
		cfg.ProfileTTL = time.Duration(ttl) * time.Second
	}

	if getEnv("KESTREL_DEBUG", "") == "true" {
		cfg.Logging.Level = "debug"
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

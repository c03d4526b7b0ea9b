// Package config loads callgate's environment-variable configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ReconcileMode selects how startup reconciliation rebuilds the Global
// Capacity Store (spec §4.6, §9 Design Notes / SPEC_FULL §12).
type ReconcileMode string

// Supported startup reconciliation modes.
const (
	// ReconcileModeRebuild re-emits AcquireSlot for every C2 row with
	// status=active, preserving counters across a restart. Default.
	ReconcileModeRebuild ReconcileMode = "rebuild"
	// ReconcileModeReset clears the Global Capacity Store unconditionally;
	// entries come back only through subsequent acquires, so calls still in
	// flight across the restart hold no slot. Matches the
	// source system's behavior flagged as possibly-buggy in spec §9;
	// kept for parity testing only.
	ReconcileModeReset ReconcileMode = "reset"
)

// Config is callgate's process-wide configuration, loaded once at startup.
type Config struct {
	HTTPAddr string

	// GlobalCap is the platform-wide concurrent call ceiling imposed by the
	// upstream provider (spec §3, §6).
	GlobalCap int

	// PhoneInboundEnabled is the master switch for inbound admission
	// (spec §6).
	PhoneInboundEnabled bool

	// ProviderWebhookSecret is the shared HMAC secret used to verify
	// inbound webhook signatures (spec §4.5).
	ProviderWebhookSecret string

	// Production gates whether an empty ProviderWebhookSecret is fatal
	// (spec §4.5: "absence of the shared secret is a hard failure" in
	// production, "MAY be bypassed" in development).
	Production bool

	ReconcileInterval time.Duration
	StuckCallAge      time.Duration
	ReconcileMode     ReconcileMode

	PodID string

	// ProviderBaseURL and ProviderAPIKey address the upstream voice-agent
	// provider's call-initiation API (spec §7).
	ProviderBaseURL string
	ProviderAPIKey  string

	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Session Registry (C2) / Tenant Counter (C3)
// connection settings.
type PostgresConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns a libpq-style connection string for the pgx driver.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds the Global Capacity Store (C1) connection settings.
type RedisConfig struct {
	// Addr is STORE_URL from spec §6 — host:port of the shared Redis
	// instance backing the platform-wide counter.
	Addr     string
	Password string
	DB       int
}

// Load reads configuration from the environment, applying production-ready
// defaults the same way the teacher's database config loader does.
func Load() (*Config, error) {
	globalCap, err := envInt("GLOBAL_CAP", 5)
	if err != nil {
		return nil, err
	}

	reconcileMinutes, err := envInt("RECONCILE_INTERVAL_MINUTES", 10)
	if err != nil {
		return nil, err
	}
	stuckMinutes, err := envInt("STUCK_CALL_AGE_MINUTES", 15)
	if err != nil {
		return nil, err
	}

	dbPort, err := envInt("DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	maxOpen, _ := envInt("DB_MAX_OPEN_CONNS", 25)
	maxIdle, _ := envInt("DB_MAX_IDLE_CONNS", 10)
	maxLifetime, err := time.ParseDuration(envOr("DB_CONN_MAX_LIFETIME", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME: %w", err)
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	podID := os.Getenv("POD_ID")
	if podID == "" {
		podID, _ = os.Hostname()
	}

	mode := ReconcileMode(envOr("RECONCILE_MODE", string(ReconcileModeRebuild)))
	if mode != ReconcileModeRebuild && mode != ReconcileModeReset {
		return nil, fmt.Errorf("invalid RECONCILE_MODE %q: must be %q or %q", mode, ReconcileModeRebuild, ReconcileModeReset)
	}

	cfg := &Config{
		HTTPAddr:              envOr("HTTP_ADDR", ":8080"),
		GlobalCap:             globalCap,
		PhoneInboundEnabled:   envBool("PHONE_INBOUND_ENABLED", true),
		ProviderWebhookSecret: os.Getenv("PROVIDER_WEBHOOK_SECRET"),
		Production:            envBool("PRODUCTION", false),
		ReconcileInterval:     time.Duration(reconcileMinutes) * time.Minute,
		StuckCallAge:          time.Duration(stuckMinutes) * time.Minute,
		ReconcileMode:         mode,
		PodID:                 podID,
		ProviderBaseURL:       envOr("PROVIDER_BASE_URL", "https://api.voiceprovider.example/v1"),
		ProviderAPIKey:        os.Getenv("PROVIDER_API_KEY"),
		Postgres: PostgresConfig{
			Host:            envOr("DB_HOST", "localhost"),
			Port:            dbPort,
			User:            envOr("DB_USER", "callgate"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        envOr("DB_NAME", "callgate"),
			SSLMode:         envOr("DB_SSLMODE", "disable"),
			MaxOpenConns:    maxOpen,
			MaxIdleConns:    maxIdle,
			ConnMaxLifetime: maxLifetime,
		},
		Redis: RedisConfig{
			Addr:     envOr("STORE_URL", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// InboundEnabled implements webhook.InboundGate.
func (c *Config) InboundEnabled() bool {
	return c.PhoneInboundEnabled
}

// Validate enforces the closed set of invariants spec §6/§4.5 place on
// configuration before the process accepts traffic.
func (c *Config) Validate() error {
	if c.GlobalCap < 1 {
		return fmt.Errorf("GLOBAL_CAP must be at least 1")
	}
	if c.Production && c.ProviderWebhookSecret == "" {
		return fmt.Errorf("PROVIDER_WEBHOOK_SECRET is required when PRODUCTION=true")
	}
	if c.Postgres.MaxIdleConns > c.Postgres.MaxOpenConns {
		return fmt.Errorf("DB_MAX_IDLE_CONNS (%d) cannot exceed DB_MAX_OPEN_CONNS (%d)", c.Postgres.MaxIdleConns, c.Postgres.MaxOpenConns)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

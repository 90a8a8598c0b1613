package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tokenledger/database"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string
	DatabaseName string
	LockTimeout  time.Duration // Bounded wait for the per-account row lock

	// NATS configuration
	NATSServers string // NATS server addresses (comma-separated)
	NATSEnabled bool

	// Redis configuration (confirmed balance read cache)
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	BalanceCacheTTL time.Duration

	// HTTP configuration
	HTTPAddr      string
	WebhookSecret string // Shared secret for payment webhook signatures

	// Ledger policy
	Ledger LedgerPolicy

	// Pack catalog file (TOML). Empty means the built-in catalog.
	PacksFile string
	Packs     *PackCatalog

	// Worker configuration
	DailyGrantInterval    time.Duration // How often the daily grant sweep runs
	LifetimeRefillDay     int           // Day of month (UTC) when lifetime refills are issued
	ReferralRetryInterval time.Duration // How often pending referral bonuses are retried

	// OpenTelemetry configuration
	OTelEnabled              bool
	OTelExporterType         string // "console", "otlp" or "none"
	OTelOTLPEndpoint         string
	OTelServiceName          string
	OTelExportIntervalMillis int

	// Logging
	LogLevel  string
	LogFormat string

	// Environment
	Environment string // "development", "production" or "test"
}

// LedgerPolicy carries the balance rules applied by the accounting engine
type LedgerPolicy struct {
	StartingPurchasedBalance int64
	StartingDailyBalance     int64
	DailyGrantAmount         int64
	DailyCap                 int64
	DailyGrantWindow         time.Duration // Rolling window measured from the last grant
	ReferrerBonus            int64
	RefereeBonus             int64
	OperationTimeout         time.Duration // Upper bound for a single atomic ledger unit
}

// DefaultLedgerPolicy returns the standard ledger policy
func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		StartingPurchasedBalance: 15,
		StartingDailyBalance:     0,
		DailyGrantAmount:         2,
		DailyCap:                 14,
		DailyGrantWindow:         24 * time.Hour,
		ReferrerBonus:            10,
		RefereeBonus:             5,
		OperationTimeout:         10 * time.Second,
	}
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	// If instance is already set (e.g., by tests), return it
	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("GO_TEST") == "1" || os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// load loads configuration from environment variables
func load() (*Config, error) {
	// A missing .env file is fine; the process environment wins either way
	_ = godotenv.Load()

	config := &Config{
		// Database
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabaseName: os.Getenv("DATABASE_NAME"),
		LockTimeout:  3 * time.Second,

		// NATS
		NATSServers: getEnvWithDefault("NATS_SERVERS", "nats://nats:4222"),
		NATSEnabled: true,

		// Redis
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		BalanceCacheTTL: 30 * time.Second,

		// HTTP
		HTTPAddr:      getEnvWithDefault("HTTP_ADDR", ":8080"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		Ledger:    DefaultLedgerPolicy(),
		PacksFile: os.Getenv("PACKS_FILE"),

		// Workers
		DailyGrantInterval:    time.Hour,
		LifetimeRefillDay:     1,
		ReferralRetryInterval: 5 * time.Minute,

		// OpenTelemetry
		OTelEnabled:              false,
		OTelExporterType:         getEnvWithDefault("OTEL_EXPORTER_TYPE", "console"),
		OTelOTLPEndpoint:         getEnvWithDefault("OTEL_OTLP_ENDPOINT", "otel-collector:4317"),
		OTelServiceName:          getEnvWithDefault("OTEL_SERVICE_NAME", "tokenledger"),
		OTelExportIntervalMillis: 15000,

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "text"),

		Environment: os.Getenv("ENVIRONMENT"),
	}

	var err error
	if config.LockTimeout, err = getDurationEnv("LOCK_TIMEOUT", config.LockTimeout); err != nil {
		return nil, err
	}
	if config.BalanceCacheTTL, err = getDurationEnv("BALANCE_CACHE_TTL", config.BalanceCacheTTL); err != nil {
		return nil, err
	}
	if config.DailyGrantInterval, err = getDurationEnv("DAILY_GRANT_INTERVAL", config.DailyGrantInterval); err != nil {
		return nil, err
	}
	if config.ReferralRetryInterval, err = getDurationEnv("REFERRAL_RETRY_INTERVAL", config.ReferralRetryInterval); err != nil {
		return nil, err
	}
	if config.Ledger.DailyGrantWindow, err = getDurationEnv("DAILY_GRANT_WINDOW", config.Ledger.DailyGrantWindow); err != nil {
		return nil, err
	}
	if config.Ledger.OperationTimeout, err = getDurationEnv("LEDGER_OPERATION_TIMEOUT", config.Ledger.OperationTimeout); err != nil {
		return nil, err
	}

	int64Overrides := map[string]*int64{
		"STARTING_PURCHASED_BALANCE": &config.Ledger.StartingPurchasedBalance,
		"STARTING_DAILY_BALANCE":     &config.Ledger.StartingDailyBalance,
		"DAILY_GRANT_AMOUNT":         &config.Ledger.DailyGrantAmount,
		"DAILY_GRANT_CAP":            &config.Ledger.DailyCap,
		"REFERRER_BONUS":             &config.Ledger.ReferrerBonus,
		"REFEREE_BONUS":              &config.Ledger.RefereeBonus,
	}
	for key, target := range int64Overrides {
		if value := os.Getenv(key); value != "" {
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			*target = parsed
		}
	}

	if value := os.Getenv("REDIS_DB"); value != "" {
		if config.RedisDB, err = strconv.Atoi(value); err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}
	if value := os.Getenv("LIFETIME_REFILL_DAY"); value != "" {
		if config.LifetimeRefillDay, err = strconv.Atoi(value); err != nil {
			return nil, fmt.Errorf("invalid LIFETIME_REFILL_DAY: %w", err)
		}
	}
	if value := os.Getenv("OTEL_EXPORT_INTERVAL_MS"); value != "" {
		if config.OTelExportIntervalMillis, err = strconv.Atoi(value); err != nil {
			return nil, fmt.Errorf("invalid OTEL_EXPORT_INTERVAL_MS: %w", err)
		}
	}
	if value := os.Getenv("OTEL_ENABLED"); value != "" {
		config.OTelEnabled = strings.EqualFold(value, "true")
	}
	if value := os.Getenv("NATS_ENABLED"); value != "" {
		config.NATSEnabled = strings.EqualFold(value, "true")
	}

	// Set default environment if not specified
	if config.Environment == "" {
		config.Environment = "development"
	}

	packs, err := LoadPackCatalog(config.PacksFile)
	if err != nil {
		return nil, err
	}
	config.Packs = packs

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration for values the ledger cannot operate with
func (c *Config) Validate() error {
	if c.Environment != "test" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.DatabaseName != "" && strings.TrimSpace(c.DatabaseName) == "" {
			return fmt.Errorf("DATABASE_NAME cannot be empty when provided")
		}
	}

	p := c.Ledger
	if p.StartingPurchasedBalance < 0 || p.StartingDailyBalance < 0 {
		return fmt.Errorf("starting balances must be non-negative")
	}
	if p.DailyCap < 0 || p.DailyGrantAmount < 0 {
		return fmt.Errorf("daily grant amount and cap must be non-negative")
	}
	if p.StartingDailyBalance > p.DailyCap {
		return fmt.Errorf("starting daily balance %d exceeds daily cap %d", p.StartingDailyBalance, p.DailyCap)
	}
	if p.ReferrerBonus < 0 || p.RefereeBonus < 0 {
		return fmt.Errorf("referral bonuses must be non-negative")
	}
	if p.DailyGrantWindow <= 0 {
		return fmt.Errorf("daily grant window must be positive")
	}
	if c.LifetimeRefillDay < 1 || c.LifetimeRefillDay > 28 {
		return fmt.Errorf("LIFETIME_REFILL_DAY must be between 1 and 28, got %d", c.LifetimeRefillDay)
	}

	return nil
}

// getEnvWithDefault returns the environment variable value or a default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
// This should only be called from test files
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
// This should only be called from test files
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a minimal config suitable for unit tests
func NewTestConfig() *Config {
	return &Config{
		Environment:           "test",
		LockTimeout:           3 * time.Second,
		BalanceCacheTTL:       30 * time.Second,
		Ledger:                DefaultLedgerPolicy(),
		Packs:                 DefaultPackCatalog(),
		DailyGrantInterval:    time.Hour,
		LifetimeRefillDay:     1,
		ReferralRetryInterval: 5 * time.Minute,
		OTelExporterType:      "none",
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

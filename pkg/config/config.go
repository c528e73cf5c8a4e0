package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	NATS      NATSConfig
	Sentry    SentryConfig
	Tracing   TracingConfig
	RateLimit RateLimitConfig
	Fraud     FraudConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string
	Environment  string
	ServiceName  string
	ReadTimeout  int
	WriteTimeout int
	CORSOrigins  string // Comma-separated list of allowed origins
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN builds the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisAddr returns the host:port address of the Redis server
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret     string
	Expiration int // in hours
}

// NATSConfig holds NATS event bus configuration
type NATSConfig struct {
	URL     string
	Enabled bool
}

// SentryConfig holds Sentry error tracking configuration
type SentryConfig struct {
	DSN     string
	Enabled bool
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRate   float64
}

// RateLimitConfig holds the adaptive fraud rate limiter configuration
type RateLimitConfig struct {
	Enabled       bool
	RedisPrefix   string
	WindowSeconds int
}

// Window returns the rate limiting window as a duration
func (c RateLimitConfig) Window() time.Duration {
	if c.WindowSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.WindowSeconds) * time.Second
}

// FraudConfig carries every tunable constant of the risk engine so tests
// can substitute alternate thresholds without touching global state.
type FraudConfig struct {
	// Decision thresholds, evaluated high to low.
	BlockThreshold   float64
	ReviewThreshold  float64
	VerifyThreshold  float64
	MonitorThreshold float64

	// Alert severity cut-offs derived from the final score.
	CriticalSeverityThreshold float64
	HighSeverityThreshold     float64

	// Static account/behavioral factor weights.
	NewAccountWeight        float64
	UnverifiedEmailWeight   float64
	UnverifiedPhoneWeight   float64
	FirstTransactionWeight  float64
	AddressMismatchWeight   float64
	ReputationPenaltyWeight float64

	// FailClosed flips the degradation policy: when true, any degraded
	// sub-check biases the decision toward the cautious side regardless
	// of its weight. Default is false (fail open).
	FailClosed bool
	// DegradedBiasMinWeight is the minimum weight a degraded sub-check
	// must carry before the decision is biased one tier up (fail-open mode).
	DegradedBiasMinWeight float64

	// SubCheckTimeout bounds every counter, reputation and factor lookup.
	SubCheckTimeoutMillis int
	// RuleCacheTTLSeconds bounds staleness of the process-local rule catalog.
	RuleCacheTTLSeconds int
	// ScoreCacheTTLSeconds bounds staleness of cached user fraud scores.
	ScoreCacheTTLSeconds int
}

// SubCheckTimeout returns the per-sub-check deadline.
func (c FraudConfig) SubCheckTimeout() time.Duration {
	if c.SubCheckTimeoutMillis <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(c.SubCheckTimeoutMillis) * time.Millisecond
}

// RuleCacheTTL returns the rule catalog refresh interval.
func (c FraudConfig) RuleCacheTTL() time.Duration {
	if c.RuleCacheTTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.RuleCacheTTLSeconds) * time.Second
}

// ScoreCacheTTL returns the cached score lifetime.
func (c FraudConfig) ScoreCacheTTL() time.Duration {
	if c.ScoreCacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ScoreCacheTTLSeconds) * time.Second
}

// DefaultFraudConfig returns the production constant tables.
func DefaultFraudConfig() FraudConfig {
	return FraudConfig{
		BlockThreshold:            0.8,
		ReviewThreshold:           0.5,
		VerifyThreshold:           0.3,
		MonitorThreshold:          0.2,
		CriticalSeverityThreshold: 0.8,
		HighSeverityThreshold:     0.6,
		NewAccountWeight:          0.1,
		UnverifiedEmailWeight:     0.1,
		UnverifiedPhoneWeight:     0.05,
		FirstTransactionWeight:    0.1,
		AddressMismatchWeight:     0.15,
		ReputationPenaltyWeight:   0.3,
		FailClosed:                false,
		DegradedBiasMinWeight:     0.3,
		SubCheckTimeoutMillis:     250,
		RuleCacheTTLSeconds:       60,
		ScoreCacheTTLSeconds:      30,
	}
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	fraud := DefaultFraudConfig()
	fraud.BlockThreshold = getEnvFloat("FRAUD_BLOCK_THRESHOLD", fraud.BlockThreshold)
	fraud.ReviewThreshold = getEnvFloat("FRAUD_REVIEW_THRESHOLD", fraud.ReviewThreshold)
	fraud.VerifyThreshold = getEnvFloat("FRAUD_VERIFY_THRESHOLD", fraud.VerifyThreshold)
	fraud.MonitorThreshold = getEnvFloat("FRAUD_MONITOR_THRESHOLD", fraud.MonitorThreshold)
	fraud.FailClosed = getEnvBool("FRAUD_FAIL_CLOSED", fraud.FailClosed)
	fraud.DegradedBiasMinWeight = getEnvFloat("FRAUD_DEGRADED_BIAS_MIN_WEIGHT", fraud.DegradedBiasMinWeight)
	fraud.SubCheckTimeoutMillis = getEnvInt("FRAUD_SUBCHECK_TIMEOUT_MS", fraud.SubCheckTimeoutMillis)
	fraud.RuleCacheTTLSeconds = getEnvInt("FRAUD_RULE_CACHE_TTL_SECONDS", fraud.RuleCacheTTLSeconds)
	fraud.ScoreCacheTTLSeconds = getEnvInt("FRAUD_SCORE_CACHE_TTL_SECONDS", fraud.ScoreCacheTTLSeconds)

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ServiceName:  serviceName,
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			CORSOrigins:  getEnv("CORS_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "fraudengine"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 25),
			MinConns: getEnvInt("DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", ""),
			Expiration: getEnvInt("JWT_EXPIRATION_HOURS", 24),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvBool("NATS_ENABLED", false),
		},
		Sentry: SentryConfig{
			DSN:     getEnv("SENTRY_DSN", ""),
			Enabled: getEnvBool("SENTRY_ENABLED", false),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 0.1),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getEnvBool("RATE_LIMIT_ENABLED", true),
			RedisPrefix:   getEnv("RATE_LIMIT_REDIS_PREFIX", "ratelimit:fraud"),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 3600),
		},
		Fraud: fraud,
	}

	if cfg.Server.Environment == "production" && cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required in production")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Codes    CodeConfig
	Sessions SessionConfig
	Password PasswordConfig
	Lockout  LockoutConfig
	Email    EmailConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ApplicationName   string
	StatementTimeout  time.Duration
	ConnectTimeout    time.Duration
	ConnectAttempts   int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	AllowedOrigins []string
	// Requests per minute per IP on unauthenticated endpoints
	PublicRateLimit int
	// Requests per minute per customer on session endpoints
	CustomerRateLimit int
}

type AuthConfig struct {
	JWTSecret            string
	SessionTokenExpiry   time.Duration
	CleanupInterval      time.Duration
	RequireVerifiedEmail bool
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
}

type CodeConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
	Retention      time.Duration
}

type SessionConfig struct {
	TokenHashCost    int
	RevokedRetention time.Duration
	IdleTimeout      time.Duration
	MaxAge           time.Duration
	TouchTimeout     time.Duration
}

type PasswordConfig struct {
	MinLength      int
	MaxLength      int
	MinScore       int
	HistoryDepth   int
	BreachEnabled  bool
	BreachAPIURL   string
	BreachTimeout  time.Duration
	BreachCacheTTL time.Duration
}

type LockoutConfig struct {
	Threshold        int
	Duration         time.Duration
	TrackBy          string // "email" or "ip"
	Multiplier       float64
	MaxDuration      time.Duration
	AttemptRetention time.Duration
}

type EmailConfig struct {
	Provider     string // "ses", "smtp" or "log"
	FromAddress  string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

type RedisConfig struct {
	URL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ApplicationName:   getEnv("DB_APPLICATION_NAME", "bastion"),
			StatementTimeout:  getEnvAsDuration("DB_STATEMENT_TIMEOUT", 15*time.Second),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			ConnectAttempts:   getEnvAsInt("DB_CONNECT_ATTEMPTS", 5),
		},
		Server: ServerConfig{
			Port:              getEnv("PORT", "8080"),
			Env:               env,
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:    getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS"),
			PublicRateLimit:   getEnvAsInt("PUBLIC_RATE_LIMIT_PER_MINUTE", 10),
			CustomerRateLimit: getEnvAsInt("CUSTOMER_RATE_LIMIT_PER_MINUTE", 60),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			SessionTokenExpiry:   getEnvAsDuration("SESSION_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			RequireVerifiedEmail: getEnvAsBool("REQUIRE_VERIFIED_EMAIL", true),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 400),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
		Codes: CodeConfig{
			TTL:            getEnvAsDuration("CODE_TTL", 15*time.Minute),
			MaxAttempts:    getEnvAsInt("CODE_MAX_ATTEMPTS", 3),
			ResendCooldown: getEnvAsDuration("CODE_RESEND_COOLDOWN", 60*time.Second),
			Retention:      getEnvAsDuration("CODE_RETENTION", 24*time.Hour),
		},
		Sessions: SessionConfig{
			TokenHashCost:    getEnvAsInt("SESSION_TOKEN_HASH_COST", 10),
			RevokedRetention: getEnvAsDuration("SESSION_REVOKED_RETENTION", 30*24*time.Hour),
			IdleTimeout:      getEnvAsDuration("SESSION_IDLE_TIMEOUT", 7*24*time.Hour),
			MaxAge:           getEnvAsDuration("SESSION_MAX_AGE", 90*24*time.Hour),
			TouchTimeout:     getEnvAsDuration("SESSION_TOUCH_TIMEOUT", 2*time.Second),
		},
		Password: PasswordConfig{
			MinLength:      getEnvAsInt("PASSWORD_MIN_LENGTH", 8),
			MaxLength:      getEnvAsInt("PASSWORD_MAX_LENGTH", 100),
			MinScore:       getEnvAsInt("PASSWORD_MIN_SCORE", 2),
			HistoryDepth:   getEnvAsInt("PASSWORD_HISTORY_DEPTH", 10),
			BreachEnabled:  getEnvAsBool("BREACH_CHECK_ENABLED", true),
			BreachAPIURL:   getEnv("BREACH_API_URL", "https://api.pwnedpasswords.com"),
			BreachTimeout:  getEnvAsDuration("BREACH_CHECK_TIMEOUT", 3*time.Second),
			BreachCacheTTL: getEnvAsDuration("BREACH_CACHE_TTL", 24*time.Hour),
		},
		Lockout: LockoutConfig{
			Threshold:        getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			Duration:         getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
			TrackBy:          getEnv("LOCKOUT_TRACK_BY", "email"),
			Multiplier:       getEnvAsFloat("LOCKOUT_MULTIPLIER", 1.5),
			MaxDuration:      getEnvAsDuration("LOCKOUT_MAX_DURATION", 1*time.Hour),
			AttemptRetention: getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 90*24*time.Hour),
		},
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "log"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", "no-reply@localhost"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Lockout.TrackBy {
	case "email", "ip":
	default:
		return fmt.Errorf("LOCKOUT_TRACK_BY must be \"email\" or \"ip\" (got %q)", c.Lockout.TrackBy)
	}

	switch c.Email.Provider {
	case "ses", "smtp", "log":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of ses, smtp, log (got %q)", c.Email.Provider)
	}
	if c.Email.Provider == "log" && c.Server.Env == "production" {
		return fmt.Errorf("EMAIL_PROVIDER=log is not allowed in production")
	}

	if c.Lockout.Threshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1")
	}
	if c.Codes.MaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be at least 1")
	}
	if c.Password.MinLength < 1 || c.Password.MaxLength < c.Password.MinLength {
		return fmt.Errorf("PASSWORD_MIN_LENGTH/PASSWORD_MAX_LENGTH are inconsistent")
	}
	if c.Server.PublicRateLimit < 1 || c.Server.CustomerRateLimit < 1 {
		return fmt.Errorf("rate limits must be at least 1 request per minute")
	}
	if c.Password.MinScore < 0 || c.Password.MinScore > 4 {
		return fmt.Errorf("PASSWORD_MIN_SCORE must be between 0 and 4")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Session lifetime policies understood by the RETS session manager.
const (
	SessionEphemeral = "ephemeral"
	SessionCached    = "cached"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	RETSLoginURL  string
	RETSUsername  string
	RETSPassword  string
	RETSUserAgent string
	RETSVersion   string

	MLSSystem       string
	MLSSearchType   string
	MLSClass        string
	SessionPolicy   string
	SessionTTL      time.Duration
	RequestTimeout  time.Duration
	RateLimitMs     int
	BreakerFailures int
	SearchLimit     int

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	ArchiveEnabled   bool

	MaxConcurrency int
	MaxRetries     int
	CSVOutputPath  string
	LogLevel       string
}

// Load reads the .env file and returns a populated Config struct. It does not
// validate; call Validate before any network use.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		RETSLoginURL:  getEnv("RETS_LOGIN_URL", ""),
		RETSUsername:  getEnv("RETS_USERNAME", ""),
		RETSPassword:  getEnv("RETS_PASSWORD", ""),
		RETSUserAgent: getEnv("RETS_USER_AGENT", "RentComps/1.0"),
		RETSVersion:   getEnv("RETS_VERSION", "RETS/1.8"),

		MLSSystem:       strings.ToLower(getEnv("MLS_SYSTEM", "reso")),
		MLSSearchType:   getEnv("MLS_SEARCH_TYPE", ""),
		MLSClass:        getEnv("MLS_CLASS", ""),
		SessionPolicy:   strings.ToLower(getEnv("MLS_SESSION_POLICY", SessionEphemeral)),
		SessionTTL:      getEnvDuration("MLS_SESSION_TTL", 25*time.Minute),
		RequestTimeout:  getEnvDuration("MLS_REQUEST_TIMEOUT", 30*time.Second),
		RateLimitMs:     getEnvInt("MLS_RATE_LIMIT_MS", 0),
		BreakerFailures: getEnvInt("MLS_BREAKER_FAILURES", 5),
		SearchLimit:     getEnvInt("MLS_SEARCH_LIMIT", 200),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "rentcomps"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "rentcomps"),
		PostgresDB:       getEnv("POSTGRES_DB", "rental_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		ArchiveEnabled:   getEnvBool("ARCHIVE_ENABLED", false),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		MaxRetries:     getEnvInt("MAX_RETRIES", 5),
		CSVOutputPath:  getEnv("CSV_OUTPUT_PATH", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the settings every RETS call depends on.
func (c *Config) Validate() error {
	var missing []string
	if c.RETSLoginURL == "" {
		missing = append(missing, "RETS_LOGIN_URL")
	}
	if c.RETSUsername == "" {
		missing = append(missing, "RETS_USERNAME")
	}
	if c.RETSPassword == "" {
		missing = append(missing, "RETS_PASSWORD")
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	switch c.SessionPolicy {
	case SessionEphemeral, SessionCached:
	default:
		return &ConfigurationError{Invalid: "MLS_SESSION_POLICY=" + c.SessionPolicy}
	}
	if c.SessionTTL <= 0 {
		return &ConfigurationError{Invalid: "MLS_SESSION_TTL must be positive"}
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("25m") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported datastore backends
const (
	DatastorePostgres = "postgres"
	DatastoreMySQL    = "mysql"
	DatastoreSQLite   = "sqlite"
	DatastoreRedis    = "redis"
)

// Config holds all application configuration.
// It is built once at startup and passed explicitly to the components
// that need it; nothing reads the environment after Load returns.
type Config struct {
	// Server configuration
	Port string

	// Logging
	LogLevel  string // debug, info, warn, error
	LogPretty bool   // console writer instead of JSON
	LogFile   string // optional file that receives a copy of every log line

	// Datastore configuration
	DatastoreType string // "postgres", "mysql", "sqlite" or "redis"
	DatabaseURL   string // postgres DSN
	MySQLDSN      string // mysql DSN
	SQLitePath    string // sqlite database file

	// Redis configuration (datastore and/or rate limiter)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Geolocation provider
	GeoAPIURL       string        // endpoint template, "{ip}" is replaced by the address
	GeoAPIToken     string        // optional bearer token
	GeoAPITimeout   time.Duration // upper bound for one provider call
	PublicIPURL     string        // used to resolve the public address of loopback callers
	ResolveLoopback bool

	// Rate limiting
	RateLimitType   string // "memory" or "redis"
	RateLimit       int    // number of requests allowed
	RateLimitWindow int    // time window in seconds

	// Batch import
	ImportConcurrency int
}

// Load reads configuration from environment variables
// with sensible defaults
func Load() *Config {
	// Load .env file if it exists (for local development)
	// In production/Docker, environment variables are set directly
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or defaults")
	}

	return FromEnv()
}

// FromEnv builds a Config from the current process environment without
// touching .env files.
func FromEnv() *Config {
	return &Config{
		Port: getEnv("PORT", "3000"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", true),
		LogFile:   getEnv("LOG_FILE", ""),

		DatastoreType: strings.ToLower(getEnv("DATASTORE_TYPE", DatastorePostgres)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MySQLDSN:      getEnv("MYSQL_DSN", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/ip_records.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		GeoAPIURL:       getEnv("GEO_API_URL", "https://ipinfo.io/{ip}/json"),
		GeoAPIToken:     getEnv("GEO_API_TOKEN", ""),
		GeoAPITimeout:   getEnvAsDuration("GEO_API_TIMEOUT", 5*time.Second),
		PublicIPURL:     getEnv("PUBLIC_IP_URL", "https://api.ipify.org"),
		ResolveLoopback: getEnvAsBool("RESOLVE_LOOPBACK", false),

		RateLimitType:   getEnv("RATE_LIMITER_TYPE", "memory"),
		RateLimit:       getEnvAsInt("RATE_LIMIT", 10),
		RateLimitWindow: getEnvAsInt("RATE_LIMIT_WINDOW", 1),

		ImportConcurrency: getEnvAsInt("IMPORT_CONCURRENCY", 4),
	}
}

// Validate reports the first configuration problem that would prevent the
// server from starting.
func (c *Config) Validate() error {
	switch c.DatastoreType {
	case DatastorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for datastore %q", c.DatastoreType)
		}
	case DatastoreMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for datastore %q", c.DatastoreType)
		}
	case DatastoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for datastore %q", c.DatastoreType)
		}
	case DatastoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for datastore %q", c.DatastoreType)
		}
	default:
		return fmt.Errorf("unknown datastore type: %s (supported: postgres, mysql, sqlite, redis)", c.DatastoreType)
	}

	if !strings.Contains(c.GeoAPIURL, "{ip}") {
		return fmt.Errorf("GEO_API_URL must contain the {ip} placeholder")
	}
	if c.GeoAPITimeout <= 0 {
		return fmt.Errorf("GEO_API_TIMEOUT must be positive, got %s", c.GeoAPITimeout)
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT and RATE_LIMIT_WINDOW must be positive")
	}
	if c.ImportConcurrency <= 0 {
		return fmt.Errorf("IMPORT_CONCURRENCY must be positive")
	}
	return nil
}

// DSN returns the connection string for the configured SQL backend.
func (c *Config) DSN() string {
	switch c.DatastoreType {
	case DatastoreMySQL:
		return c.MySQLDSN
	case DatastoreSQLite:
		return c.SQLitePath
	default:
		return c.DatabaseURL
	}
}

// RequestsPerSecond converts RATE_LIMIT per RATE_LIMIT_WINDOW into a rate.
// Example: 10 requests per 5 seconds = 2.0 req/s
func (c *Config) RequestsPerSecond() float64 {
	return float64(c.RateLimit) / float64(c.RateLimitWindow)
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt reads an environment variable as an integer
// Returns default if not set or invalid
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("5s", "1500ms") and plain
// integers, which are read as seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	// HTTP Server
	Port               string
	CORSAllowedOrigins []string

	// Storage
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// AMQP (empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Balance audit
	AuditEnabled     bool
	AuditInterval    time.Duration
	AuditConcurrency int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:*", "http://127.0.0.1:*"}),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/finance.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finance"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		AuditEnabled:     getEnvBool("AUDIT_ENABLED", true),
		AuditInterval:    getEnvDuration("AUDIT_INTERVAL", time.Hour),
		AuditConcurrency: getEnvInt("AUDIT_CONCURRENCY", 4),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendMemory, BackendSQLite, BackendPostgres}
	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite && c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
	}

	if c.DataBackend == BackendPostgres {
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid DATABASE_URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errs = append(errs, fmt.Sprintf("invalid DATABASE_URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.AuditEnabled {
		if c.AuditInterval < time.Second {
			errs = append(errs, fmt.Sprintf("invalid audit interval %v: must be at least 1 second", c.AuditInterval))
		} else if c.AuditInterval > 24*time.Hour {
			errs = append(errs, fmt.Sprintf("invalid audit interval %v: must be at most 24 hours", c.AuditInterval))
		}
	}
	if c.AuditConcurrency < 1 || c.AuditConcurrency > 64 {
		errs = append(errs, fmt.Sprintf("invalid audit concurrency %d: must be between 1 and 64", c.AuditConcurrency))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.LogLevel)) {
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.LogFormat)) {
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be text or json", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Store        StoreConfig
	Source       SourceConfig
	Intelligence IntelligenceConfig
	Scheduler    SchedulerConfig
	Jobs         []JobConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
}

type SourceConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	MaxAttempts     int
	BreakerFailures int
	BreakerCooldown time.Duration
}

type IntelligenceConfig struct {
	ReferenceBookmaker string
	ValueThreshold     float64
	UpcomingWindow     time.Duration
	Concurrency        int
}

type SchedulerConfig struct {
	// Locking guards jobs with Postgres advisory locks; only honoured with
	// the postgres store driver
	Locking      bool
	LockTimeout  time.Duration
	RunOnStartup []string
	HistorySize  int
}

// Load reads .env when present, then the environment, then the job specs
func Load() (*Config, error) {
	// Missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "edge"),
			Password: getEnv("DB_PASSWORD", "edge"),
			DBName:   getEnv("DB_NAME", "iddaa_edge"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "edge.db"),
		},
		Source: SourceConfig{
			BaseURL:         getEnv("SOURCE_BASE_URL", ""),
			APIKey:          getEnv("SOURCE_API_KEY", ""),
			Timeout:         getEnvAsDuration("SOURCE_TIMEOUT", 30*time.Second),
			MaxAttempts:     getEnvAsInt("SOURCE_MAX_ATTEMPTS", 3),
			BreakerFailures: getEnvAsInt("SOURCE_BREAKER_FAILURES", 5),
			BreakerCooldown: getEnvAsDuration("SOURCE_BREAKER_COOLDOWN", time.Minute),
		},
		Intelligence: IntelligenceConfig{
			ReferenceBookmaker: getEnv("REFERENCE_BOOKMAKER", "pinnacle"),
			ValueThreshold:     getEnvAsFloat("VALUE_THRESHOLD", 0),
			UpcomingWindow:     getEnvAsDuration("UPCOMING_WINDOW", 72*time.Hour),
			Concurrency:        getEnvAsInt("INTELLIGENCE_CONCURRENCY", 4),
		},
		Scheduler: SchedulerConfig{
			Locking:      getEnvAsBool("LOCKING", true),
			LockTimeout:  getEnvAsDuration("LOCK_TIMEOUT", 0),
			RunOnStartup: getEnvAsList("RUN_ON_STARTUP", []string{"full_sync"}),
			HistorySize:  getEnvAsInt("RUN_HISTORY_SIZE", 20),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	jobs, err := LoadJobs(os.Getenv("JOBS_CONFIG"))
	if err != nil {
		return nil, err
	}
	cfg.Jobs = jobs

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("SOURCE_BASE_URL is required")
	}
	if c.Intelligence.Concurrency <= 0 {
		return fmt.Errorf("INTELLIGENCE_CONCURRENCY must be positive")
	}
	return nil
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value; "none" yields an empty list
func getEnvAsList(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	if strings.EqualFold(strings.TrimSpace(value), "none") || strings.TrimSpace(value) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

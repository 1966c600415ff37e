package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Sending policy defaults, used when the stored profile is first
	// created. After that the profile row is authoritative.
	DailyLimit          int
	Timezone            string
	MaxAttempts         int
	RetryBackoffSec     int
	RetryBackoffCapSec  int
	InterUIDDelaySec    int
	HeartbeatTimeoutSec int

	// Automation agent config. Empty AgentURL selects the log worker,
	// which marks every send successful (development mode).
	AgentURL        string
	AgentTimeoutSec int

	// MessagesFile is a newline-delimited message pool. Empty falls back
	// to a single built-in greeting.
	MessagesFile string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "fbsender",
		DBPassword: "",
		DBName:     "fbsender",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		// Policy defaults
		DailyLimit:          50,
		Timezone:            "Local",
		MaxAttempts:         3,
		RetryBackoffSec:     60,
		RetryBackoffCapSec:  900,
		InterUIDDelaySec:    20,
		HeartbeatTimeoutSec: 300,

		AgentTimeoutSec: 90,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Sending policy
	if v := os.Getenv("DAILY_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid DAILY_LIMIT: %q", v)
		}
		cfg.DailyLimit = n
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}

	if v := os.Getenv("MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_ATTEMPTS: %q", v)
		}
		cfg.MaxAttempts = n
	}

	if v := os.Getenv("RETRY_BACKOFF_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF_SEC: %q", v)
		}
		cfg.RetryBackoffSec = n
	}

	if v := os.Getenv("RETRY_BACKOFF_CAP_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid RETRY_BACKOFF_CAP_SEC: %q", v)
		}
		cfg.RetryBackoffCapSec = n
	}

	if v := os.Getenv("INTER_UID_DELAY_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid INTER_UID_DELAY_SEC: %q", v)
		}
		cfg.InterUIDDelaySec = n
	}

	if v := os.Getenv("HEARTBEAT_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid HEARTBEAT_TIMEOUT_SEC: %q", v)
		}
		cfg.HeartbeatTimeoutSec = n
	}

	// Automation agent
	if url := os.Getenv("AGENT_URL"); url != "" {
		cfg.AgentURL = url
	}

	if v := os.Getenv("AGENT_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid AGENT_TIMEOUT_SEC: %q", v)
		}
		cfg.AgentTimeoutSec = n
	}

	if path := os.Getenv("MESSAGES_FILE"); path != "" {
		cfg.MessagesFile = path
	}

	return cfg, nil
}

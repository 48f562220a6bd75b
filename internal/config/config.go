package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort    string        `yaml:"server_port"`
	DatabaseURL   string        `yaml:"database_url"`
	RedisURL      string        `yaml:"redis_url"`
	NATSURL       string        `yaml:"nats_url"`
	NATSSubject   string        `yaml:"nats_subject"`
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	MaxBatchSize  int           `yaml:"max_batch_size"`
	PullLimit     int           `yaml:"pull_limit"`
	MigrationsDir string        `yaml:"migrations_dir"`
	LogLevel      string        `yaml:"log_level"`
}

// LoadConfig reads configuration from the environment, with an optional YAML
// file overlay pointed at by DRIFTSYNC_CONFIG. Environment values win over
// file values.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		NATSSubject:   "sync.changes",
		JWTExpiry:     24 * time.Hour,
		MaxBatchSize:  500,
		PullLimit:     500,
		MigrationsDir: "./migrations",
		LogLevel:      "info",
	}

	if path := os.Getenv("DRIFTSYNC_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if expiryStr := os.Getenv("JWT_EXPIRY"); expiryStr != "" {
		expiry, err := time.ParseDuration(expiryStr)
		if err != nil {
			return nil, errors.New("invalid JWT_EXPIRY format")
		}
		cfg.JWTExpiry = expiry
	}

	cfg.ServerPort = getEnv("SERVER_PORT", defaultStr(cfg.ServerPort, "8080"))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.MigrationsDir = getEnv("MIGRATIONS_DIR", cfg.MigrationsDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("MAX_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("invalid MAX_BATCH_SIZE")
		}
		cfg.MaxBatchSize = n
	}
	if v := os.Getenv("PULL_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.New("invalid PULL_LIMIT")
		}
		cfg.PullLimit = n
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultStr(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file configuration
const (
	EnvKernelAddr  = "KERNEL_ADDR"
	EnvGRPCPort    = "GRPC_PORT"
	EnvHTTPPort    = "HTTP_PORT"
	EnvRedisURL    = "REDIS_URL"
	EnvJournalPath = "JOURNAL_PATH"
	EnvNotebookID  = "NOTEBOOK_ID"
)

// DotEnvFile is read from the working directory when present
const DotEnvFile = ".env"

// Load builds a Config from defaults, an optional YAML file, an optional .env
// file and the process environment, in that order of precedence (last wins).
func Load(path string) (Config, error) {
	cfg := Default()

	if err := loadDotEnv(DotEnvFile); err != nil {
		return cfg, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// loadDotEnv applies path to the environment. A missing file is normal
// outside development.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvKernelAddr); v != "" {
		cfg.Channel.KernelAddr = v
	}
	if v := os.Getenv(EnvGRPCPort); v != "" {
		cfg.Kernel.GRPCPort = v
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		cfg.HTTPPort = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		cfg.Publisher.RedisURL = v
	}
	if v := os.Getenv(EnvJournalPath); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv(EnvNotebookID); v != "" {
		cfg.NotebookID = v
	}
}

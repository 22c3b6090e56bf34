// Package config loads the control plane's runtime configuration from the
// environment into a single immutable struct, constructed once at startup
// and passed by value into every component constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// UpdateStrategy selects how the Update Worker (C6) applies a queued update.
type UpdateStrategy string

const (
	UpdateStrategyFiles UpdateStrategy = "files"
	UpdateStrategyImage UpdateStrategy = "image"
)

// Config is the fully-resolved configuration for every process role
// (api-server, admission-worker, update-worker, reconciler, migrate).
type Config struct {
	DatabaseURL string

	LXDSocketPath       string
	LXDProject          string
	LXDBaseImage        string
	LXDOperationTimeout time.Duration
	LXDIPRetryAttempts  int
	LXDIPRetryDelay     time.Duration
	LXDDefaultProfiles  []string
	LXDNewBaseImage     string

	MaxRunningServers    int
	DefaultMCPortInternal int

	UpdateStrategy              UpdateStrategy
	IslandUpdateFileSourcePath string
	IslandUpdateFileTargetPath string
	UpdateWorkerMaxRetries     int
	UpdateWorkerPollInterval   time.Duration

	RedisURL     string
	RedisChannel string

	AdminAPIKey string

	ArchiveBucket string
	AWSRegion     string

	HTTPAddr string

	LogLevel  string
	LogFormat string
}

// Load reads environment variables with typed defaults matching SPEC_FULL §6.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		LXDSocketPath: os.Getenv("LXD_SOCKET_PATH"),
		LXDProject:    getEnv("LXD_PROJECT", "default"),
		LXDBaseImage:  os.Getenv("LXD_BASE_IMAGE"),

		MaxRunningServers:     getEnvInt("MAX_RUNNING_SERVERS", 10),
		DefaultMCPortInternal: getEnvInt("DEFAULT_MC_PORT_INTERNAL", 25565),

		UpdateStrategy:             UpdateStrategy(getEnv("UPDATE_STRATEGY", string(UpdateStrategyFiles))),
		IslandUpdateFileSourcePath: os.Getenv("ISLAND_UPDATE_FILE_SOURCE_PATH"),
		IslandUpdateFileTargetPath: os.Getenv("ISLAND_UPDATE_FILE_TARGET_PATH"),
		UpdateWorkerMaxRetries:     getEnvInt("UPDATE_WORKER_MAX_RETRIES", 3),
		UpdateWorkerPollInterval:  time.Duration(getEnvInt("UPDATE_WORKER_POLL_INTERVAL", 10)) * time.Second,
		LXDNewBaseImage:           os.Getenv("LXD_NEW_BASE_IMAGE"),

		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisChannel: getEnv("REDIS_CHANNEL", "islandctl.events"),

		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),

		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	cfg.LXDOperationTimeout = time.Duration(getEnvInt("LXD_OPERATION_TIMEOUT", 30)) * time.Second
	cfg.LXDIPRetryAttempts = getEnvInt("LXD_IP_RETRY_ATTEMPTS", 10)
	cfg.LXDIPRetryDelay = time.Duration(getEnvInt("LXD_IP_RETRY_DELAY", 3)) * time.Second
	cfg.LXDDefaultProfiles = splitCSV(getEnv("LXD_DEFAULT_PROFILES", "default,skyblock"))

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.UpdateStrategy != UpdateStrategyFiles && cfg.UpdateStrategy != UpdateStrategyImage {
		return Config{}, fmt.Errorf("config: UPDATE_STRATEGY must be %q or %q, got %q", UpdateStrategyFiles, UpdateStrategyImage, cfg.UpdateStrategy)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

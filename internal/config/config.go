package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// AppConfig holds the complete application configuration.
type AppConfig struct {
	DataPath     string
	FeedDir      string
	CacheDir     string
	LogDir       string
	DBPath       string
	RewardsFile  string
	DraftBatches []string
	Workers      int
}

// Load loads the configuration from .env files and environment variables.
func Load() (*AppConfig, error) {
	// 1. Executable directory first, so an installed binary carries its own settings
	exePath, err := os.Executable()
	exeDir := ""
	if err == nil {
		exeDir = filepath.Dir(exePath)
		envPath := filepath.Join(exeDir, ".env")
		if err := godotenv.Load(envPath); err == nil {
			log.Debug().Str("path", envPath).Msg("Loaded configuration from binary directory")
		}
	}

	// 2. Fallback to current working directory
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found in working directory, relying on environment variables or binary-relative .env")
	}

	// 3. Resolve data paths
	dataPath := os.Getenv("DATA_PATH")
	if dataPath == "" {
		if exeDir != "" {
			dataPath = exeDir
		} else {
			dataPath = "."
		}
	}

	cfg := &AppConfig{
		DataPath:     dataPath,
		FeedDir:      getEnv("FEED_DIR", filepath.Join(dataPath, "feeds")),
		CacheDir:     filepath.Join(dataPath, "cache"),
		LogDir:       filepath.Join(dataPath, "logs"),
		DBPath:       getEnv("DB_PATH", filepath.Join(dataPath, "rollups.db")),
		RewardsFile:  getEnv("REWARDS_FILE", filepath.Join(dataPath, "rewards.yaml")),
		DraftBatches: getEnvList("DRAFT_BATCHES"),
		Workers:      getEnvInt("RECOMPUTE_WORKERS", runtime.NumCPU()),
	}

	for _, dir := range []string{cfg.FeedDir, cfg.CacheDir, cfg.LogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to create directory")
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
		log.Warn().Str("key", key).Str("value", value).Msg("Ignoring invalid integer setting")
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

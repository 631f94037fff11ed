package config

import (
	"os"
	"path/filepath"
	"testing"
)

// unsetEnv clears key for the duration of the test so a .env file can set it.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_DotEnvQuotedValues(t *testing.T) {
	for _, key := range []string{"DATA_PATH", "FEED_DIR", "DB_PATH", "REWARDS_FILE", "DRAFT_BATCHES", "RECOMPUTE_WORKERS"} {
		unsetEnv(t, key)
	}

	dir := t.TempDir()
	dataPath := filepath.Join(dir, "perf data")
	rewards := filepath.Join(dir, "rewards v2.yaml")
	content := "DATA_PATH=\"" + dataPath + "\"\n" +
		"REWARDS_FILE='" + rewards + "'\n" +
		"DRAFT_BATCHES=\"draft 1, qa #2\"\n" +
		"RECOMPUTE_WORKERS=2\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataPath != dataPath {
		t.Errorf("DataPath = %q, want %q", cfg.DataPath, dataPath)
	}
	if cfg.RewardsFile != rewards {
		t.Errorf("RewardsFile = %q, want %q", cfg.RewardsFile, rewards)
	}
	if len(cfg.DraftBatches) != 2 || cfg.DraftBatches[0] != "draft 1" || cfg.DraftBatches[1] != "qa #2" {
		t.Errorf("DraftBatches = %q", cfg.DraftBatches)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want 2", cfg.Workers)
	}
	if cfg.DBPath != filepath.Join(dataPath, "rollups.db") {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
}

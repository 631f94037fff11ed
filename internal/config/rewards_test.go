package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseRewards(t *testing.T) {
	data := []byte(`
version: 1
default:
  new_hours: 1.5
  rework_hours: 0.75
  max_rewarded_rework: 2
projects:
  P1:
    new_hours: 3
    rework_hours: 1
    max_rewarded_rework: 1
`)

	r, err := ParseRewards(data)
	if err != nil {
		t.Fatalf("ParseRewards failed: %v", err)
	}

	p1, ok := r.For("P1")
	if !ok || p1.NewHours != 3 || p1.ReworkHours != 1 || p1.MaxRewardedRework != 1 {
		t.Errorf("unexpected P1 reward: %+v (configured %v)", p1, ok)
	}
	other, ok := r.For("P9")
	if ok {
		t.Errorf("P9 must fall back to the default")
	}
	if other.NewHours != 1.5 || other.MaxRewardedRework != 2 {
		t.Errorf("unexpected fallback reward: %+v", other)
	}
	if r.Version() != RewardFileVersion {
		t.Errorf("Version() = %d, want %d", r.Version(), RewardFileVersion)
	}
}

func TestParseRewards_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "unknown top-level key",
			data: "version: 1\nbonus: 3\n",
			want: "schema",
		},
		{
			name: "unknown project key",
			data: "version: 1\nprojects:\n  P1:\n    new_hours: 1\n    rework_hours: 1\n    max_rewarded_rework: 1\n    overtime: 2\n",
			want: "schema",
		},
		{
			name: "wrong type",
			data: "version: 1\ndefault:\n  new_hours: lots\n  rework_hours: 1\n  max_rewarded_rework: 1\n",
			want: "schema",
		},
		{
			name: "unsupported version",
			data: "version: 2\n",
			want: "version",
		},
		{
			name: "negative hours",
			data: "version: 1\ndefault:\n  new_hours: -1\n  rework_hours: 1\n  max_rewarded_rework: 1\n",
			want: "negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRewards([]byte(tt.data))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadRewards_MissingFileUsesDefaults(t *testing.T) {
	r, err := LoadRewards(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRewards failed: %v", err)
	}
	got, ok := r.For("anything")
	if ok || got != DefaultReward {
		t.Errorf("expected the global default, got %+v", got)
	}
	if DefaultReward.NewHours != 1.0 || DefaultReward.ReworkHours != 0.5 || DefaultReward.MaxRewardedRework != 1 {
		t.Errorf("unexpected built-in default: %+v", DefaultReward)
	}
}

func TestLoad_Environment(t *testing.T) {
	dataPath := t.TempDir()
	t.Setenv("DATA_PATH", dataPath)
	t.Setenv("DRAFT_BATCHES", " draft-1, ,draft-2")
	t.Setenv("RECOMPUTE_WORKERS", "3")
	t.Setenv("DB_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FeedDir != filepath.Join(dataPath, "feeds") {
		t.Errorf("FeedDir = %s", cfg.FeedDir)
	}
	if cfg.DBPath != filepath.Join(dataPath, "rollups.db") {
		t.Errorf("DBPath = %s", cfg.DBPath)
	}
	if len(cfg.DraftBatches) != 2 || cfg.DraftBatches[0] != "draft-1" || cfg.DraftBatches[1] != "draft-2" {
		t.Errorf("DraftBatches = %v", cfg.DraftBatches)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if _, err := os.Stat(cfg.CacheDir); err != nil {
		t.Errorf("cache directory not created: %v", err)
	}
}

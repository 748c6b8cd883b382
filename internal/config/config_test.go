package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "calevents.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:8080" {
		t.Fatalf("default listen mismatch: %q", cfg.Listen)
	}
	if cfg.MaxOccurrencesPerEvent != 5000 {
		t.Fatalf("default cap mismatch: %d", cfg.MaxOccurrencesPerEvent)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("config perms: got %o want 600", perm)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calevents.yaml")
	content := "listen: 0.0.0.0:9000\ntimezone: Asia/Seoul\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen not honored: %q", cfg.Listen)
	}
	if cfg.Timezone != "Asia/Seoul" {
		t.Fatalf("timezone not honored: %q", cfg.Timezone)
	}
	if cfg.FeedHorizonDays != 90 || cfg.FeedRefresh == "" {
		t.Fatalf("defaults not filled in: %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calevents.yaml")

	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:9999"
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "secret"}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Listen != cfg.Listen {
		t.Fatalf("listen round trip: %q", loaded.Listen)
	}
	if loaded.BasicAuth == nil || loaded.BasicAuth.Username != "admin" {
		t.Fatalf("basic auth round trip: %+v", loaded.BasicAuth)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("empty path accepted")
	}
}

package appconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad_CreatesDefaultsWhenAbsent(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultQueue != "~/.tej" {
		t.Fatalf("unexpected default queue: %s", cfg.DefaultQueue)
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("unexpected default timeout: %s", cfg.ConnectTimeout)
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := Config{
		DefaultQueue:     "/srv/shared/queue",
		DefaultRuntime:   "pbs",
		ConnectTimeout:   30 * time.Second,
		AcceptedRuntimes: []string{"pbs", "default"},
		Verbosity:        2,
	}
	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, cfg)
	}
}

func TestLoad_NormalizesZeroedFields(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "tej")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("verbosity: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultQueue != "~/.tej" {
		t.Fatalf("expected normalized default queue, got %s", cfg.DefaultQueue)
	}
	if cfg.ConnectTimeout != 15*time.Second {
		t.Fatalf("expected normalized timeout, got %s", cfg.ConnectTimeout)
	}
	if cfg.Verbosity != 1 {
		t.Fatalf("expected explicit verbosity preserved, got %d", cfg.Verbosity)
	}
}

func TestConfigDir_FallsBackToDotConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != filepath.Join(home, ".config", "tej") {
		t.Fatalf("unexpected config dir: %s", dir)
	}
}

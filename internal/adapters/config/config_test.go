package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/mikey-austin/summarist/internal/adapters/docstore"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Search.QuietMS != 300 {
		t.Fatalf("expected default quiet 300, got %d", cfg.Search.QuietMS)
	}
	if cfg.Store.Backend != docstore.BackendFile {
		t.Fatalf("expected file backend, got %q", cfg.Store.Backend)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[user]
id = "u1"

[store]
backend = "sqlite"
path = "/tmp/lib.db"

[search]
quiet_ms = 150

[remote]
player_id = "kitchen"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.User.ID != "u1" || cfg.Remote.PlayerID != "kitchen" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Core().SearchQuiet != 150*time.Millisecond {
		t.Fatalf("unexpected quiet: %v", cfg.Core().SearchQuiet)
	}
	if cfg.Remote.Broker != "tcp://localhost:1883" {
		t.Fatalf("expected default broker kept, got %q", cfg.Remote.Broker)
	}
	store, err := cfg.DocumentStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if store.Backend != docstore.BackendSQLite || store.Path != "/tmp/lib.db" {
		t.Fatalf("unexpected store config: %+v", store)
	}
}

func TestLoadFileRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[store]\nbackend = \"mongo\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOverlayAppliesSetKeysOnly(t *testing.T) {
	cfg := Default()
	cfg.User.ID = "from-file"
	cfg.Remote.PlayerID = "den"

	v := viper.New()
	v.Set("user", "from-flag")
	v.Set("json", true)
	v.Set("search-quiet", "50ms")

	if err := cfg.Overlay(v); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if cfg.User.ID != "from-flag" {
		t.Fatalf("expected flag user, got %q", cfg.User.ID)
	}
	if cfg.Remote.PlayerID != "den" {
		t.Fatalf("expected file player kept, got %q", cfg.Remote.PlayerID)
	}
	if cfg.Output.Format != "json" {
		t.Fatalf("expected json output, got %q", cfg.Output.Format)
	}
	if cfg.Search.QuietMS != 50 {
		t.Fatalf("expected quiet 50, got %d", cfg.Search.QuietMS)
	}
}

func TestOverlayReadsEnvironment(t *testing.T) {
	t.Setenv("SUMMARIST_STORE", "redis")
	t.Setenv("SUMMARIST_STORE_URL", "localhost:6379")

	v := viper.New()
	BindEnv(v)

	cfg := Default()
	if err := cfg.Overlay(v); err != nil {
		t.Fatalf("overlay: %v", err)
	}
	if cfg.Store.Backend != docstore.BackendRedis || cfg.Store.URL != "localhost:6379" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
}

func TestDataDirUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	cfg := Default()
	store, err := cfg.DocumentStore()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if store.Path != filepath.Join(dir, "summarist", "library") {
		t.Fatalf("unexpected path %q", store.Path)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SUMMARIST_PLAYER=attic\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SUMMARIST_PLAYER", "")
	os.Unsetenv("SUMMARIST_PLAYER")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("SUMMARIST_PLAYER"); got != "attic" {
		t.Fatalf("expected attic, got %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("missing env file: %v", err)
	}
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowsync/internal/platform/config"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Canvas.CursorIdle != 10*time.Second {
		t.Fatalf("unexpected cursor idle: %v", cfg.Canvas.CursorIdle)
	}
	if cfg.Store.Backend != config.StoreNone {
		t.Fatalf("unexpected backend: %s", cfg.Store.Backend)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "flowsync.yaml")
	raw := "log_level: debug\nstore:\n  backend: bolt\n  path: /tmp/rooms.db\nrelay:\n  listen: \":9000\"\ncanvas:\n  cursor_idle: 5s\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Store.Backend != config.StoreBolt || cfg.Store.Path != "/tmp/rooms.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Relay.Listen != ":9000" || cfg.Canvas.CursorIdle != 5*time.Second {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Client.MaxBackoff != 30*time.Second {
		t.Fatalf("untouched default lost: %v", cfg.Client.MaxBackoff)
	}
}

func TestValidateRejectsIncompleteBackends(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Store.Backend = config.StorePostgres
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected dsn error")
	}
	cfg.Store.Backend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}

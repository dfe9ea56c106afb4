package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:5000" {
		t.Errorf("unexpected listen default %q", cfg.Server.Listen)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("unexpected driver default %q", cfg.Database.Driver)
	}
	if cfg.Realtime.SendBuffer != 64 {
		t.Errorf("unexpected send buffer %d", cfg.Realtime.SendBuffer)
	}
	if !cfg.Recurring.Enabled || cfg.Recurring.RunAt != "00:00" {
		t.Errorf("unexpected recurring defaults %+v", cfg.Recurring)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  listen: ":9000"
database:
  driver: sqlite
  path: /tmp/x.db
realtime:
  send_buffer: 8
  ping_interval: 5s
recurring:
  run_at: "06:30"
  timezone: UTC
  clamp_month_end: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Realtime.SendBuffer != 8 || cfg.Realtime.PingInterval != 5*time.Second {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
	h, m, err := cfg.Recurring.RunAtClock()
	if err != nil || h != 6 || m != 30 {
		t.Errorf("run_at parsed as %d:%d (%v)", h, m, err)
	}
	loc, err := cfg.Recurring.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("location = %v (%v)", loc, err)
	}
	if !cfg.Recurring.ClampMonthEnd {
		t.Error("expected clamp_month_end true")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TASKPULSE_SERVER_LISTEN", ":7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":7777" {
		t.Errorf("env override ignored, listen = %q", cfg.Server.Listen)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	bad := *cfg
	bad.Database.Driver = "mongo"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}

	bad = *cfg
	bad.Database.Driver = "postgres"
	bad.Database.URL = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for postgres without url")
	}

	bad = *cfg
	bad.Recurring.RunAt = "midnight"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for malformed run_at")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.Server.Listen = ":8123"
	cfg.Database.Path = filepath.Join(t.TempDir(), "db.sqlite")

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	back, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if back.Server.Listen != ":8123" {
		t.Errorf("listen after round trip = %q", back.Server.Listen)
	}
}

package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(lookupFrom(nil), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.ListenAddr != ":3002" {
		t.Errorf("ListenAddr = %q, want :3002", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Errorf("Mode = %q, want dev", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatText {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.AdmissionBurst != 100 || cfg.AdmissionRefillWindow != time.Minute {
		t.Errorf("admission defaults = (%d, %s), want (100, 1m)", cfg.AdmissionBurst, cfg.AdmissionRefillWindow)
	}
	if cfg.SessionStaleTimeout != 5*time.Minute || cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("reaper defaults = (%s, %s), want (5m, 5m)", cfg.SessionStaleTimeout, cfg.ReaperInterval)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins = %v, want empty", cfg.AllowedOrigins)
	}
}

func TestLoad_PortAndListenAddr(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"PORT": "4000"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":4000" {
		t.Errorf("ListenAddr = %q, want :4000", cfg.ListenAddr)
	}

	// Explicit listen addr wins over PORT.
	cfg, err = load(lookupFrom(map[string]string{
		"PORT":                     "4000",
		"SIGNAL_RELAY_LISTEN_ADDR": "127.0.0.1:9000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:9000", cfg.ListenAddr)
	}

	if _, err := load(lookupFrom(map[string]string{"PORT": "notaport"}), nil); err == nil {
		t.Fatalf("expected error for invalid PORT")
	}
}

func TestLoad_ProdModeDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"SIGNAL_RELAY_MODE": "prod"}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Errorf("LogFormat = %q, want json in prod", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info in prod", cfg.LogLevel)
	}
}

func TestLoad_CORSOrigins(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"CORS_ORIGINS": "https://app.example.com, http://localhost:3000",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"https://app.example.com", "http://localhost:3000"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %q, want %q", i, cfg.AllowedOrigins[i], want[i])
		}
	}

	if _, err := load(lookupFrom(map[string]string{"CORS_ORIGINS": "not-an-origin"}), nil); err == nil {
		t.Fatalf("expected error for malformed origin")
	}
}

func TestLoad_FlagOverrides(t *testing.T) {
	cfg, err := load(lookupFrom(nil), []string{"-listen-addr", ":8123", "-mode", "prod", "-log-level", "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8123" {
		t.Errorf("ListenAddr = %q, want :8123", cfg.ListenAddr)
	}
	if cfg.Mode != ModeProd {
		t.Errorf("Mode = %q, want prod", cfg.Mode)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
}

func TestLoad_InvalidDurations(t *testing.T) {
	if _, err := load(lookupFrom(map[string]string{"SESSION_STALE_TIMEOUT": "-1m"}), nil); err == nil {
		t.Fatalf("expected error for negative stale timeout")
	}
	if _, err := load(lookupFrom(map[string]string{"REAPER_INTERVAL": "bogus"}), nil); err == nil {
		t.Fatalf("expected error for unparseable interval")
	}
}

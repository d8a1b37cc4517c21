package app

import (
	"errors"
	"testing"
	"time"

	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/provision"
	"github.com/tita-n/titan-whatsapp-bot-sub000/cmd/internal/recovery"
)

func clearTitanEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TITAN_HTTP_ADDR", "TITAN_LOG_LEVEL", "TITAN_LOG_FORMAT", "TITAN_AUTH_DIR", "TITAN_SESSION_ID",
		"TITAN_LINK_WORK_ROOT", "TITAN_LINK_SESSION_TIMEOUT", "TITAN_LINK_SWEEP_INTERVAL",
		"TITAN_LINK_PAIRING_READY_TIMEOUT", "TITAN_BRIDGE_URL", "TITAN_BRIDGE_BROWSER",
		"TITAN_FAULT_MARKERS", "TITAN_PRIMARY_ENABLED", "TITAN_PRIMARY_RECONNECT_DELAY",
		"TITAN_DATABASE_URL", "TITAN_DB_MAX_CONNS", "TITAN_DB_MIN_CONNS", "TITAN_AUDIT_SCHEMA", "TITAN_METRICS_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearTitanEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.AuthDir != "./auth_info" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.PrimaryEnabled || !cfg.MetricsEnabled {
		t.Fatalf("primary and metrics are on by default")
	}
	if len(cfg.FaultMarkers) != len(recovery.DefaultMarkers) {
		t.Fatalf("expected default markers, got %v", cfg.FaultMarkers)
	}
	if cfg.Link.SessionTimeout != 5*time.Minute || cfg.AuditSchema != "titan" {
		t.Fatalf("unexpected link config %+v", cfg.Link)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	clearTitanEnv(t)
	t.Setenv("TITAN_SESSION_ID", "TITAN:e30=")
	t.Setenv("TITAN_FAULT_MARKERS", "bad mac, stream errored")
	t.Setenv("TITAN_BRIDGE_URL", "ws://127.0.0.1:9000/link")
	t.Setenv("TITAN_BRIDGE_BROWSER", "Titan, Safari ,")
	t.Setenv("TITAN_PRIMARY_ENABLED", "false")
	t.Setenv("TITAN_DB_MAX_CONNS", "4")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SessionToken != "TITAN:e30=" || cfg.PrimaryEnabled || cfg.DBMaxConns != 4 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.FaultMarkers) != 2 || cfg.FaultMarkers[1] != "stream errored" {
		t.Fatalf("unexpected markers %v", cfg.FaultMarkers)
	}
	if len(cfg.Bridge.Browser) != 2 || cfg.Bridge.Browser[1] != "Safari" {
		t.Fatalf("unexpected browser %v", cfg.Bridge.Browser)
	}
}

func TestLoadConfig_InvalidLinkConfig(t *testing.T) {
	clearTitanEnv(t)
	t.Setenv("TITAN_LINK_SWEEP_INTERVAL", "1h")

	_, err := LoadConfig()
	if !errors.Is(err, ErrConfig) || !errors.Is(err, provision.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "nope")
	t.Setenv("X_INT", "-3")
	t.Setenv("X_INT32", "7")
	t.Setenv("X_DUR", "250ms")
	t.Setenv("X_LIST", " , ")

	if !EnvBool("X_BOOL", true) {
		t.Fatalf("unparsable bool must fall back")
	}
	if EnvInt("X_INT", 9) != 9 {
		t.Fatalf("negative int must fall back")
	}
	if EnvInt32("X_INT32", 0) != 7 {
		t.Fatalf("EnvInt32 mismatch")
	}
	if EnvDuration("X_DUR", time.Second) != 250*time.Millisecond {
		t.Fatalf("EnvDuration mismatch")
	}
	if got := EnvList("X_LIST", []string{"d"}); len(got) != 1 || got[0] != "d" {
		t.Fatalf("empty list must fall back, got %v", got)
	}
}

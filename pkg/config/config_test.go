package config

import (
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for LoadConfig to pass
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GATE_POSTGRES_URL", "postgres://localhost/accessgate?sslmode=disable")
	t.Setenv("GATE_OIDC_ISSUER_URL", "https://id.till.example")
	t.Setenv("GATE_OIDC_CLIENT_ID", "accessgate")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" || cfg.Server.HealthPort != "9090" {
		t.Errorf("Unexpected server ports: %s/%s", cfg.Server.Port, cfg.Server.HealthPort)
	}
	if cfg.Gate.PollInterval != time.Second {
		t.Errorf("Expected 1s poll interval, got %v", cfg.Gate.PollInterval)
	}
	if cfg.Gate.MaxWait != 8*time.Second {
		t.Errorf("Expected 8s max wait, got %v", cfg.Gate.MaxWait)
	}
	if cfg.Gate.GraceMaxWait != 15*time.Second || cfg.Gate.GraceTTL != 15*time.Second {
		t.Errorf("Unexpected grace windows: %v/%v", cfg.Gate.GraceMaxWait, cfg.Gate.GraceTTL)
	}
	if cfg.Gate.DecisionCacheSize != 4096 {
		t.Errorf("Expected 4096 cache size, got %d", cfg.Gate.DecisionCacheSize)
	}
	if cfg.Identity.OperatorClaim != "operator" {
		t.Errorf("Expected operator claim default, got %q", cfg.Identity.OperatorClaim)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATE_POLL_INTERVAL", "500ms")
	t.Setenv("GATE_MAX_WAIT", "4s")
	t.Setenv("GATE_GRACE_MAX_WAIT", "10s")
	t.Setenv("GATE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gate.PollInterval != 500*time.Millisecond || cfg.Gate.MaxWait != 4*time.Second {
		t.Errorf("Overrides not applied: %v/%v", cfg.Gate.PollInterval, cfg.Gate.MaxWait)
	}
}

func TestLoadConfigRequiresDatabase(t *testing.T) {
	t.Setenv("GATE_OIDC_ISSUER_URL", "https://id.till.example")
	t.Setenv("GATE_OIDC_CLIENT_ID", "accessgate")
	t.Setenv("GATE_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error without postgres URL")
	}
}

func TestValidateRejectsInconsistentWindows(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATE_MAX_WAIT", "500ms")
	t.Setenv("GATE_POLL_INTERVAL", "1s")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error when max wait is under one poll interval")
	}

	t.Setenv("GATE_POLL_INTERVAL", "1s")
	t.Setenv("GATE_MAX_WAIT", "8s")
	t.Setenv("GATE_GRACE_MAX_WAIT", "2s")
	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error when grace window is under the base window")
	}
}

func TestValidateRejectsPortClash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("GATE_PORT", "9000")
	t.Setenv("GATE_HEALTH_PORT", "9000")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error for identical API and health ports")
	}
}

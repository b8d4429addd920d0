package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DBPath != "./data/specdesk.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 || cfg.RateLimit.WindowDuration != time.Minute {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Reconcile.PollInterval != 100*time.Millisecond || cfg.Reconcile.Timeout != 10*time.Second {
		t.Errorf("Reconcile = %+v", cfg.Reconcile)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("AGENT_ENDPOINT", "http://agent:8090")
	t.Setenv("RATE_LIMIT_REQUESTS", "3")
	t.Setenv("RECONCILE_TIMEOUT", "2s")
	t.Setenv("SSE_KEEPALIVE_INTERVAL", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.AgentEndpoint != "http://agent:8090" {
		t.Errorf("AgentEndpoint = %q", cfg.AgentEndpoint)
	}
	if cfg.RateLimit.RequestsPerWindow != 3 {
		t.Errorf("RateLimit.RequestsPerWindow = %d", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Reconcile.Timeout != 2*time.Second {
		t.Errorf("Reconcile.Timeout = %v", cfg.Reconcile.Timeout)
	}
	if cfg.SSE.KeepaliveInterval != 30*time.Second {
		t.Errorf("SSE.KeepaliveInterval = %v", cfg.SSE.KeepaliveInterval)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_REQUESTS", "lots")
	t.Setenv("RECONCILE_TIMEOUT", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 {
		t.Errorf("RateLimit.RequestsPerWindow = %d, want fallback 10", cfg.RateLimit.RequestsPerWindow)
	}
	if cfg.Reconcile.Timeout != 10*time.Second {
		t.Errorf("Reconcile.Timeout = %v, want fallback 10s", cfg.Reconcile.Timeout)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("PORT", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded with empty PORT")
	}

	t.Setenv("PORT", "8080")
	t.Setenv("AGENT_ENDPOINT", "")
	if _, err := Load(); err == nil {
		t.Error("Load succeeded with empty AGENT_ENDPOINT")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: ""}
	if !cfg.IsDevelopment() {
		t.Error("empty FrontendURL should be development")
	}
	cfg.FrontendURL = "http://localhost:3000"
	if !cfg.IsDevelopment() {
		t.Error("localhost FrontendURL should be development")
	}
	cfg.FrontendURL = "https://specdesk.example.com"
	if cfg.IsDevelopment() {
		t.Error("production FrontendURL should not be development")
	}
}

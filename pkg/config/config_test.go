package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidate_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name: "server address must not be empty",
			mutate: func(c *Config) {
				c.Server.Address = ""
			},
		},
		{
			name: "signal ping interval must be > 0",
			mutate: func(c *Config) {
				c.Signal.PingInterval = 0
			},
		},
		{
			name: "session grace must be > 0",
			mutate: func(c *Config) {
				c.Signal.SessionGrace = 0
			},
		},
		{
			name: "engine ws url required when detection enabled",
			mutate: func(c *Config) {
				c.Detection.EngineWebSocketURL = ""
			},
		},
		{
			name: "confidence threshold must be in range",
			mutate: func(c *Config) {
				c.Detection.ConfidenceThreshold = 1.5
			},
		},
		{
			name: "jpeg quality must be in range",
			mutate: func(c *Config) {
				c.Detection.JPEGQuality = 0
			},
		},
		{
			name: "rate limiting rps must be > 0 when enabled",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.RequestsPerSecond = 0
			},
		},
		{
			name: "tracing endpoint required when enabled",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.JaegerEndpoint = ""
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default server address, got %q", cfg.Server.Address)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  address: \":9000\"\ndetection:\n  confidence_threshold: 0.5\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("expected overridden address, got %q", cfg.Server.Address)
	}
	if cfg.Detection.ConfidenceThreshold != 0.5 {
		t.Fatalf("expected overridden threshold, got %v", cfg.Detection.ConfidenceThreshold)
	}
	// Untouched fields keep defaults.
	if cfg.Detection.TargetWidth != 320 {
		t.Fatalf("expected default target width, got %d", cfg.Detection.TargetWidth)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LENSLINK_SERVER_ADDRESS", ":7777")
	t.Setenv("LENSLINK_DETECTION_ENABLED", "false")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":7777" {
		t.Fatalf("expected env-overridden address, got %q", cfg.Server.Address)
	}
	if cfg.Detection.Enabled {
		t.Fatal("expected detection disabled via env override")
	}
}

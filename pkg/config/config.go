package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		SessionGrace time.Duration `yaml:"session_grace"`
	} `yaml:"signal"`

	Detection struct {
		Enabled             bool          `yaml:"enabled"`
		EngineWebSocketURL  string        `yaml:"engine_websocket_url"`
		EngineHTTPURL       string        `yaml:"engine_http_url"`
		RequestTimeout      time.Duration `yaml:"request_timeout"`
		FrameInterval       time.Duration `yaml:"frame_interval"`
		ConfidenceThreshold float64       `yaml:"confidence_threshold"`
		HealthInterval      time.Duration `yaml:"health_interval"`
		TargetWidth         int           `yaml:"target_width"`
		TargetHeight        int           `yaml:"target_height"`
		JPEGQuality         int           `yaml:"jpeg_quality"`
	} `yaml:"detection"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		ServiceName    string  `yaml:"service_name"`
		SampleRate     float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}
	if c.Signal.SessionGrace <= 0 {
		return fmt.Errorf("signal.session_grace must be > 0")
	}

	// Detection
	if c.Detection.Enabled {
		if c.Detection.EngineWebSocketURL == "" {
			return fmt.Errorf("detection.engine_websocket_url must not be empty when detection.enabled=true")
		}
		if c.Detection.EngineHTTPURL == "" {
			return fmt.Errorf("detection.engine_http_url must not be empty when detection.enabled=true")
		}
		if c.Detection.RequestTimeout <= 0 {
			return fmt.Errorf("detection.request_timeout must be > 0")
		}
		if c.Detection.FrameInterval < 0 {
			return fmt.Errorf("detection.frame_interval must be >= 0")
		}
		if c.Detection.ConfidenceThreshold < 0 || c.Detection.ConfidenceThreshold > 1 {
			return fmt.Errorf("detection.confidence_threshold must be in [0,1]")
		}
		if c.Detection.TargetWidth <= 0 || c.Detection.TargetHeight <= 0 {
			return fmt.Errorf("detection.target_width and target_height must be > 0")
		}
		if c.Detection.JPEGQuality <= 0 || c.Detection.JPEGQuality > 100 {
			return fmt.Errorf("detection.jpeg_quality must be in (0,100]")
		}
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ReadTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.SessionGrace = 5 * time.Minute

	cfg.Detection.Enabled = true
	cfg.Detection.EngineWebSocketURL = "ws://localhost:5000/ws"
	cfg.Detection.EngineHTTPURL = "http://localhost:5000"
	cfg.Detection.RequestTimeout = 5 * time.Second
	cfg.Detection.FrameInterval = 150 * time.Millisecond
	cfg.Detection.ConfidenceThreshold = 0.25
	cfg.Detection.HealthInterval = 10 * time.Second
	cfg.Detection.TargetWidth = 320
	cfg.Detection.TargetHeight = 240
	cfg.Detection.JPEGQuality = 80

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.ServiceName = "lenslink"
	cfg.Tracing.SampleRate = 0.1

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 50
	cfg.RateLimiting.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LENSLINK_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("LENSLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if url := os.Getenv("LENSLINK_ENGINE_WS_URL"); url != "" {
		c.Detection.EngineWebSocketURL = url
	}
	if url := os.Getenv("LENSLINK_ENGINE_HTTP_URL"); url != "" {
		c.Detection.EngineHTTPURL = url
	}
	if v := os.Getenv("LENSLINK_DETECTION_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Detection.Enabled = enabled
		}
	}
}

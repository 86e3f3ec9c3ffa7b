package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LeadIngestor LeadIngestorConfig `yaml:"leadingestor"`
	Region       RegionConfig       `yaml:"region"`
	API          APIConfig          `yaml:"api"`
	Hub          HubConfig          `yaml:"hub"`
	Auth         AuthConfig         `yaml:"auth"`
	Worker       WorkerConfig       `yaml:"worker"`
	Status       StatusConfig       `yaml:"status"`
	Session      SessionConfig      `yaml:"session"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type LeadIngestorConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type RegionConfig struct {
	Name     string `yaml:"name"`
	DealerID int64  `yaml:"dealer_id"`
}

type APIConfig struct {
	Root           string          `yaml:"root"`
	ClaimTimeoutMs int             `yaml:"claim_timeout_ms"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type HubConfig struct {
	URL                 string `yaml:"url"`
	Event               string `yaml:"event"`
	ReconnectDelayMs    int    `yaml:"reconnect_delay_ms"`
	InitialRetryDelayMs int    `yaml:"initial_retry_delay_ms"`
	KeepAliveSec        int    `yaml:"keep_alive_sec"`
}

type AuthConfig struct {
	TokenPath           string   `yaml:"token_path"`
	CookiePath          string   `yaml:"cookie_path"`
	RefreshCommand      []string `yaml:"refresh_command"`
	RefreshThresholdMin int      `yaml:"refresh_threshold_min"`
	RefreshRetrySec     int      `yaml:"refresh_retry_sec"`
}

type WorkerConfig struct {
	JitterMinMs int `yaml:"jitter_min_ms"`
	JitterMaxMs int `yaml:"jitter_max_ms"`
}

type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type SessionConfig struct {
	RenewalEnabled     bool     `yaml:"renewal_enabled"`
	RenewalIntervalMin int      `yaml:"renewal_interval_min"`
	RenewalJitterMin   int      `yaml:"renewal_jitter_min"`
	LoginCommand       []string `yaml:"login_command"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

func (a APIConfig) ClaimTimeout() time.Duration {
	return time.Duration(a.ClaimTimeoutMs) * time.Millisecond
}

func (h HubConfig) ReconnectDelay() time.Duration {
	return time.Duration(h.ReconnectDelayMs) * time.Millisecond
}

func (h HubConfig) InitialRetryDelay() time.Duration {
	return time.Duration(h.InitialRetryDelayMs) * time.Millisecond
}

func (h HubConfig) KeepAlive() time.Duration {
	return time.Duration(h.KeepAliveSec) * time.Second
}

func (a AuthConfig) RefreshThreshold() time.Duration {
	return time.Duration(a.RefreshThresholdMin) * time.Minute
}

func (a AuthConfig) RefreshRetry() time.Duration {
	return time.Duration(a.RefreshRetrySec) * time.Second
}

func (w WorkerConfig) JitterMin() time.Duration {
	return time.Duration(w.JitterMinMs) * time.Millisecond
}

func (w WorkerConfig) JitterMax() time.Duration {
	return time.Duration(w.JitterMaxMs) * time.Millisecond
}

func (s SessionConfig) RenewalInterval() time.Duration {
	return time.Duration(s.RenewalIntervalMin) * time.Minute
}

func (s SessionConfig) RenewalJitter() time.Duration {
	return time.Duration(s.RenewalJitterMin) * time.Minute
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Hub: HubConfig{
			Event:               "LeadAvailable",
			ReconnectDelayMs:    500,
			InitialRetryDelayMs: 1000,
			KeepAliveSec:        15,
		},
		API: APIConfig{
			ClaimTimeoutMs: 10000,
		},
		Auth: AuthConfig{
			RefreshThresholdMin: 5,
			RefreshRetrySec:     60,
		},
		Worker: WorkerConfig{
			JitterMinMs: 5,
			JitterMaxMs: 25,
		},
		Session: SessionConfig{
			RenewalIntervalMin: 24 * 60,
			RenewalJitterMin:   5,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides keeps the original deployment surface working: region
// workers are provisioned with per-region environment variables rather than
// per-region config files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEALER_REGION"); v != "" {
		cfg.Region.Name = strings.TrimSpace(v)
	}
	if v := os.Getenv("DEALER_ID"); v != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Region.DealerID = id
		}
	}
	if v := os.Getenv("POWERPLAY_API_ROOT"); v != "" {
		cfg.API.Root = strings.TrimSpace(v)
	}
	if v := os.Getenv("POWERPLAY_LEADPOOL_HUB"); v != "" {
		cfg.Hub.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("TOKEN_PATH"); v != "" {
		cfg.Auth.TokenPath = strings.TrimSpace(v)
	}
	if v := os.Getenv("COOKIE_PATH"); v != "" {
		cfg.Auth.CookiePath = strings.TrimSpace(v)
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.Status.Address = strings.TrimSpace(v)
		cfg.Status.Enabled = true
	}
}

func validateConfig(cfg *Config) error {
	if cfg.LeadIngestor.Name == "" {
		return fmt.Errorf("leadingestor.name is required")
	}

	if cfg.LeadIngestor.Version == "" {
		return fmt.Errorf("leadingestor.version is required")
	}

	if cfg.Region.DealerID <= 0 {
		return fmt.Errorf("region.dealer_id must be greater than 0")
	}

	if cfg.API.Root == "" {
		return fmt.Errorf("api.root is required")
	}

	if cfg.Hub.URL == "" {
		return fmt.Errorf("hub.url is required")
	}

	if cfg.Hub.Event == "" {
		return fmt.Errorf("hub.event is required")
	}

	if cfg.Hub.ReconnectDelayMs <= 0 {
		return fmt.Errorf("hub.reconnect_delay_ms must be greater than 0")
	}

	if cfg.Auth.TokenPath == "" {
		return fmt.Errorf("auth.token_path is required")
	}

	if cfg.Auth.RefreshThresholdMin <= 0 {
		return fmt.Errorf("auth.refresh_threshold_min must be greater than 0")
	}

	if cfg.Worker.JitterMinMs < 0 {
		return fmt.Errorf("worker.jitter_min_ms must not be negative")
	}

	if cfg.Worker.JitterMaxMs < cfg.Worker.JitterMinMs {
		return fmt.Errorf("worker.jitter_max_ms must not be less than worker.jitter_min_ms")
	}

	if cfg.Status.Enabled && cfg.Status.Address == "" {
		return fmt.Errorf("status.address is required when the status server is enabled")
	}

	if cfg.Session.RenewalEnabled && len(cfg.Session.LoginCommand) == 0 {
		return fmt.Errorf("session.login_command is required when renewal is enabled")
	}

	return nil
}

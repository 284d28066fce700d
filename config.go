/*
File: config.go
Version: 2.3.0
Description: YAML configuration structures and loading with defaults.
             Duration strings are parsed once at load time into unexported fields.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Global configuration, set once by LoadConfig before any listener starts.
var config *Config

// --- Configuration Structures ---

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Overrides OverridesConfig `yaml:"overrides"`
	FeedCheck FeedCheckConfig `yaml:"feed_check"`
}

type LoggingConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`

	File struct {
		Path        string `yaml:"path"`
		Permissions uint32 `yaml:"permissions"`
	} `yaml:"file"`
}

type ListenerConfig struct {
	Address  StringOrSlice `yaml:"address"`
	Port     IntOrSlice    `yaml:"port"`
	Protocol string        `yaml:"protocol"` // "http", "https", "h3"
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`

	Listeners []ListenerConfig `yaml:"listeners"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Timeout      string `yaml:"timeout"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	RobotsTxt    bool   `yaml:"robots_txt"`

	parsedTimeout time.Duration
}

type ModelConfig struct {
	// Artifact candidates tried in order of preference.
	BundleCandidates     []string `yaml:"bundle_candidates"`
	PipelineCandidates   []string `yaml:"pipeline_candidates"`
	ClassifierCandidates []string `yaml:"classifier_candidates"`

	// Companion config supplying the phishing probability threshold.
	ConfigFile string  `yaml:"config_file"`
	Threshold  float64 `yaml:"threshold"`
}

type CacheConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Size         int    `yaml:"size"`
	TTL          string `yaml:"ttl"`
	StateFile    string `yaml:"state_file"`
	SaveInterval string `yaml:"save_interval"`

	parsedTTL          time.Duration
	parsedSaveInterval time.Duration
}

type RateLimitConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ClientQPS         int    `yaml:"client_qps"`
	ClientBurst       int    `yaml:"client_burst"`
	MaxGoroutines     int    `yaml:"max_goroutines"`
	HardMaxGoroutines int    `yaml:"hard_max_goroutines"`
	BaseDelay         string `yaml:"base_delay"`
	MaxDelay          string `yaml:"max_delay"`
	CleanupInterval   string `yaml:"cleanup_interval"`
	ClientExpiration  string `yaml:"client_expiration"`

	parsedBaseDelay        time.Duration
	parsedMaxDelay         time.Duration
	parsedCleanupInterval  time.Duration
	parsedClientExpiration time.Duration
}

type OverridesConfig struct {
	AllowFiles      []string `yaml:"allow_files"`
	AllowURLs       []string `yaml:"allow_urls"`
	DenyFiles       []string `yaml:"deny_files"`
	DenyURLs        []string `yaml:"deny_urls"`
	RefreshInterval string   `yaml:"refresh_interval"`

	parsedRefresh time.Duration
}

type FeedCheckConfig struct {
	Enabled       bool   `yaml:"enabled"`
	FeedURL       string `yaml:"feed_url"`
	Interval      string `yaml:"interval"`
	Resolver      string `yaml:"resolver"`
	ProbeDNS      bool   `yaml:"probe_dns"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	BatchSize     int    `yaml:"batch_size"`

	parsedInterval time.Duration
}

type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var slice []string
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

type IntOrSlice []int

func (s *IntOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single int
	if err := value.Decode(&single); err == nil {
		*s = []int{single}
		return nil
	}
	var slice []int
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

// --- Configuration Loading ---

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := InitLogger(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	config = &cfg
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if len(cfg.Server.Listeners) == 0 {
		cfg.Server.Listeners = append(cfg.Server.Listeners, ListenerConfig{
			Address:  StringOrSlice{cfg.Server.ListenAddr},
			Port:     IntOrSlice{cfg.Server.Port},
			Protocol: "http",
		})
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	cfg.Server.parsedTimeout = parseDurationOr("server.timeout", cfg.Server.Timeout, DefaultServerTimeout)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if len(cfg.Logging.Outputs) == 0 {
		cfg.Logging.Outputs = []string{"console"}
	}

	if len(cfg.Model.BundleCandidates) == 0 {
		cfg.Model.BundleCandidates = []string{"model.json", "model_v1.json"}
	}
	if len(cfg.Model.PipelineCandidates) == 0 {
		cfg.Model.PipelineCandidates = []string{"rf_pipeline.json", "pipeline.json"}
	}
	if len(cfg.Model.ClassifierCandidates) == 0 {
		cfg.Model.ClassifierCandidates = []string{"rf_phishing_model.json"}
	}
	if cfg.Model.ConfigFile == "" {
		cfg.Model.ConfigFile = "model_config.json"
	}

	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = DefaultCacheSize
	}
	cfg.Cache.parsedTTL = parseDurationOr("cache.ttl", cfg.Cache.TTL, DefaultCacheTTL)
	cfg.Cache.parsedSaveInterval = parseDurationOr("cache.save_interval", cfg.Cache.SaveInterval, 30*time.Minute)

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.ClientQPS <= 0 {
			cfg.RateLimit.ClientQPS = 50
		}
		if cfg.RateLimit.ClientBurst <= 0 {
			cfg.RateLimit.ClientBurst = 100
		}
		if cfg.RateLimit.MaxGoroutines <= 0 {
			cfg.RateLimit.MaxGoroutines = 4096
		}
		if cfg.RateLimit.HardMaxGoroutines <= cfg.RateLimit.MaxGoroutines {
			cfg.RateLimit.HardMaxGoroutines = cfg.RateLimit.MaxGoroutines * 2
		}
		cfg.RateLimit.parsedBaseDelay = parseDurationOr("rate_limit.base_delay", cfg.RateLimit.BaseDelay, 10*time.Millisecond)
		cfg.RateLimit.parsedMaxDelay = parseDurationOr("rate_limit.max_delay", cfg.RateLimit.MaxDelay, 250*time.Millisecond)
		cfg.RateLimit.parsedCleanupInterval = parseDurationOr("rate_limit.cleanup_interval", cfg.RateLimit.CleanupInterval, 1*time.Minute)
		cfg.RateLimit.parsedClientExpiration = parseDurationOr("rate_limit.client_expiration", cfg.RateLimit.ClientExpiration, 5*time.Minute)
	}

	cfg.Overrides.parsedRefresh = parseDurationOr("overrides.refresh_interval", cfg.Overrides.RefreshInterval, 15*time.Minute)

	if cfg.FeedCheck.Enabled {
		cfg.FeedCheck.parsedInterval = parseDurationOr("feed_check.interval", cfg.FeedCheck.Interval, 1*time.Hour)
		if cfg.FeedCheck.Resolver == "" {
			cfg.FeedCheck.Resolver = "9.9.9.9:53"
		}
		if cfg.FeedCheck.MaxConcurrent <= 0 {
			cfg.FeedCheck.MaxConcurrent = 16
		}
		if cfg.FeedCheck.BatchSize <= 0 || cfg.FeedCheck.BatchSize > MaxBatchURLs {
			cfg.FeedCheck.BatchSize = 50
		}
	}
}

func parseDurationOr(name, raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		LogWarn("[CONFIG] Invalid %s '%s', defaulting to %v", name, raw, fallback)
		return fallback
	}
	return d
}

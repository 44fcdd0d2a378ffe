// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GraphConfig holds app-only credentials for the optional Graph adapter.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Enabled reports whether all Graph credentials are present.
func (g GraphConfig) Enabled() bool {
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != ""
}

// Config holds all configuration for the ingestion service.
type Config struct {
	// Webhook
	WebhookSecret string

	// Organisation
	InternalDomains []string
	PersonalDomains []string

	// Redis
	RedisURL    string
	QueuePrefix string

	// Durable store (empty = in-memory)
	DatabaseURL string

	// Limits
	SenderLimit       int
	DomainLimit       int
	RateWindow        time.Duration
	LoadShedThreshold int

	// Processing
	ProcessTimeout time.Duration
	ProcessingTTL  time.Duration
	ProcessedBy    string

	// Drainer
	DrainInterval  time.Duration
	DrainBatchSize int
	DrainRate      float64

	Graph GraphConfig

	// Server
	Port     int
	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Webhook struct {
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`
	Organization struct {
		InternalDomains []string `yaml:"internal_domains"`
		PersonalDomains []string `yaml:"personal_domains"`
	} `yaml:"organization"`
	Redis struct {
		URL         string `yaml:"url"`
		QueuePrefix string `yaml:"queue_prefix"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Limits struct {
		SenderPerWindow   int    `yaml:"sender_per_window"`
		DomainPerWindow   int    `yaml:"domain_per_window"`
		Window            string `yaml:"window"`
		LoadShedThreshold int    `yaml:"load_shed_threshold"`
	} `yaml:"limits"`
	Processing struct {
		Timeout     string `yaml:"timeout"`
		TTL         string `yaml:"ttl"`
		ProcessedBy string `yaml:"processed_by"`
	} `yaml:"processing"`
	Drainer struct {
		Interval      string  `yaml:"interval"`
		BatchSize     int     `yaml:"batch_size"`
		RatePerSecond float64 `yaml:"rate_per_second"`
	} `yaml:"drainer"`
	Graph struct {
		TenantID     string `yaml:"tenant_id"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"graph"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing config file is not an error: every
// setting has an environment variable or a default.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")
	return LoadFile(configPath)
}

// LoadFile is Load with an explicit config path.
func LoadFile(configPath string) (*Config, error) {
	var raw rawConfig

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("config file not found, using environment only", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	default:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	}

	cfg := &Config{
		WebhookSecret:     firstNonEmpty(os.Getenv("WEBHOOK_SECRET"), raw.Webhook.Secret),
		InternalDomains:   normaliseDomains(firstNonEmptyList(envList("INTERNAL_DOMAINS"), raw.Organization.InternalDomains)),
		PersonalDomains:   normaliseDomains(raw.Organization.PersonalDomains),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		QueuePrefix:       firstNonEmpty(raw.Redis.QueuePrefix, envOrDefault("QUEUE_PREFIX", "crm:queue")),
		DatabaseURL:       firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		SenderLimit:       firstPositive(raw.Limits.SenderPerWindow, envOrDefaultInt("SENDER_RATE_LIMIT", 100)),
		DomainLimit:       firstPositive(raw.Limits.DomainPerWindow, envOrDefaultInt("DOMAIN_RATE_LIMIT", 500)),
		RateWindow:        durationOr(raw.Limits.Window, envOrDefaultDuration("RATE_WINDOW", time.Hour)),
		LoadShedThreshold: firstPositive(raw.Limits.LoadShedThreshold, envOrDefaultInt("LOAD_SHED_THRESHOLD", 50)),
		ProcessTimeout:    durationOr(raw.Processing.Timeout, envOrDefaultDuration("PROCESS_TIMEOUT", 25*time.Second)),
		ProcessingTTL:     durationOr(raw.Processing.TTL, envOrDefaultDuration("PROCESSING_TTL", 24*time.Hour)),
		ProcessedBy:       firstNonEmpty(raw.Processing.ProcessedBy, envOrDefault("PROCESSED_BY", "webhook-ingestion")),
		DrainInterval:     durationOr(raw.Drainer.Interval, envOrDefaultDuration("DRAIN_INTERVAL", 10*time.Second)),
		DrainBatchSize:    firstPositive(raw.Drainer.BatchSize, envOrDefaultInt("DRAIN_BATCH_SIZE", 10)),
		DrainRate:         raw.Drainer.RatePerSecond,
		Graph: GraphConfig{
			TenantID:     firstNonEmpty(raw.Graph.TenantID, os.Getenv("GRAPH_TENANT_ID")),
			ClientID:     firstNonEmpty(raw.Graph.ClientID, os.Getenv("GRAPH_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Graph.ClientSecret, os.Getenv("GRAPH_CLIENT_SECRET")),
		},
		Port:     envOrDefaultInt("PORT", 8080),
		LogLevel: parseLevel(envOrDefault("LOG_LEVEL", "info")),
	}

	if cfg.DrainRate <= 0 {
		cfg.DrainRate = envOrDefaultFloat("DRAIN_RATE", 5)
	}

	if len(cfg.InternalDomains) == 0 {
		// Without this every colleague would become an auto-created company.
		slog.Warn("no internal domains configured, internal traffic will not be suppressed")
	}

	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func normaliseDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyList(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

/*
Package config loads service configuration from a single YAML file.

PURPOSE:
  One explicit Config object, built once at process start and passed by
  injection into the store, gateway client, and runner. No module-level
  singletons, no lazy re-initialization at call sites.

DEFAULTS:
  Every section has working defaults; a missing file yields a config that
  runs against a local SQLite database with the scheduler disabled. Only
  the gateway section must be filled in before reconciliation can reach a
  real gateway.

EXAMPLE:
  server:
    port: 8080
    auth_token: "change-me"
    webhook_secret: "whsec-change-me"
  database:
    path: "./data/textmatch.db"
  gateway:
    base_url: "https://api.gateway.example"
    api_key: "sk-..."
    page_size: 100
    timeout: 10s
  reconciliation:
    window_days: 30
    minor_units_per_unit: 100
    fetch_timeout: 30s
    require_reference_statuses: [paid]
    interval: 6h
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/textmatch/recon-engine/recon"
)

// Duration wraps time.Duration for YAML "10s" / "6h" syntax.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`

	// AuthToken is the bearer token required on admin routes.
	AuthToken string `yaml:"auth_token"`

	// WebhookSecret signs gateway webhook payloads (HMAC-SHA256).
	WebhookSecret string `yaml:"webhook_secret"`
}

// DatabaseConfig configures the SQLite ledger store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig configures the payment gateway client.
type GatewayConfig struct {
	BaseURL           string   `yaml:"base_url"`
	APIKey            string   `yaml:"api_key"`
	PageSize          int      `yaml:"page_size"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	BreakerFailures   uint32   `yaml:"breaker_failures"`
	BreakerCooldown   Duration `yaml:"breaker_cooldown"`
}

// ReconciliationConfig configures the routine itself.
type ReconciliationConfig struct {
	// WindowDays bounds the gateway fetch: charges created in the last
	// N days.
	WindowDays int `yaml:"window_days"`

	// MinorUnitsPerUnit converts gateway minor units to ledger units.
	MinorUnitsPerUnit int64 `yaml:"minor_units_per_unit"`

	// FetchTimeout is the per-source deadline.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// SettledStatuses filters the ledger side.
	SettledStatuses []string `yaml:"settled_statuses"`

	// RequireReferenceStatuses lists statuses for which a missing gateway
	// reference is itself a discrepancy.
	RequireReferenceStatuses []string `yaml:"require_reference_statuses"`

	// Interval between scheduled runs. Zero disables the scheduler.
	Interval Duration `yaml:"interval"`
}

// Config is the full service configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Gateway        GatewayConfig        `yaml:"gateway"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Path: "textmatch.db",
		},
		Gateway: GatewayConfig{
			PageSize:          100,
			Timeout:           Duration{10 * time.Second},
			RequestsPerSecond: 10,
			BreakerFailures:   5,
			BreakerCooldown:   Duration{30 * time.Second},
		},
		Reconciliation: ReconciliationConfig{
			WindowDays:               30,
			MinorUnitsPerUnit:        100,
			FetchTimeout:             Duration{30 * time.Second},
			SettledStatuses:          []string{"paid", "completed"},
			RequireReferenceStatuses: []string{"paid"},
		},
	}
}

// Load reads the YAML file at path on top of defaults. An empty path
// returns defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Reconciliation.MinorUnitsPerUnit <= 0 {
		return fmt.Errorf("reconciliation.minor_units_per_unit must be positive")
	}
	for _, s := range append(append([]string{}, c.Reconciliation.SettledStatuses...),
		c.Reconciliation.RequireReferenceStatuses...) {
		if !recon.Status(s).Valid() {
			return fmt.Errorf("unknown ledger status %q", s)
		}
	}
	return nil
}

// Statuses converts the configured settled-status names.
func (r ReconciliationConfig) Statuses() []recon.Status {
	return toStatuses(r.SettledStatuses)
}

// Policy builds the matcher policy from configuration.
func (r ReconciliationConfig) Policy() recon.Policy {
	return recon.Policy{
		MinorUnitsPerUnit:        r.MinorUnitsPerUnit,
		RequireReferenceStatuses: toStatuses(r.RequireReferenceStatuses),
	}
}

// RunnerOptions builds recon.Options from configuration.
func (r ReconciliationConfig) RunnerOptions() recon.Options {
	return recon.Options{
		Window:       time.Duration(r.WindowDays) * 24 * time.Hour,
		FetchTimeout: r.FetchTimeout.Duration,
		Statuses:     r.Statuses(),
		Policy:       r.Policy(),
	}
}

func toStatuses(names []string) []recon.Status {
	statuses := make([]recon.Status, 0, len(names))
	for _, n := range names {
		statuses = append(statuses, recon.Status(n))
	}
	return statuses
}

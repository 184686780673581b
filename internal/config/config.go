// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// Defaults applied when a setting is absent.
const (
	DefaultPort             = "8080"
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeConcurrency = 4
	DefaultCacheTTL         = 5 * time.Minute
	DefaultRetailer         = "delhaize"
	DefaultRetailersSecret  = "basket-retailers"
)

// Config holds all service configuration.
// Environment determines whether retailer credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject      string
	RetailersSecret string

	// Reconciliation settings
	LexiconFile      string
	ProbeTimeout     time.Duration
	ProbeConcurrency int

	// Availability cache. Empty RedisURL selects the in-memory cache.
	CacheTTL time.Duration
	RedisURL string

	// Retailers
	DefaultRetailer string
	Retailers       []RetailerConfig
}

// RetailerConfig overrides or adds a retailer. Fields left empty keep the
// built-in value for a retailer of the same name.
// In production, the list is loaded from Secret Manager as JSON since it
// carries inventory API keys.
type RetailerConfig struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name,omitempty"`
	SearchURL    string `json:"search_url,omitempty"`
	CheckoutURL  string `json:"checkout_url,omitempty"`
	InventoryURL string `json:"inventory_url,omitempty"`
	APIKey       string `json:"api_key,omitempty"`
	TLSProfile   string `json:"tls_profile,omitempty"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Validates all fields and returns an error if any are invalid.
func Load(ctx context.Context) (*Config, error) {
	// If CONFIG_FILE is set, load everything from the JSON file
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:            envOrDefault("PORT", DefaultPort),
		Environment:     envOrDefault("ENVIRONMENT", "development"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		GCPProject:      os.Getenv("GCP_PROJECT"),
		RetailersSecret: envOrDefault("RETAILERS_SECRET", DefaultRetailersSecret),
		LexiconFile:     os.Getenv("LEXICON_FILE"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DefaultRetailer: envOrDefault("DEFAULT_RETAILER", DefaultRetailer),
	}

	var err error
	if cfg.ProbeTimeout, err = durationEnv("PROBE_TIMEOUT", DefaultProbeTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("AVAILABILITY_CACHE_TTL", DefaultCacheTTL); err != nil {
		return nil, err
	}
	if cfg.ProbeConcurrency, err = intEnv("PROBE_CONCURRENCY", DefaultProbeConcurrency); err != nil {
		return nil, err
	}

	// Load retailer overrides based on environment
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		err = cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading retailer config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Use a struct that matches the JSON structure
	var fileConfig struct {
		Port             string           `json:"port"`
		Environment      string           `json:"environment"`
		LogLevel         string           `json:"log_level"`
		LexiconFile      string           `json:"lexicon_file"`
		ProbeTimeout     string           `json:"probe_timeout"`
		ProbeConcurrency int              `json:"probe_concurrency"`
		CacheTTL         string           `json:"availability_cache_ttl"`
		RedisURL         string           `json:"redis_url"`
		DefaultRetailer  string           `json:"default_retailer"`
		Retailers        []RetailerConfig `json:"retailers"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:             withDefault(fileConfig.Port, DefaultPort),
		Environment:      withDefault(fileConfig.Environment, "development"),
		LogLevel:         withDefault(fileConfig.LogLevel, "info"),
		LexiconFile:      fileConfig.LexiconFile,
		ProbeConcurrency: fileConfig.ProbeConcurrency,
		RedisURL:         fileConfig.RedisURL,
		DefaultRetailer:  withDefault(fileConfig.DefaultRetailer, DefaultRetailer),
		Retailers:        fileConfig.Retailers,
	}
	if cfg.ProbeConcurrency == 0 {
		cfg.ProbeConcurrency = DefaultProbeConcurrency
	}

	if cfg.ProbeTimeout, err = parseDuration("probe_timeout", fileConfig.ProbeTimeout, DefaultProbeTimeout); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = parseDuration("availability_cache_ttl", fileConfig.CacheTTL, DefaultCacheTTL); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches retailer overrides from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{retailers_secret}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.RetailersSecret)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Retailers); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads retailer overrides from the RETAILERS env var (JSON).
// Used in development mode for local testing.
func (c *Config) loadFromEnv() error {
	if retailersJSON := os.Getenv("RETAILERS"); retailersJSON != "" {
		if err := json.Unmarshal([]byte(retailersJSON), &c.Retailers); err != nil {
			return fmt.Errorf("parsing RETAILERS JSON: %w", err)
		}
	}
	return nil
}

// validate checks that configuration values are usable.
func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}

	if c.ProbeConcurrency < 1 {
		return fmt.Errorf("probe_concurrency must be at least 1")
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("probe_timeout must not be negative")
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("availability_cache_ttl must not be negative")
	}

	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return fmt.Errorf("invalid redis_url: %w", err)
		}
	}

	seen := make(map[string]bool, len(c.Retailers))
	for i, r := range c.Retailers {
		if r.Name == "" {
			return fmt.Errorf("retailers[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("retailers[%d]: duplicate retailer %q", i, r.Name)
		}
		seen[r.Name] = true

		for field, raw := range map[string]string{
			"search_url":    r.SearchURL,
			"checkout_url":  r.CheckoutURL,
			"inventory_url": r.InventoryURL,
		} {
			if raw == "" {
				continue
			}
			if u, err := url.Parse(strings.ReplaceAll(raw, "{query}", "q")); err != nil || u.Host == "" {
				return fmt.Errorf("retailers[%d]: invalid %s %q", i, field, raw)
			}
		}
	}

	return nil
}

// durationEnv parses a Go duration from an env var.
func durationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	return parseDuration(key, os.Getenv(key), defaultVal)
}

func parseDuration(name, raw string, defaultVal time.Duration) (time.Duration, error) {
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return d, nil
}

// intEnv parses an integer env var.
func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

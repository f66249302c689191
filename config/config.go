package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "SHOPCORE"

// maxConfigSize caps config files to guard against accidental large reads
const maxConfigSize = 1 << 20

// Duration unmarshals from a Go duration string ("5s", "250ms") in both
// JSON and YAML config files
type Duration time.Duration

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON renders the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.set(v)
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return d.set(v)
}

func (d *Duration) set(v any) error {
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", t, err)
		}
		*d = Duration(parsed)
		return nil
	case float64:
		*d = Duration(time.Duration(t))
		return nil
	case int:
		*d = Duration(time.Duration(t))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// Config is the complete shopcore configuration
type Config struct {
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Checkout CheckoutConfig `json:"checkout" yaml:"checkout"`
	Server   ServerConfig   `json:"server" yaml:"server"`
}

// BackendConfig describes the content/commerce backend and the relay path
type BackendConfig struct {
	// BaseURL is the backend's base address; descriptor paths resolve
	// against it
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Credential is the "user:secret" service credential sent as a Basic
	// authorization header; empty disables auth
	Credential string `json:"credential,omitempty" yaml:"credential,omitempty"`
	// RelayURL is the secondary same-origin routing path used when direct
	// calls are blocked; empty disables escalation
	RelayURL string `json:"relay_url,omitempty" yaml:"relay_url,omitempty"`
	// RelayAllowedOrigins lists origins permitted to use the local relay
	// endpoint
	RelayAllowedOrigins []string `json:"relay_allowed_origins,omitempty" yaml:"relay_allowed_origins,omitempty"`
	// Timeout is the default per-call budget for backend calls
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GatewayConfig describes the payment gateway
type GatewayConfig struct {
	MerchantID string `json:"merchant_id" yaml:"merchant_id"`
	// Environment selects the gateway endpoints: "sandbox" or "production"
	Environment string `json:"environment" yaml:"environment"`
	// CallbackURL is the absolute browser-facing address the gateway
	// redirects back to after payment
	CallbackURL string   `json:"callback_url" yaml:"callback_url"`
	Timeout     Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// CheckoutConfig tunes the payment-callback reconciliation flow
type CheckoutConfig struct {
	// StashTTL bounds how long pre-redirect order/amount hints live
	StashTTL Duration `json:"stash_ttl,omitempty" yaml:"stash_ttl,omitempty"`
	// LookupTimeout is the tighter sub-budget for recovering the order
	// amount from the backend during a callback
	LookupTimeout Duration `json:"lookup_timeout,omitempty" yaml:"lookup_timeout,omitempty"`
	// SuccessPath and FailurePath are the storefront views the callback
	// redirects to
	SuccessPath string `json:"success_path,omitempty" yaml:"success_path,omitempty"`
	FailurePath string `json:"failure_path,omitempty" yaml:"failure_path,omitempty"`
}

// ServerConfig describes the HTTP listener
type ServerConfig struct {
	Addr            string   `json:"addr,omitempty" yaml:"addr,omitempty"`
	ReadTimeout     Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout    Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: Duration(8 * time.Second),
		},
		Gateway: GatewayConfig{
			Environment: "sandbox",
			Timeout:     Duration(8 * time.Second),
		},
		Checkout: CheckoutConfig{
			StashTTL:      Duration(15 * time.Minute),
			LookupTimeout: Duration(3 * time.Second),
			SuccessPath:   "/checkout/success",
			FailurePath:   "/checkout/failure",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
	}
}

// Load builds the configuration from defaults, an optional JSON or YAML
// file, and SHOPCORE_* environment overrides, then validates it
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := safeReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return nil
}

// safeReadFile reads a config file with a size cap and a cleaned path
func safeReadFile(path string) ([]byte, error) {
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", clean, err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", clean, maxConfigSize)
	}

	return os.ReadFile(clean)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_BACKEND_URL"); val != "" {
		cfg.Backend.BaseURL = val
	}
	if val := os.Getenv(EnvPrefix + "_BACKEND_CREDENTIAL"); val != "" {
		cfg.Backend.Credential = val
	}
	if val := os.Getenv(EnvPrefix + "_RELAY_URL"); val != "" {
		cfg.Backend.RelayURL = val
	}
	if val := os.Getenv(EnvPrefix + "_RELAY_ALLOWED_ORIGINS"); val != "" {
		cfg.Backend.RelayAllowedOrigins = strings.Split(val, ",")
	}
	if val := os.Getenv(EnvPrefix + "_MERCHANT_ID"); val != "" {
		cfg.Gateway.MerchantID = val
	}
	if val := os.Getenv(EnvPrefix + "_GATEWAY_ENV"); val != "" {
		cfg.Gateway.Environment = val
	}
	if val := os.Getenv(EnvPrefix + "_CALLBACK_URL"); val != "" {
		cfg.Gateway.CallbackURL = val
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
}

// Validate checks the configuration for completeness and well-formed URLs
func (c *Config) Validate() error {
	if err := requireHTTPURL("backend.base_url", c.Backend.BaseURL); err != nil {
		return err
	}
	if c.Backend.RelayURL != "" {
		if err := requireHTTPURL("backend.relay_url", c.Backend.RelayURL); err != nil {
			return err
		}
	}
	if c.Backend.Credential != "" && !strings.Contains(c.Backend.Credential, ":") {
		return fmt.Errorf("backend.credential must be in user:secret form")
	}

	if c.Gateway.MerchantID == "" {
		return fmt.Errorf("gateway.merchant_id is required")
	}
	if _, err := uuid.Parse(c.Gateway.MerchantID); err != nil {
		return fmt.Errorf("gateway.merchant_id must be a UUID: %w", err)
	}
	switch c.Gateway.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("gateway.environment must be sandbox or production, got %q",
			c.Gateway.Environment)
	}
	if err := requireHTTPURL("gateway.callback_url", c.Gateway.CallbackURL); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

func requireHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

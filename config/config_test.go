package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMerchantID = "3a8bb2e0-4f95-4f3b-9d83-5f2a9a7d1e42"

func validConfig() *Config {
	cfg := Default()
	cfg.Backend.BaseURL = "https://backend.example-shop.ir"
	cfg.Gateway.MerchantID = testMerchantID
	cfg.Gateway.CallbackURL = "https://shop.example-shop.ir/pay/callback"
	return cfg
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8*time.Second, cfg.Backend.Timeout.Std())
	assert.Equal(t, "sandbox", cfg.Gateway.Environment)
	assert.Equal(t, 3*time.Second, cfg.Checkout.LookupTimeout.Std())
	assert.Equal(t, "/checkout/success", cfg.Checkout.SuccessPath)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeTemp(t, "config.json", `{
		"backend": {
			"base_url": "https://backend.local",
			"credential": "svc:s3cret",
			"timeout": "4s"
		},
		"gateway": {
			"merchant_id": "`+testMerchantID+`",
			"environment": "production",
			"callback_url": "https://shop.local/pay/callback"
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://backend.local", cfg.Backend.BaseURL)
	assert.Equal(t, 4*time.Second, cfg.Backend.Timeout.Std())
	assert.Equal(t, "production", cfg.Gateway.Environment)
	// Defaults survive for fields the file does not set
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
backend:
  base_url: https://backend.local
  timeout: 2500ms
gateway:
  merchant_id: `+testMerchantID+`
  environment: sandbox
  callback_url: https://shop.local/pay/callback
checkout:
  lookup_timeout: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2500*time.Millisecond, cfg.Backend.Timeout.Std())
	assert.Equal(t, time.Second, cfg.Checkout.LookupTimeout.Std())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"_BACKEND_URL", "https://env-backend.local")
	t.Setenv(EnvPrefix+"_MERCHANT_ID", testMerchantID)
	t.Setenv(EnvPrefix+"_CALLBACK_URL", "https://shop.local/pay/callback")
	t.Setenv(EnvPrefix+"_GATEWAY_ENV", "production")
	t.Setenv(EnvPrefix+"_RELAY_ALLOWED_ORIGINS", "https://a.local,https://b.local")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://env-backend.local", cfg.Backend.BaseURL)
	assert.Equal(t, "production", cfg.Gateway.Environment)
	assert.Equal(t, []string{"https://a.local", "https://b.local"},
		cfg.Backend.RelayAllowedOrigins)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing backend url", func(c *Config) { c.Backend.BaseURL = "" },
			"backend.base_url is required"},
		{"relative backend url", func(c *Config) { c.Backend.BaseURL = "/api" },
			"absolute http(s) URL"},
		{"bad relay url", func(c *Config) { c.Backend.RelayURL = "not a url\x7f" },
			"backend.relay_url"},
		{"credential shape", func(c *Config) { c.Backend.Credential = "nocolon" },
			"user:secret"},
		{"missing merchant", func(c *Config) { c.Gateway.MerchantID = "" },
			"merchant_id is required"},
		{"merchant not uuid", func(c *Config) { c.Gateway.MerchantID = "merchant-1" },
			"must be a UUID"},
		{"bad environment", func(c *Config) { c.Gateway.Environment = "staging" },
			"sandbox or production"},
		{"missing callback", func(c *Config) { c.Gateway.CallbackURL = "" },
			"gateway.callback_url is required"},
		{"missing addr", func(c *Config) { c.Server.Addr = "" },
			"server.addr is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalForms(t *testing.T) {
	var d Duration

	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`5000000000`)))
	assert.Equal(t, 5*time.Second, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestClone_Independent(t *testing.T) {
	cfg := validConfig()
	clone := cfg.Clone()

	clone.Backend.BaseURL = "https://other.local"
	assert.Equal(t, "https://backend.example-shop.ir", cfg.Backend.BaseURL)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Backend.BaseURL = "https://mutated.local"

	// Get hands out copies; internal state is untouched
	assert.Equal(t, "https://backend.example-shop.ir", sc.Get().Backend.BaseURL)
}

func TestSafeConfig_UpdateValidates(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	bad := validConfig()
	bad.Gateway.MerchantID = ""
	assert.Error(t, sc.Update(bad))

	good := validConfig()
	good.Backend.BaseURL = "https://updated.local"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "https://updated.local", sc.Get().Backend.BaseURL)
}

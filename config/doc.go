// Package config loads and validates the shopcore configuration.
//
// Configuration is layered: compiled-in defaults, then an optional JSON or
// YAML file, then SHOPCORE_* environment variables, each layer overriding
// the one below. Validation runs once after all layers are applied so a
// file can leave fields for the environment to fill in.
//
// Supported environment overrides:
//
//	SHOPCORE_BACKEND_URL            backend.base_url
//	SHOPCORE_BACKEND_CREDENTIAL     backend.credential
//	SHOPCORE_RELAY_URL              backend.relay_url
//	SHOPCORE_RELAY_ALLOWED_ORIGINS  backend.relay_allowed_origins (comma-separated)
//	SHOPCORE_MERCHANT_ID            gateway.merchant_id
//	SHOPCORE_GATEWAY_ENV            gateway.environment
//	SHOPCORE_CALLBACK_URL           gateway.callback_url
//	SHOPCORE_SERVER_ADDR            server.addr
//
// SafeConfig wraps a Config for components that re-read configuration at
// runtime; Get returns a deep copy so callers can never mutate shared
// state.
package config

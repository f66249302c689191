// Package metric defines the Prometheus metrics for shopcore.
//
// A MetricsRegistry owns a private Prometheus registry pre-populated with
// the core upstream/payment/checkout metrics plus the Go runtime
// collectors; tests create isolated registries so parallel tests never
// collide on the default global registry. Components receive *Metrics (or
// the Registrar interface for their own collectors) through their
// constructors rather than reaching for package-level state.
package metric

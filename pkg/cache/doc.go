// Package cache implements a generic TTL key/value store.
//
// The store backs two shopcore concerns: the checkout stash (short-lived
// session-scoped hints written before redirecting to the payment gateway)
// and the order-state registry (terminal payment outcomes kept long enough
// to absorb duplicate gateway callbacks). Both need the same shape: fast
// concurrent access, per-entry expiry, and bounded growth, which the
// background sweep guarantees even for keys that are never read again.
package cache

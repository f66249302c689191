// Package shopcore is the storefront's resilient integration layer. It
// wraps every call to the content/commerce backend and the payment
// gateway in one place: typed failure classification, bounded retries
// with jittered backoff, deadline composition, redirect-loop detection,
// single-flight request coalescing, and the payment-callback
// reconciliation that drives each order to a paid or failed state exactly
// once.
//
// The packages layer bottom-up: errors defines the failure taxonomy,
// pkg/retry the attempt engine, upstream the backend orchestrator,
// payment the gateway client, and checkout the callback flow. server and
// cmd/shopcore wire them behind an HTTP surface.
package shopcore

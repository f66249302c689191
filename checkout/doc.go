// Package checkout reconciles gateway payment callbacks with storefront
// orders. It recovers the order id and amount from redundant client-side
// sources (stash, fallback cookies, query hints, in that priority),
// verifies the payment, and drives the order's payment state to Paid or
// Failed exactly once. The browser never sees a raw failure; every
// terminal Failed carries one of four reason codes for the UI.
package checkout

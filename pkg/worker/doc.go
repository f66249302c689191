// Package worker provides a generic bounded worker pool.
//
// The pool runs a fixed number of goroutines draining a buffered channel.
// Submit is non-blocking: when the queue is full the work item is dropped
// and ErrQueueFull returned, which is the backpressure signal. Statistics
// are always tracked with atomics; Prometheus metrics are opt-in through
// the metric registry.
//
// Shopcore uses a pool for the best-effort order-record updates that
// follow a successful payment: the user-visible outcome never waits on
// them, and a full queue only costs a reconciliation detail, not a sale.
package worker

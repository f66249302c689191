// Package server hosts shopcore's HTTP surface: the payment start and
// callback endpoints, the same-origin relay onto the commerce backend,
// and the health and metrics endpoints.
package server

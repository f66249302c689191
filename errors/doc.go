// Package errors defines the closed set of failure kinds used by the
// shopcore upstream integration layer.
//
// # Design
//
// Every fallible operation in the upstream, payment, and checkout packages
// returns a *Failure. The taxonomy is deliberately small:
//
//   - KindTimeout: the composed deadline expired (transient)
//   - KindNetwork: connection refused/reset, DNS failure (transient)
//   - KindAuth: upstream rejected the service credential (definitive)
//   - KindBadUpstream: unusable status or malformed body; transient only
//     for 5xx and 429
//   - KindRedirectLoop: redirect to a login/admin page, or more than one
//     redirect hop (definitive)
//   - KindInvalid: input rejected before any network call (definitive)
//
// Retry decisions flow through IsRetryable so every call site applies the
// same transient/definitive split. Raw transport errors never escape: call
// sites run them through FromTransport first.
//
// # Usage
//
//	resp, err := httpClient.Do(req)
//	if err != nil {
//		return nil, errors.FromTransport(err)
//	}
//	if resp.StatusCode >= 500 {
//		return nil, errors.BadUpstream(resp.StatusCode)
//	}
//
// Callers inspect failures with AsFailure, KindOf, or the Is* helpers
// rather than matching on error strings.
package errors

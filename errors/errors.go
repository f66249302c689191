// Package errors provides the failure taxonomy shared by every upstream
// call site in shopcore. Each failure carries a kind, a default status code
// for surfacing to callers, and the underlying cause. No untyped error is
// allowed to cross the boundary of the upstream, payment, or checkout
// packages: raw transport errors are classified with FromTransport before
// they escape.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind classifies a failure for retry and reporting decisions
type Kind int

const (
	// KindTimeout means the call was aborted by an expired deadline
	KindTimeout Kind = iota
	// KindNetwork means the transport failed before a response arrived
	// (connection refused/reset, DNS failure)
	KindNetwork
	// KindAuth means the upstream rejected the service credential (401/403)
	KindAuth
	// KindBadUpstream means the upstream answered with an unusable status
	// or a malformed body; Status carries the upstream status code
	KindBadUpstream
	// KindRedirectLoop means the upstream redirected to a login or admin
	// page, or redirected more than once
	KindRedirectLoop
	// KindInvalid means the input was rejected before any network call
	// (data-integrity failure, never retried)
	KindInvalid
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindBadUpstream:
		return "bad_upstream"
	case KindRedirectLoop:
		return "redirect_loop"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// DefaultStatus returns the HTTP-like status code surfaced to callers when
// a failure of this kind carries no more specific status
func (k Kind) DefaultStatus() int {
	switch k {
	case KindTimeout:
		return 504
	case KindNetwork:
		return 502
	case KindAuth:
		return 401
	case KindBadUpstream:
		return 502
	case KindRedirectLoop:
		return 508
	case KindInvalid:
		return 422
	default:
		return 500
	}
}

// Failure is the one error type raised by shopcore's upstream integration
// layer. Status defaults to the kind's status; for KindBadUpstream it is
// the status the upstream actually returned.
type Failure struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Unwrap returns the underlying error
func (f *Failure) Unwrap() error {
	return f.Err
}

// Timeout creates a failure for a call aborted by an expired deadline
func Timeout(err error) *Failure {
	return &Failure{
		Kind:    KindTimeout,
		Status:  KindTimeout.DefaultStatus(),
		Message: "deadline expired before the upstream answered",
		Err:     err,
	}
}

// Network creates a failure for a transport-level error
func Network(err error) *Failure {
	return &Failure{
		Kind:    KindNetwork,
		Status:  KindNetwork.DefaultStatus(),
		Message: "could not reach the upstream",
		Err:     err,
	}
}

// Auth creates a failure for a 401/403 upstream response
func Auth(status int) *Failure {
	return &Failure{
		Kind:    KindAuth,
		Status:  status,
		Message: fmt.Sprintf("upstream rejected the service credential (%d)", status),
	}
}

// BadUpstream creates a failure for an unusable upstream response
func BadUpstream(status int) *Failure {
	return &Failure{
		Kind:    KindBadUpstream,
		Status:  status,
		Message: fmt.Sprintf("upstream returned %d", status),
	}
}

// Malformed creates a bad-upstream failure for a 2xx response whose body is
// missing required fields. The upstream status is kept so operators can see
// the response was otherwise successful.
func Malformed(status int, detail string) *Failure {
	return &Failure{
		Kind:    KindBadUpstream,
		Status:  status,
		Message: fmt.Sprintf("malformed upstream response: %s", detail),
	}
}

// RedirectLoop creates a failure for a redirect to a login/admin page or a
// redirect chain deeper than one hop
func RedirectLoop(location string) *Failure {
	return &Failure{
		Kind:    KindRedirectLoop,
		Status:  KindRedirectLoop.DefaultStatus(),
		Message: fmt.Sprintf("upstream redirected to %q instead of answering", location),
	}
}

// Invalid creates a failure for input rejected before any network call
func Invalid(detail string) *Failure {
	return &Failure{
		Kind:    KindInvalid,
		Status:  KindInvalid.DefaultStatus(),
		Message: detail,
	}
}

// AsFailure extracts a *Failure from an error chain
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error. Unclassified errors report
// KindNetwork so an unexpected error is treated as transient rather than
// definitive.
func KindOf(err error) Kind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return KindNetwork
}

// IsTimeout reports whether err is a timeout failure
func IsTimeout(err error) bool {
	return is(err, KindTimeout)
}

// IsAuth reports whether err is an authentication failure
func IsAuth(err error) bool {
	return is(err, KindAuth)
}

// IsInvalid reports whether err is a data-integrity failure
func IsInvalid(err error) bool {
	return is(err, KindInvalid)
}

func is(err error, kind Kind) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == kind
}

// IsRetryable reports whether a failure is transient: timeouts, network
// errors, and upstream 5xx/429 may be retried; auth failures, other 4xx,
// redirect loops, and invalid input are definitive.
func IsRetryable(err error) bool {
	f, ok := AsFailure(err)
	if !ok {
		// Call sites classify before retrying; an unclassified error here
		// is an unexpected one-off and gets a single retry's benefit.
		return true
	}
	switch f.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindBadUpstream:
		return f.Status >= 500 || f.Status == 429
	default:
		return false
	}
}

// FromTransport classifies a raw error returned by an HTTP round trip.
// Context expiry maps to KindTimeout (a retry gets a fresh deadline);
// everything else at the transport level is KindNetwork.
func FromTransport(err error) *Failure {
	if err == nil {
		return nil
	}
	if f, ok := AsFailure(err); ok {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout(err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return Network(err)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return Network(err)
	}
	return Network(err)
}

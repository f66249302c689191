package upstream

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Descriptor describes one logical call to the content/commerce backend.
// Descriptors are created per call and own no long-lived resources.
type Descriptor struct {
	// Method defaults to GET
	Method string
	// Path is resolved against the client's base URL
	Path string
	// Query is appended to the resolved URL
	Query url.Values
	// Header carries extra request headers; conditional-request headers
	// (If-None-Match, If-Modified-Since) pass through to the upstream
	Header http.Header
	// Body is sent as the request body; Content-Type defaults to JSON
	Body []byte
	// Deadline bounds the whole logical call including retries and backoff
	// waits; zero means only the client's per-attempt timeout applies
	Deadline time.Time
	// DedupeKey coalesces concurrent identical calls: while a call with
	// this key is in flight, further callers await its result instead of
	// issuing a duplicate request. Only honored for idempotent methods.
	DedupeKey string
	// AllowRelay opts in to one escalation attempt through the relay path
	// when the direct path fails with a network error or redirect loop
	AllowRelay bool
}

// idempotent reports whether the descriptor's method is safe to retry and
// coalesce
func (d Descriptor) idempotent() bool {
	switch d.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, "":
		return true
	}
	return false
}

// Response is the fully buffered outcome of a successful call. Buffering
// makes a response safe to hand to multiple coalesced callers: one
// physical read serves N logical readers.
type Response struct {
	Status      int
	Header      http.Header
	Body        []byte
	NotModified bool
}

// clone returns an independently consumable copy of the response
func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	out := &Response{
		Status:      r.Status,
		Header:      r.Header.Clone(),
		NotModified: r.NotModified,
	}
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	return out
}

// JSON decodes the response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

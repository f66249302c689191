// Package upstream performs resilient HTTP calls to the content/commerce
// backend: deadline composition, typed failure classification, retries
// with backoff, redirect-loop detection, single-flight coalescing, and an
// optional relay escalation path.
package upstream

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kadochi/shopcore/errors"
	"github.com/kadochi/shopcore/metric"
	"github.com/kadochi/shopcore/pkg/retry"
)

// loginPathPattern matches redirect targets that indicate the backend is
// bouncing the service to an interactive login instead of answering: a
// broken or expired credential, not a real redirect.
var loginPathPattern = regexp.MustCompile(
	`(?i)(/wp-login\.php|/wp-admin(/|$)|/(log-?in|sign-?in|auth)(/|$|\?))`)

// maxRedirectDepth is the number of ordinary redirect hops followed before
// the chain is treated as a loop
const maxRedirectDepth = 1

const defaultMaxBodySize = 10 << 20

// Config configures the upstream client
type Config struct {
	// BaseURL is the backend's base address
	BaseURL string
	// RelayURL is the secondary same-origin routing path; empty disables
	// escalation
	RelayURL string
	// Credential is the "user:secret" service credential, sent as a Basic
	// authorization header
	Credential string
	// Timeout is the per-attempt budget; each retry gets a fresh one
	Timeout time.Duration
	// MaxBodySize caps buffered response bodies
	MaxBodySize int64
}

// Client performs logical calls against the backend. Construct with New;
// the zero value is not usable.
type Client struct {
	base       *url.URL
	relay      *url.URL
	authHeader string
	timeout    time.Duration
	maxBody    int64

	httpClient *http.Client
	flight     *singleflight.Group
	policy     retry.Policy
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Automatic redirect
// following is disabled on it regardless; redirects are inspected, not
// followed.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics wires the client to the platform metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithFlightGroup injects the single-flight registry. Tests pass an
// isolated group per test; by default each client owns one.
func WithFlightGroup(g *singleflight.Group) Option {
	return func(c *Client) {
		c.flight = g
	}
}

// WithRetryPolicy overrides the retry policy for idempotent calls
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// New creates an upstream client for the given backend
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := parseBase("base URL", cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	var relay *url.URL
	if cfg.RelayURL != "" {
		relay, err = parseBase("relay URL", cfg.RelayURL)
		if err != nil {
			return nil, err
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}

	c := &Client{
		base:    base,
		relay:   relay,
		timeout: timeout,
		maxBody: maxBody,
		flight:  new(singleflight.Group),
		policy: retry.Default().WithPredicate(func(err error, _ int) bool {
			return errors.IsRetryable(err)
		}),
		logger: slog.Default().With("component", "upstream"),
	}
	if cfg.Credential != "" {
		c.authHeader = "Basic " +
			base64.StdEncoding.EncodeToString([]byte(cfg.Credential))
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return c, nil
}

func parseBase(what, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid %s %q: %w", what, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("upstream: %s must be absolute http(s), got %q", what, raw)
	}
	return u, nil
}

// Call performs one logical call described by d. Every exit path yields
// either a Response or a classified *errors.Failure; no untyped error
// escapes.
func (c *Client) Call(ctx context.Context, d Descriptor) (*Response, error) {
	if d.Method == "" {
		d.Method = http.MethodGet
	}
	d.Method = strings.ToUpper(d.Method)

	start := time.Now()
	if c.metrics != nil {
		c.metrics.UpstreamInFlight.Inc()
		defer c.metrics.UpstreamInFlight.Dec()
		defer func() {
			c.metrics.UpstreamDuration.WithLabelValues(d.Method).
				Observe(time.Since(start).Seconds())
		}()
	}

	ctx, cancel := c.composeDeadline(ctx, d)
	defer cancel()

	if d.DedupeKey != "" && d.idempotent() {
		// The physical call runs under the initiating caller's composed
		// deadline; late joiners share its outcome and its budget.
		v, err, shared := c.flight.Do(d.DedupeKey, func() (any, error) {
			return c.dispatch(ctx, d)
		})
		if shared && c.metrics != nil {
			c.metrics.UpstreamCoalesced.Inc()
		}
		if err != nil {
			return nil, err
		}
		return v.(*Response).clone(), nil
	}

	return c.dispatch(ctx, d)
}

// composeDeadline layers the descriptor's overall deadline (if any) onto
// the caller's context. The per-attempt timeout is applied separately in
// attempt so a retry gets a fresh budget.
func (c *Client) composeDeadline(ctx context.Context, d Descriptor) (context.Context, context.CancelFunc) {
	if d.Deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, d.Deadline)
}

// dispatch runs the retry loop on the direct path and, when permitted,
// escalates once through the relay path
func (c *Client) dispatch(ctx context.Context, d Descriptor) (*Response, error) {
	policy := c.policy
	if !d.idempotent() {
		// Never silently repeat a write
		policy = retry.Single()
	}

	resp, err := retry.DoWithResult(ctx, policy, func(n int) (*Response, error) {
		if n > 1 {
			if c.metrics != nil {
				c.metrics.UpstreamRetries.WithLabelValues(d.Method).Inc()
			}
			c.logger.Debug("retrying upstream call",
				"method", d.Method, "path", d.Path, "attempt", n)
		}
		return c.attempt(ctx, d, c.base)
	})
	if err == nil {
		return resp, nil
	}
	fail := c.asFailure(err)

	if d.AllowRelay && c.relay != nil &&
		(fail.Kind == errors.KindRedirectLoop || fail.Kind == errors.KindNetwork) {
		c.logger.Warn("direct path failed, escalating through relay",
			"method", d.Method, "path", d.Path, "kind", fail.Kind.String())

		relayResp, relayErr := c.attempt(ctx, d, c.relay)
		if relayErr == nil {
			if c.metrics != nil {
				c.metrics.UpstreamRelayUsed.WithLabelValues("success").Inc()
			}
			return relayResp, nil
		}
		if c.metrics != nil {
			c.metrics.UpstreamRelayUsed.WithLabelValues("failure").Inc()
		}
		fail = c.asFailure(relayErr)
	}

	if c.metrics != nil {
		c.metrics.UpstreamFailures.WithLabelValues(d.Method, fail.Kind.String()).Inc()
	}
	c.logger.Error("upstream call failed",
		"method", d.Method, "path", d.Path,
		"kind", fail.Kind.String(), "status", fail.Status)
	return nil, fail
}

// asFailure guarantees the boundary invariant: whatever the retry engine
// hands back leaves as a classified failure
func (c *Client) asFailure(err error) *errors.Failure {
	if retry.Interrupted(err) {
		return errors.Timeout(err)
	}
	return errors.FromTransport(err)
}

// attempt performs one physical attempt with a fresh per-attempt timeout,
// following at most one ordinary redirect hop
func (c *Client) attempt(ctx context.Context, d Descriptor, base *url.URL) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return c.doOnce(actx, d, c.resolve(base, d), 0)
}

// resolve joins the descriptor's path and query onto a base URL
func (c *Client) resolve(base *url.URL, d Descriptor) *url.URL {
	u := *base
	switch {
	case d.Path == "":
	case base.Path == "" || base.Path == "/":
		u.Path = "/" + strings.TrimPrefix(d.Path, "/")
	default:
		u.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(d.Path, "/")
	}
	if len(d.Query) > 0 {
		u.RawQuery = d.Query.Encode()
	}
	return &u
}

func (c *Client) doOnce(ctx context.Context, d Descriptor, target *url.URL, depth int) (*Response, error) {
	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, target.String(), body)
	if err != nil {
		return nil, errors.Invalid(fmt.Sprintf("cannot build request: %v", err))
	}
	for k, vs := range d.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if c.authHeader != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	if len(d.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.metrics != nil {
		c.metrics.UpstreamAttempts.WithLabelValues(d.Method).Inc()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.FromTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		// A deadline can expire mid-body; classify it like any transport error
		return nil, errors.FromTransport(err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, errors.Malformed(resp.StatusCode, "response body exceeds size limit")
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &Response{
			Status:      resp.StatusCode,
			Header:      resp.Header,
			NotModified: true,
		}, nil

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return nil, errors.RedirectLoop(target.String())
		}
		if loginPathPattern.MatchString(loc) {
			c.logger.Warn("redirected to login page, credential likely broken",
				"location", loc)
			return nil, errors.RedirectLoop(loc)
		}
		if depth >= maxRedirectDepth {
			return nil, errors.RedirectLoop(loc)
		}
		next, perr := target.Parse(loc)
		if perr != nil {
			return nil, errors.RedirectLoop(loc)
		}
		return c.doOnce(ctx, d, next, depth+1)

	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		return nil, errors.Auth(resp.StatusCode)

	case resp.StatusCode >= 400:
		return nil, errors.BadUpstream(resp.StatusCode)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

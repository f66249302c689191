package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadochi/shopcore/errors"
	"github.com/kadochi/shopcore/metric"
	"github.com/kadochi/shopcore/pkg/retry"
)

const (
	sandboxAPIBase    = "https://sandbox.zarinpal.com/pg/v4/payment"
	productionAPIBase = "https://payment.zarinpal.com/pg/v4/payment"

	sandboxStartPay    = "https://sandbox.zarinpal.com/pg/StartPay/%s"
	productionStartPay = "https://payment.zarinpal.com/pg/StartPay/%s"
)

// placeholderHosts are callback hosts that mean the storefront was never
// configured; the gateway would redirect payers into a void
var placeholderHosts = map[string]bool{
	"example.com": true,
	"example.org": true,
	"example.net": true,
}

// Config configures the gateway client
type Config struct {
	// MerchantID is the gateway-issued merchant identifier (a UUID)
	MerchantID string
	// Environment selects sandbox or production endpoints
	Environment string
	// Timeout is the per-attempt budget
	Timeout time.Duration

	// APIBase and StartPayTemplate override the environment-derived
	// endpoints. Tests point these at a local server.
	APIBase          string
	StartPayTemplate string
}

// Client is the payment gateway client. Construct with New.
type Client struct {
	merchantID string
	apiBase    string
	startPay   string
	timeout    time.Duration

	httpClient *http.Client
	policy     retry.Policy
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics wires the client to the platform metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRetryPolicy overrides the retry policy for gateway round trips
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates a gateway client for the configured merchant
func New(cfg Config, opts ...Option) (*Client, error) {
	if _, err := uuid.Parse(cfg.MerchantID); err != nil {
		return nil, fmt.Errorf("payment: merchant id must be a UUID: %w", err)
	}

	apiBase := cfg.APIBase
	startPay := cfg.StartPayTemplate
	if apiBase == "" {
		switch cfg.Environment {
		case EnvProduction:
			apiBase = productionAPIBase
			startPay = productionStartPay
		case EnvSandbox, "":
			apiBase = sandboxAPIBase
			startPay = sandboxStartPay
		default:
			return nil, fmt.Errorf("payment: unknown environment %q", cfg.Environment)
		}
	}
	if startPay == "" {
		startPay = sandboxStartPay
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	c := &Client{
		merchantID: cfg.MerchantID,
		apiBase:    apiBase,
		startPay:   startPay,
		timeout:    timeout,
		policy: retry.Default().WithPredicate(func(err error, _ int) bool {
			return errors.IsRetryable(err)
		}),
		logger: slog.Default().With("component", "payment"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c, nil
}

// envelope is the gateway's response wrapper. On success data is an
// object and errors is an empty array; on gateway-level rejection the
// shapes swap, so both sides decode lazily.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type requestData struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Authority string `json:"authority"`
}

type verifyData struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	RefID    int64  `json:"ref_id"`
	CardPan  string `json:"card_pan"`
	CardHash string `json:"card_hash"`
}

// RequestPayment creates a payment at the gateway and returns the
// authority plus the payer-facing redirect URL. Invalid intents are
// rejected before any network attempt.
func (c *Client) RequestPayment(ctx context.Context, intent Intent) (*RequestResult, error) {
	if err := c.validateIntent(intent); err != nil {
		c.observe("request", "invalid")
		return nil, err
	}

	currency := intent.Currency
	if currency == "" {
		currency = "IRT"
	}
	payload := map[string]any{
		"merchant_id":  c.merchantID,
		"amount":       intent.Amount,
		"currency":     currency,
		"callback_url": intent.CallbackURL,
		"description":  intent.Description,
	}
	meta := map[string]string{}
	if intent.MerchantReference != "" {
		meta["order_id"] = intent.MerchantReference
	}
	if intent.Metadata.Mobile != "" {
		meta["mobile"] = intent.Metadata.Mobile
	}
	if intent.Metadata.Email != "" {
		meta["email"] = intent.Metadata.Email
	}
	if len(meta) > 0 {
		payload["metadata"] = meta
	}

	start := time.Now()
	env, status, err := c.roundTrip(ctx, "/request.json", payload)
	c.observeDuration("request", start)
	if err != nil {
		c.observe("request", "failure")
		return nil, err
	}

	if gerr := decodeGatewayError(env); gerr != nil {
		c.observe("request", "declined")
		c.logger.Warn("gateway declined payment request",
			"code", gerr.Code, "message", gerr.Message)
		return nil, errors.Malformed(status,
			fmt.Sprintf("gateway declined request: code %d", gerr.Code))
	}

	var data requestData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.observe("request", "failure")
		return nil, errors.Malformed(status, "unreadable gateway response")
	}
	if data.Authority == "" {
		// A 2xx without an authority is a malformed upstream answer
		c.observe("request", "failure")
		return nil, errors.Malformed(status, "gateway response missing authority")
	}

	c.observe("request", "success")
	return &RequestResult{
		Authority:   data.Authority,
		RedirectURL: fmt.Sprintf(c.startPay, data.Authority),
		Code:        data.Code,
	}, nil
}

// VerifyPayment confirms a settled authority. Codes 100 and 101 both
// report Paid=true; any other gateway answer is a definitive decline
// returned in the result, never retried. Transport and malformed-response
// failures are returned as errors.
func (c *Client) VerifyPayment(ctx context.Context, v Verification) (*VerifyResult, error) {
	if v.Authority == "" {
		c.observe("verify", "invalid")
		return nil, errors.Invalid("verification requires an authority")
	}
	if v.Amount <= 0 {
		c.observe("verify", "invalid")
		return nil, errors.Invalid("verification amount must be positive")
	}

	payload := map[string]any{
		"merchant_id": c.merchantID,
		"authority":   v.Authority,
		"amount":      v.Amount,
	}

	start := time.Now()
	env, status, err := c.roundTrip(ctx, "/verify.json", payload)
	c.observeDuration("verify", start)
	if err != nil {
		c.observe("verify", "failure")
		return nil, err
	}

	if gerr := decodeGatewayError(env); gerr != nil {
		// The gateway reports declines and mismatched amounts here. That
		// answer is final; surfacing it as a non-paid result keeps the
		// caller from mistaking it for a transport problem.
		c.observe("verify", "declined")
		c.logger.Info("gateway declined verification",
			"code", gerr.Code, "message", gerr.Message)
		return &VerifyResult{Code: gerr.Code}, nil
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		c.observe("verify", "failure")
		return nil, errors.Malformed(status, "unreadable gateway response")
	}

	result := &VerifyResult{
		Code:     data.Code,
		Paid:     data.Code == CodeSuccess || data.Code == CodeAlreadyVerified,
		RefID:    data.RefID,
		CardMask: data.CardPan,
	}
	if result.Paid {
		c.observe("verify", "success")
	} else {
		c.observe("verify", "declined")
	}
	return result, nil
}

// StartPayURL composes the payer-facing redirect address for an authority
func (c *Client) StartPayURL(authority string) string {
	return fmt.Sprintf(c.startPay, authority)
}

func (c *Client) validateIntent(intent Intent) error {
	if intent.Amount <= 0 {
		return errors.Invalid("payment amount must be positive")
	}
	u, err := url.Parse(intent.CallbackURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Invalid("callback URL must be absolute http(s)")
	}
	host := strings.ToLower(u.Hostname())
	if placeholderHosts[host] || strings.HasSuffix(host, ".invalid") {
		return errors.Invalid("callback URL points at a placeholder host")
	}
	return nil
}

// roundTrip posts the payload with the retry policy, classifying every
// failure. The returned status is the final HTTP status.
func (c *Client) roundTrip(ctx context.Context, path string, payload any) (*envelope, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, errors.Invalid(fmt.Sprintf("cannot encode gateway payload: %v", err))
	}

	out, err := retry.DoWithResult(ctx, c.policy, func(n int) (gatewayReply, error) {
		if n > 1 {
			c.logger.Debug("retrying gateway call", "path", path, "attempt", n)
		}
		return c.attempt(ctx, path, body)
	})
	if err != nil {
		if retry.Interrupted(err) {
			return nil, 0, errors.Timeout(err)
		}
		return nil, 0, errors.FromTransport(err)
	}
	return out.env, out.status, nil
}

// gatewayReply pairs a decoded envelope with the HTTP status it arrived
// under
type gatewayReply struct {
	env    *envelope
	status int
}

func (c *Client) attempt(ctx context.Context, path string, body []byte) (gatewayReply, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost,
		c.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return gatewayReply{}, errors.Invalid(fmt.Sprintf("cannot build gateway request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayReply{}, errors.FromTransport(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gatewayReply{}, errors.FromTransport(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden:
		return gatewayReply{}, errors.Auth(resp.StatusCode)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return gatewayReply{}, errors.BadUpstream(resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return gatewayReply{}, errors.Malformed(resp.StatusCode, "gateway answered with non-JSON body")
	}
	return gatewayReply{env: &env, status: resp.StatusCode}, nil
}

// decodeGatewayError extracts the gateway's error object when present.
// An empty array in the errors slot means no error.
func decodeGatewayError(env *envelope) *gatewayError {
	raw := bytes.TrimSpace(env.Errors)
	if len(raw) == 0 || bytes.Equal(raw, []byte("[]")) || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var gerr gatewayError
	if err := json.Unmarshal(raw, &gerr); err != nil {
		return nil
	}
	return &gerr
}

func (c *Client) observe(operation, outcome string) {
	if c.metrics != nil {
		c.metrics.PaymentCalls.WithLabelValues(operation, outcome).Inc()
	}
}

func (c *Client) observeDuration(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.PaymentDuration.WithLabelValues(operation).
			Observe(time.Since(start).Seconds())
	}
}

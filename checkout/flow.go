package checkout

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kadochi/shopcore/errors"
	"github.com/kadochi/shopcore/metric"
	"github.com/kadochi/shopcore/payment"
)

// Fallback cookie names. The pair is written server-side before the
// gateway redirect as a safety net for when the session stash does not
// survive the round trip.
const (
	cookieOrder  = "shopcore_order"
	cookieAmount = "shopcore_amount"
)

// gatewaySuccessStatus is the sentinel the gateway sends back on the
// callback query string when the payer completed payment
const gatewaySuccessStatus = "OK"

// PaymentService is the slice of the payment client the flow needs
type PaymentService interface {
	RequestPayment(ctx context.Context, intent payment.Intent) (*payment.RequestResult, error)
	VerifyPayment(ctx context.Context, v payment.Verification) (*payment.VerifyResult, error)
}

// OrderUpdate is the best-effort record update queued after a successful
// payment. Losing one never changes a payment outcome.
type OrderUpdate struct {
	OrderID   string
	Authority string
	RefID     int64
	CardMask  string
}

// OrderUpdater accepts fire-and-forget order updates. worker.Pool
// satisfies it.
type OrderUpdater interface {
	Submit(OrderUpdate) error
}

// Config configures the reconciliation flow
type Config struct {
	// CallbackURL is the absolute callback address registered with the
	// gateway on every payment request
	CallbackURL string
	// SuccessPath and FailurePath are the storefront views the payer is
	// redirected to after reconciliation
	SuccessPath string
	FailurePath string
	// StashTTL bounds how long stash entries, registry records, and the
	// fallback cookies live
	StashTTL time.Duration
	// LookupTimeout is the sub-budget for the order-amount recovery
	// roundtrip; it is deliberately tight to keep the redirect responsive
	LookupTimeout time.Duration
	// CookieSecure marks the fallback cookies Secure
	CookieSecure bool
}

// Flow drives the payment callback reconciliation
type Flow struct {
	cfg      Config
	payments PaymentService
	amounts  AmountLookup
	updates  OrderUpdater
	stash    *Stash
	registry *Registry
	logger   *slog.Logger
	metrics  *metric.Metrics
}

// Option configures a Flow
type Option func(*Flow)

// WithAmountLookup enables backend amount recovery when no client-side
// hint survives
func WithAmountLookup(l AmountLookup) Option {
	return func(f *Flow) { f.amounts = l }
}

// WithOrderUpdater wires the fire-and-forget order update queue
func WithOrderUpdater(u OrderUpdater) Option {
	return func(f *Flow) { f.updates = u }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) { f.logger = logger }
}

// WithMetrics wires the flow to the platform metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(f *Flow) { f.metrics = m }
}

// NewFlow creates a reconciliation flow
func NewFlow(cfg Config, payments PaymentService, opts ...Option) *Flow {
	if cfg.StashTTL <= 0 {
		cfg.StashTTL = 15 * time.Minute
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 3 * time.Second
	}
	if cfg.SuccessPath == "" {
		cfg.SuccessPath = "/checkout/success"
	}
	if cfg.FailurePath == "" {
		cfg.FailurePath = "/checkout/failure"
	}

	f := &Flow{
		cfg:      cfg,
		payments: payments,
		stash:    NewStash(cfg.StashTTL),
		registry: NewRegistry(cfg.StashTTL),
		logger:   slog.Default().With("component", "checkout"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Close releases the stash and registry stores
func (f *Flow) Close() {
	f.stash.Close()
	f.registry.Close()
}

// Registry exposes the payment-state registry for inspection
func (f *Flow) Registry() *Registry {
	return f.registry
}

// HandleStart creates a payment for an order and redirects the payer to
// the gateway. Expects order and amount parameters; writes the stash
// entry and the fallback cookie pair before redirecting.
func (f *Flow) HandleStart(w http.ResponseWriter, r *http.Request) {
	orderID := r.FormValue("order")
	amount, _ := strconv.ParseInt(r.FormValue("amount"), 10, 64)
	if orderID == "" || amount <= 0 {
		http.Error(w, "order and a positive amount are required", http.StatusBadRequest)
		return
	}

	intent := payment.Intent{
		Amount:            amount,
		Description:       "order " + orderID,
		MerchantReference: orderID,
		CallbackURL:       f.cfg.CallbackURL,
		Metadata: payment.Metadata{
			Mobile: r.FormValue("mobile"),
			Email:  r.FormValue("email"),
		},
	}

	res, err := f.payments.RequestPayment(r.Context(), intent)
	if err != nil {
		f.logger.Error("payment request failed",
			"order", orderID, "error", err)
		f.redirectFailure(w, r, orderID, f.failureReason(err))
		return
	}

	f.registry.Begin(res.Authority, orderID, amount)
	if err := f.stash.Put(res.Authority, orderID, amount); err != nil {
		f.logger.Warn("stash write failed", "authority", res.Authority, "error", err)
	}
	f.setFallbackCookies(w, orderID, amount)

	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// HandleCallback reconciles the gateway's browser redirect. Every exit is
// a redirect to the success or failure view; the payer never sees a raw
// failure.
func (f *Flow) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("Status")
	authority := q.Get("Authority")

	// A non-success status or a missing authority is a cancellation:
	// settled locally, no network call.
	if authority == "" || status != gatewaySuccessStatus {
		if authority != "" {
			f.registry.MarkFailed(authority, ReasonCancelled)
		}
		f.observeOutcome("failed", ReasonCancelled)
		f.redirectFailure(w, r, f.cookieValue(r, cookieOrder), ReasonCancelled)
		return
	}

	// A settled authority is a re-read, not a second reconciliation
	if rec, ok := f.registry.Get(authority); ok && rec.State.terminal() {
		if rec.State == StatePaid {
			f.redirectSuccess(w, r, rec.OrderID, rec.Amount)
		} else {
			f.redirectFailure(w, r, rec.OrderID, rec.Reason)
		}
		return
	}

	orderID, amount := f.resolveOrder(r, authority)
	if orderID == "" {
		f.registry.MarkFailed(authority, ReasonOrderMissing)
		f.observeOutcome("failed", ReasonOrderMissing)
		f.redirectFailure(w, r, "", ReasonOrderMissing)
		return
	}

	if amount <= 0 {
		amount = f.recoverAmount(r.Context(), orderID)
		if amount <= 0 {
			f.registry.MarkFailed(authority, ReasonVerifyFailed)
			f.observeOutcome("failed", ReasonVerifyFailed)
			f.redirectFailure(w, r, orderID, ReasonVerifyFailed)
			return
		}
		f.observeAmountSource("backend")
	}

	if rec, ok := f.registry.MarkVerifying(authority, orderID, amount); !ok {
		// Lost the race to another callback; report its outcome
		if rec.State == StatePaid {
			f.redirectSuccess(w, r, rec.OrderID, rec.Amount)
		} else {
			f.redirectFailure(w, r, rec.OrderID, rec.Reason)
		}
		return
	}

	result, err := f.payments.VerifyPayment(r.Context(), payment.Verification{
		Authority: authority,
		Amount:    amount,
	})
	if err != nil {
		reason := f.failureReason(err)
		f.logger.Error("verification failed",
			"order", orderID, "authority", authority, "error", err)
		f.registry.MarkFailed(authority, reason)
		f.observeOutcome("failed", reason)
		f.redirectFailure(w, r, orderID, reason)
		return
	}
	if !result.Paid {
		f.logger.Warn("gateway reported payment not settled",
			"order", orderID, "authority", authority, "code", result.Code)
		f.registry.MarkFailed(authority, ReasonVerifyFailed)
		f.observeOutcome("failed", ReasonVerifyFailed)
		f.redirectFailure(w, r, orderID, ReasonVerifyFailed)
		return
	}

	f.stash.MarkPaid(authority, result.RefID)
	f.clearFallbackCookies(w)
	f.registry.MarkPaid(authority, result.RefID, result.CardMask)
	f.observeOutcome("paid", "")

	f.queueOrderUpdate(OrderUpdate{
		OrderID:   orderID,
		Authority: authority,
		RefID:     result.RefID,
		CardMask:  result.CardMask,
	})

	f.logger.Info("payment reconciled",
		"order", orderID, "authority", authority, "ref_id", result.RefID)
	f.redirectSuccess(w, r, orderID, amount)
}

// resolveOrder recovers the order id and amount from the redundant
// client-side sources in priority order: registry record (a re-entry
// never re-resolves), session stash, fallback cookies, query hints.
func (f *Flow) resolveOrder(r *http.Request, authority string) (string, int64) {
	if rec, ok := f.registry.Get(authority); ok && rec.OrderID != "" {
		f.observeAmountSource("registry")
		return rec.OrderID, rec.Amount
	}

	if entry, ok := f.stash.Get(authority); ok && entry.OrderID != "" {
		f.observeAmountSource("stash")
		return entry.OrderID, entry.Amount
	}

	if orderID := f.cookieValue(r, cookieOrder); orderID != "" {
		amount, _ := strconv.ParseInt(f.cookieValue(r, cookieAmount), 10, 64)
		f.observeAmountSource("cookie")
		return orderID, amount
	}

	q := r.URL.Query()
	if orderID := q.Get("order"); orderID != "" {
		amount, _ := strconv.ParseInt(q.Get("amount"), 10, 64)
		f.observeAmountSource("query")
		return orderID, amount
	}

	return "", 0
}

// recoverAmount re-fetches the order's authoritative total under the
// lookup sub-budget. The derived amount is trusted as-is; if the order
// total changed since the payment was requested the gateway's mismatch
// rejection is the backstop.
func (f *Flow) recoverAmount(ctx context.Context, orderID string) int64 {
	if f.amounts == nil {
		return 0
	}
	lctx, cancel := context.WithTimeout(ctx, f.cfg.LookupTimeout)
	defer cancel()

	amount, err := f.amounts.OrderAmount(lctx, orderID)
	if err != nil {
		f.logger.Warn("order amount recovery failed", "order", orderID, "error", err)
		return 0
	}
	return amount
}

func (f *Flow) queueOrderUpdate(update OrderUpdate) {
	if f.updates == nil {
		return
	}
	if err := f.updates.Submit(update); err != nil {
		// Best effort only; the paid outcome already happened
		f.logger.Warn("order update dropped",
			"order", update.OrderID, "error", err)
	}
}

// failureReason maps a classified failure onto a user-facing reason code
func (f *Flow) failureReason(err error) Reason {
	switch errors.KindOf(err) {
	case errors.KindTimeout, errors.KindNetwork:
		return ReasonNetwork
	default:
		return ReasonVerifyFailed
	}
}

func (f *Flow) setFallbackCookies(w http.ResponseWriter, orderID string, amount int64) {
	maxAge := int(f.cfg.StashTTL.Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     cookieOrder,
		Value:    orderID,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   f.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     cookieAmount,
		Value:    strconv.FormatInt(amount, 10),
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   f.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (f *Flow) clearFallbackCookies(w http.ResponseWriter) {
	for _, name := range []string{cookieOrder, cookieAmount} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (f *Flow) cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (f *Flow) redirectSuccess(w http.ResponseWriter, r *http.Request, orderID string, amount int64) {
	v := url.Values{}
	v.Set("order", orderID)
	v.Set("paid", strconv.FormatInt(amount, 10))
	http.Redirect(w, r, f.cfg.SuccessPath+"?"+v.Encode(), http.StatusFound)
}

func (f *Flow) redirectFailure(w http.ResponseWriter, r *http.Request, orderID string, reason Reason) {
	v := url.Values{}
	v.Set("reason", string(reason))
	if orderID != "" {
		v.Set("order", orderID)
	}
	http.Redirect(w, r, f.cfg.FailurePath+"?"+v.Encode(), http.StatusFound)
}

func (f *Flow) observeOutcome(result string, reason Reason) {
	if f.metrics != nil {
		f.metrics.CheckoutOutcomes.WithLabelValues(result, string(reason)).Inc()
	}
}

func (f *Flow) observeAmountSource(source string) {
	if f.metrics != nil {
		f.metrics.CheckoutAmountSource.WithLabelValues(source).Inc()
	}
}

package checkout

import (
	"sync"
	"time"

	"github.com/kadochi/shopcore/pkg/cache"
)

// State is the payment state of one order
type State string

// Payment states. Paid and Failed are terminal.
const (
	StateAwaitingPayment State = "awaiting_payment"
	StateVerifying       State = "verifying"
	StatePaid            State = "paid"
	StateFailed          State = "failed"
)

// terminal reports whether no further transition is allowed
func (s State) terminal() bool {
	return s == StatePaid || s == StateFailed
}

// Reason is the user-facing code attached to a Failed state
type Reason string

// Failure reasons consumed by the storefront UI
const (
	ReasonCancelled    Reason = "cancelled"
	ReasonOrderMissing Reason = "order-missing"
	ReasonVerifyFailed Reason = "verify-failed"
	ReasonNetwork      Reason = "network"
)

// OrderPaymentState is the payment record for one order, keyed by the
// gateway authority. Mutated only through the Registry.
type OrderPaymentState struct {
	Authority string
	OrderID   string
	Amount    int64
	State     State
	Reason    Reason
	RefID     int64
	CardMask  string
	UpdatedAt time.Time
}

// Registry is the single-writer transition point for payment states. All
// mutations happen under one mutex so a terminal state can never be
// overwritten by a racing callback.
type Registry struct {
	mu    sync.Mutex
	store *cache.TTLStore[*OrderPaymentState]
}

// NewRegistry creates a registry whose records expire after ttl
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		store: cache.NewTTLStore[*OrderPaymentState](ttl, ttl/2),
	}
}

// Close releases the backing store
func (r *Registry) Close() {
	r.store.Close()
}

// Begin records a fresh awaiting-payment state for an authority. An
// existing record is left untouched.
func (r *Registry) Begin(authority, orderID string, amount int64) *OrderPaymentState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.store.Get(authority); ok {
		return existing.snapshot()
	}
	state := &OrderPaymentState{
		Authority: authority,
		OrderID:   orderID,
		Amount:    amount,
		State:     StateAwaitingPayment,
		UpdatedAt: time.Now(),
	}
	_ = r.store.Set(authority, state)
	return state.snapshot()
}

// Get returns a copy of the record for an authority
func (r *Registry) Get(authority string) (*OrderPaymentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.store.Get(authority)
	if !ok {
		return nil, false
	}
	return state.snapshot(), true
}

// MarkVerifying moves an authority into the verifying state. Terminal
// records are returned unchanged with ok=false, which tells the caller
// the outcome is already settled.
func (r *Registry) MarkVerifying(authority, orderID string, amount int64) (*OrderPaymentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.store.Get(authority)
	if !found {
		state = &OrderPaymentState{Authority: authority}
		_ = r.store.Set(authority, state)
	}
	if state.State.terminal() {
		return state.snapshot(), false
	}
	if state.OrderID == "" {
		state.OrderID = orderID
	}
	if state.Amount == 0 {
		state.Amount = amount
	}
	state.State = StateVerifying
	state.UpdatedAt = time.Now()
	return state.snapshot(), true
}

// MarkPaid settles an authority as paid. A record already terminal keeps
// its original outcome.
func (r *Registry) MarkPaid(authority string, refID int64, cardMask string) *OrderPaymentState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.store.Get(authority)
	if !found {
		state = &OrderPaymentState{Authority: authority}
		_ = r.store.Set(authority, state)
	}
	if state.State.terminal() {
		return state.snapshot()
	}
	state.State = StatePaid
	state.Reason = ""
	state.RefID = refID
	state.CardMask = cardMask
	state.UpdatedAt = time.Now()
	return state.snapshot()
}

// MarkFailed settles an authority as failed with a reason. A record
// already terminal keeps its original outcome.
func (r *Registry) MarkFailed(authority string, reason Reason) *OrderPaymentState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, found := r.store.Get(authority)
	if !found {
		state = &OrderPaymentState{Authority: authority}
		_ = r.store.Set(authority, state)
	}
	if state.State.terminal() {
		return state.snapshot()
	}
	state.State = StateFailed
	state.Reason = reason
	state.UpdatedAt = time.Now()
	return state.snapshot()
}

func (s *OrderPaymentState) snapshot() *OrderPaymentState {
	copied := *s
	return &copied
}

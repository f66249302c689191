package checkout

import (
	"time"

	"github.com/kadochi/shopcore/pkg/cache"
)

// StashEntry is the order/amount pair written before redirecting the
// payer to the gateway, plus the success markers written back after
// verification for the reconciliation UI.
type StashEntry struct {
	OrderID string
	Amount  int64
	Paid    bool
	RefID   int64
}

// Stash is the short-lived server-side session stash keyed by authority.
// It is the primary recovery channel at callback time; the fallback
// cookies and query hints exist for when it is empty.
type Stash struct {
	store *cache.TTLStore[StashEntry]
	ttl   time.Duration
}

// NewStash creates a stash whose entries expire after ttl
func NewStash(ttl time.Duration) *Stash {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Stash{
		store: cache.NewTTLStore[StashEntry](ttl, ttl/2),
		ttl:   ttl,
	}
}

// Close releases the backing store
func (s *Stash) Close() {
	s.store.Close()
}

// Put records the order/amount pair for an authority
func (s *Stash) Put(authority, orderID string, amount int64) error {
	return s.store.Set(authority, StashEntry{OrderID: orderID, Amount: amount})
}

// Get returns the stash entry for an authority
func (s *Stash) Get(authority string) (StashEntry, bool) {
	return s.store.Get(authority)
}

// MarkPaid writes the success markers back onto an existing entry so the
// reconciliation UI can read them until the stash expires
func (s *Stash) MarkPaid(authority string, refID int64) {
	entry, ok := s.store.Get(authority)
	if !ok {
		entry = StashEntry{}
	}
	entry.Paid = true
	entry.RefID = refID
	_ = s.store.Set(authority, entry)
}

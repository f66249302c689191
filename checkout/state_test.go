package checkout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BeginAndGet(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	state := r.Begin("A1", "4821", 250000)
	assert.Equal(t, StateAwaitingPayment, state.State)
	assert.Equal(t, "4821", state.OrderID)

	got, ok := r.Get("A1")
	require.True(t, ok)
	assert.Equal(t, int64(250000), got.Amount)

	// Begin on an existing authority does not reset it
	again := r.Begin("A1", "9999", 1)
	assert.Equal(t, "4821", again.OrderID)
}

func TestRegistry_TerminalStatesAreImmutable(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.Begin("A1", "4821", 250000)
	_, ok := r.MarkVerifying("A1", "4821", 250000)
	require.True(t, ok)

	paid := r.MarkPaid("A1", 201, "5022**95")
	assert.Equal(t, StatePaid, paid.State)
	assert.Equal(t, int64(201), paid.RefID)

	// A later failure cannot overwrite the settled outcome
	after := r.MarkFailed("A1", ReasonNetwork)
	assert.Equal(t, StatePaid, after.State)
	assert.Empty(t, after.Reason)

	// Nor can a new verification begin
	rec, ok := r.MarkVerifying("A1", "4821", 250000)
	assert.False(t, ok)
	assert.Equal(t, StatePaid, rec.State)
}

func TestRegistry_FailedIsTerminalToo(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	r.MarkFailed("A2", ReasonCancelled)
	paid := r.MarkPaid("A2", 1, "")
	assert.Equal(t, StateFailed, paid.State)
	assert.Equal(t, ReasonCancelled, paid.Reason)
}

func TestRegistry_MarkVerifyingFillsMissingFields(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	rec, ok := r.MarkVerifying("A3", "77", 5000)
	require.True(t, ok)
	assert.Equal(t, StateVerifying, rec.State)
	assert.Equal(t, "77", rec.OrderID)
	assert.Equal(t, int64(5000), rec.Amount)
}

func TestRegistry_SnapshotsAreCopies(t *testing.T) {
	r := NewRegistry(time.Minute)
	defer r.Close()

	first := r.Begin("A4", "1", 100)
	first.OrderID = "tampered"

	got, ok := r.Get("A4")
	require.True(t, ok)
	assert.Equal(t, "1", got.OrderID)
}

func TestStash_RoundTrip(t *testing.T) {
	s := NewStash(time.Minute)
	defer s.Close()

	require.NoError(t, s.Put("A1", "4821", 250000))

	entry, ok := s.Get("A1")
	require.True(t, ok)
	assert.Equal(t, "4821", entry.OrderID)
	assert.False(t, entry.Paid)

	s.MarkPaid("A1", 201)
	entry, ok = s.Get("A1")
	require.True(t, ok)
	assert.True(t, entry.Paid)
	assert.Equal(t, int64(201), entry.RefID)
	assert.Equal(t, "4821", entry.OrderID, "markers extend the entry, not replace it")
}

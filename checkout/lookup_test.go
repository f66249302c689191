package checkout

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadochi/shopcore/upstream"
)

func TestOrderTotalLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/4821", r.URL.Path)
		fmt.Fprint(w, `{"total":2500000,"currency":"IRR"}`)
	}))
	defer srv.Close()

	client, err := upstream.New(upstream.Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	lookup := &OrderTotalLookup{Client: client, Divisor: 10}
	amount, err := lookup.OrderAmount(context.Background(), "4821")

	require.NoError(t, err)
	assert.Equal(t, int64(250000), amount, "rial total converted to toman")
}

func TestOrderTotalLookup_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client, err := upstream.New(upstream.Config{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	lookup := &OrderTotalLookup{Client: client}
	_, err = lookup.OrderAmount(context.Background(), "missing")
	assert.Error(t, err)
}

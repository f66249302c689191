package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadochi/shopcore/errors"
	"github.com/kadochi/shopcore/pkg/retry"
)

const testMerchant = "3f1f0c6e-7c3a-4b9a-9a6d-2c4f8e1b5d70"

func fastPolicy() retry.Policy {
	p := retry.Default()
	p.MinDelay = 5 * time.Millisecond
	p.MaxDelay = 20 * time.Millisecond
	p.JitterRatio = 0
	return p.WithPredicate(func(err error, _ int) bool {
		return errors.IsRetryable(err)
	})
}

func newGatewayClient(t *testing.T, apiBase string) *Client {
	t.Helper()
	c, err := New(Config{
		MerchantID:       testMerchant,
		Timeout:          2 * time.Second,
		APIBase:          apiBase,
		StartPayTemplate: "https://sandbox.zarinpal.com/pg/StartPay/%s",
	}, WithRetryPolicy(fastPolicy()))
	require.NoError(t, err)
	return c
}

func validIntent() Intent {
	return Intent{
		Amount:            250000,
		Description:       "order 4821",
		MerchantReference: "4821",
		CallbackURL:       "https://shop.kadochi.ir/pay/callback",
		Metadata:          Metadata{Mobile: "09120000000"},
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{MerchantID: "not-a-uuid"})
	assert.Error(t, err)

	_, err = New(Config{MerchantID: testMerchant, Environment: "staging"})
	assert.Error(t, err)

	c, err := New(Config{MerchantID: testMerchant, Environment: EnvSandbox})
	require.NoError(t, err)
	assert.Contains(t, c.StartPayURL("A123"), "sandbox.zarinpal.com/pg/StartPay/A123")
}

func TestRequestPayment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/request.json", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, testMerchant, payload["merchant_id"])
		assert.Equal(t, float64(250000), payload["amount"])
		assert.Equal(t, "IRT", payload["currency"])
		assert.Equal(t, "https://shop.kadochi.ir/pay/callback", payload["callback_url"])
		meta := payload["metadata"].(map[string]any)
		assert.Equal(t, "4821", meta["order_id"])

		fmt.Fprint(w, `{"data":{"code":100,"message":"Success","authority":"A000012345"},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	res, err := c.RequestPayment(context.Background(), validIntent())

	require.NoError(t, err)
	assert.Equal(t, "A000012345", res.Authority)
	assert.Equal(t, 100, res.Code)
	assert.Equal(t, "https://sandbox.zarinpal.com/pg/StartPay/A000012345", res.RedirectURL)
}

func TestRequestPayment_InvalidIntentNeverHitsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)

	tests := []struct {
		name   string
		mutate func(*Intent)
	}{
		{"zero amount", func(i *Intent) { i.Amount = 0 }},
		{"negative amount", func(i *Intent) { i.Amount = -5 }},
		{"relative callback", func(i *Intent) { i.CallbackURL = "/pay/callback" }},
		{"placeholder callback", func(i *Intent) { i.CallbackURL = "https://example.com/cb" }},
		{"empty callback", func(i *Intent) { i.CallbackURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := validIntent()
			tt.mutate(&intent)

			_, err := c.RequestPayment(context.Background(), intent)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
	assert.Equal(t, int32(0), hits.Load(), "invalid intents must not reach the gateway")
}

func TestRequestPayment_RetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"data":{"code":100,"authority":"A1"},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	res, err := c.RequestPayment(context.Background(), validIntent())

	require.NoError(t, err)
	assert.Equal(t, "A1", res.Authority)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRequestPayment_DeclineNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"data":[],"errors":{"code":-9,"message":"validation error"}}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	_, err := c.RequestPayment(context.Background(), validIntent())

	require.Error(t, err)
	assert.Equal(t, errors.KindBadUpstream, errors.KindOf(err))
	assert.Equal(t, int32(1), hits.Load(), "a definitive decline is never retried")
}

func TestRequestPayment_MissingAuthority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":{"code":100,"authority":""},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	_, err := c.RequestPayment(context.Background(), validIntent())

	require.Error(t, err)
	assert.Equal(t, errors.KindBadUpstream, errors.KindOf(err))
}

func TestVerifyPayment_Paid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify.json", r.URL.Path)

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "A000012345", payload["authority"])
		assert.Equal(t, float64(250000), payload["amount"])

		fmt.Fprint(w, `{"data":{"code":100,"message":"Verified","ref_id":201234,"card_pan":"502229******5995"},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	res, err := c.VerifyPayment(context.Background(), Verification{
		Authority: "A000012345",
		Amount:    250000,
	})

	require.NoError(t, err)
	assert.True(t, res.Paid)
	assert.Equal(t, 100, res.Code)
	assert.Equal(t, int64(201234), res.RefID)
	assert.Equal(t, "502229******5995", res.CardMask)
}

func TestVerifyPayment_AlreadyVerifiedIsIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `{"data":{"code":100,"ref_id":7},"errors":[]}`)
			return
		}
		fmt.Fprint(w, `{"data":{"code":101,"message":"Verified","ref_id":7},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	v := Verification{Authority: "A9", Amount: 90000}

	first, err := c.VerifyPayment(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, first.Paid)
	assert.Equal(t, 100, first.Code)

	second, err := c.VerifyPayment(context.Background(), v)
	require.NoError(t, err)
	assert.True(t, second.Paid, "code 101 still counts as paid")
	assert.Equal(t, 101, second.Code)
}

func TestVerifyPayment_DeclineIsNotAnError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `{"data":[],"errors":{"code":-51,"message":"session failed"}}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	res, err := c.VerifyPayment(context.Background(), Verification{Authority: "A9", Amount: 1000})

	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, -51, res.Code)
	assert.Equal(t, int32(1), hits.Load(), "a decline is definitive, never retried")
}

func TestVerifyPayment_AmountMismatchNeverPaid(t *testing.T) {
	const requested = int64(250000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		if int64(payload["amount"].(float64)) != requested {
			fmt.Fprint(w, `{"data":[],"errors":{"code":-50,"message":"amount mismatch"}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"code":100,"ref_id":11},"errors":[]}`)
	}))
	defer srv.Close()

	c := newGatewayClient(t, srv.URL)
	res, err := c.VerifyPayment(context.Background(), Verification{Authority: "A9", Amount: 999})

	require.NoError(t, err)
	assert.False(t, res.Paid)
	assert.Equal(t, -50, res.Code)
}

func TestVerifyPayment_Validation(t *testing.T) {
	c := newGatewayClient(t, "http://unused.invalid")

	_, err := c.VerifyPayment(context.Background(), Verification{Amount: 100})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = c.VerifyPayment(context.Background(), Verification{Authority: "A9"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestVerifyPayment_TransportFailureClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srvURL := srv.URL
	srv.Close()

	c, err := New(Config{
		MerchantID: testMerchant,
		Timeout:    time.Second,
		APIBase:    srvURL,
	}, WithRetryPolicy(retry.Single()))
	require.NoError(t, err)

	_, err = c.VerifyPayment(context.Background(), Verification{Authority: "A9", Amount: 1000})
	require.Error(t, err)
	assert.Equal(t, errors.KindNetwork, errors.KindOf(err))
}

package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfirmSendsBasicAuthAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/confirm", r.URL.Path)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("sk_test:")), r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ord-1", body["orderId"])
		assert.Equal(t, float64(4500), body["amount"])
		_, _ = w.Write([]byte(`{"paymentKey":"pk","orderId":"ord-1","status":"DONE","method":"CARD","totalAmount":4500,"approvedAt":"2026-03-01T10:00:00+09:00"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test", time.Second, zap.NewNop())
	res, err := c.Confirm(context.Background(), "pk", "ord-1", decimal.NewFromInt(4500))
	require.NoError(t, err)
	assert.Equal(t, "DONE", res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(4500)))
	assert.True(t, time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC).Equal(res.ApprovedAt))
}

func TestConfirmRejectionDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"REJECT_CARD_PAYMENT","message":"limit exceeded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk", time.Second, zap.NewNop())
	for i := 0; i < 10; i++ {
		_, err := c.Confirm(context.Background(), "pk", "ord", decimal.NewFromInt(1000))
		require.Error(t, err)
		assert.True(t, Rejected(err))
	}
	assert.Equal(t, int32(10), calls.Load())
}

func TestConfirmOutageOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk", time.Second, zap.NewNop())
	var last error
	for i := 0; i < 8; i++ {
		_, last = c.Confirm(context.Background(), "pk", "ord", decimal.NewFromInt(1000))
	}
	assert.ErrorIs(t, last, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, c.BreakerState())
}

func TestCancelPostsReasonOutsideBreaker(t *testing.T) {
	var cancelled atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/payments/pk_1/cancel" {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "order could not be recorded", body["cancelReason"])
			assert.Equal(t, "pk_1:cancel", r.Header.Get("Idempotency-Key"))
			cancelled.Add(1)
			_, _ = w.Write([]byte(`{"status":"CANCELED"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk", time.Second, zap.NewNop())
	for i := 0; i < 6; i++ {
		_, _ = c.Confirm(context.Background(), "pk_1", "ord", decimal.NewFromInt(1000))
	}
	require.Equal(t, gobreaker.StateOpen, c.BreakerState())

	require.NoError(t, c.Cancel(context.Background(), "pk_1", "order could not be recorded"))
	assert.Equal(t, int32(1), cancelled.Load())
}

func TestCancelSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"ALREADY_CANCELED_PAYMENT","message":"already canceled"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "sk", time.Second, zap.NewNop()).Cancel(context.Background(), "pk", "x")
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "ALREADY_CANCELED_PAYMENT", ge.Code)
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := gobreaker.NewCircuitBreaker(BreakerSettings("test", 20*time.Millisecond, zap.NewNop()))
	fail := func() (interface{}, error) { return nil, errors.New("down") }
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(fail)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	assert.Eventually(t, func() bool { return cb.State() == gobreaker.StateHalfOpen }, time.Second, 5*time.Millisecond)
	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestBreakerNeedsMinimumVolume(t *testing.T) {
	cb := gobreaker.NewCircuitBreaker(BreakerSettings("test", time.Minute, zap.NewNop()))
	for i := 0; i < 4; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("down") })
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

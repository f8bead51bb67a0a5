package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(config.StripeConfig{SecretKey: "sk_test_123", APIBase: srv.URL, Timeout: time.Second}, zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func sessionRequest() checkoutdomain.SessionRequest {
	return checkoutdomain.SessionRequest{
		IdempotencyKey: "checkout_abc",
		ProductName:    "Island hopping",
		Amount:         120000,
		Currency:       "USD",
		ClientRef:      "PK1",
		SuccessURL:     "https://example.com/ok",
		CancelURL:      "https://example.com/cancel",
		ExpiresAt:      time.Unix(1736935200, 0),
		Metadata: map[string]string{
			checkoutdomain.MetadataPackageID:     "PK1",
			checkoutdomain.MetadataPaymentType:   "full",
			checkoutdomain.MetadataInsuranceTier: "standard",
			checkoutdomain.MetadataCustomerID:    "cust-1",
		},
	}
}

func TestCreateSessionSendsForm(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "checkout_abc", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, r.ParseForm())

		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "120000", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "PK1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "1736935200", r.PostForm.Get("expires_at"))
		assert.Equal(t, "PK1", r.PostForm.Get("metadata[package_id]"))
		assert.Equal(t, "standard", r.PostForm.Get("metadata[insurance_tier]"))
		assert.Equal(t, "cust-1", r.PostForm.Get("payment_intent_data[metadata][customer_id]"))
		assert.Equal(t, "full", r.PostForm.Get("payment_intent_data[metadata][payment_type]"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","url":"https://checkout.stripe.com/c/cs_test_1","expires_at":1736938800}`))
	})

	session, err := c.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", session.URL)
	assert.Equal(t, int64(1736938800), session.ExpiresAt.Unix())
}

func TestCreateSessionRetriesTransientFailures(t *testing.T) {
	var (
		calls atomic.Int32
		mu    sync.Mutex
		keys  []string
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_2","url":"https://checkout.stripe.com/c/cs_test_2"}`))
	})

	session, err := c.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_2", session.ID)
	assert.Equal(t, int32(3), calls.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"checkout_abc", "checkout_abc", "checkout_abc"}, keys)
}

func TestCreateSessionHonoursRetryAfter(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_3","url":"https://checkout.stripe.com/c/cs_test_3"}`))
	})

	session, err := c.CreateSession(context.Background(), sessionRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_3", session.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateSessionThrottledToTheEndIsUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.retryAfterCap = 1

	started := time.Now()
	_, err := c.CreateSession(context.Background(), sessionRequest())
	require.ErrorIs(t, err, checkoutdomain.ErrProcessorUnavailable)
	assert.NotErrorIs(t, err, checkoutdomain.ErrProcessorRejected)
	assert.Equal(t, int32(maxRequestTries), calls.Load())
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestClassifyFailure(t *testing.T) {
	assert.ErrorIs(t, classifyFailure(backoff.RetryAfter(1)), checkoutdomain.ErrProcessorUnavailable)
	assert.ErrorIs(t, classifyFailure(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, classifyFailure(context.Canceled), checkoutdomain.ErrProcessorUnavailable)

	rejected := classifyFailure(checkoutdomain.ErrProcessorRejected)
	assert.ErrorIs(t, rejected, checkoutdomain.ErrProcessorRejected)
	assert.NotErrorIs(t, rejected, checkoutdomain.ErrProcessorUnavailable)
}

func TestCreateSessionGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.CreateSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, checkoutdomain.ErrProcessorUnavailable)
	assert.Equal(t, int32(maxRequestTries), calls.Load())
}

func TestCreateSessionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`))
	})

	_, err := c.CreateSession(context.Background(), sessionRequest())
	require.ErrorIs(t, err, checkoutdomain.ErrProcessorRejected)
	assert.Contains(t, err.Error(), "Invalid currency")
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateSessionRequiresKey(t *testing.T) {
	c := NewClient(config.StripeConfig{}, zap.NewNop())
	_, err := c.CreateSession(context.Background(), sessionRequest())
	assert.ErrorIs(t, err, checkoutdomain.ErrProcessorConfig)
}

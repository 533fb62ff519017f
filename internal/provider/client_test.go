package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richardliu001/payment-core/internal/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testRequest() IntentRequest {
	return IntentRequest{
		IdempotencyKey: "pay-1",
		OrderRef:       "O1",
		Amount:         decimal.NewFromInt(10),
		Currency:       "USD",
	}
}

func newClient(t *testing.T, url string, breaker BreakerConfig, timeout time.Duration) *HTTPClient {
	log, err := logger.NewLogger()
	assert.NoError(t, err)
	return NewHTTPClient(Config{
		BaseURL: url,
		APIKey:  "sk_test",
		Timeout: timeout,
		Breaker: breaker,
	}, log)
}

func TestCreateIntent_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pr_123","status":"authorized"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{}, time.Second)
	ref, err := c.CreateIntent(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.Equal(t, "pr_123", ref)
}

func TestCreateIntent_RejectedNotBreakerCounted(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"currency not enabled"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{MinRequests: 3, FailureRatio: 0.5, OpenWait: time.Hour}, time.Second)
	for i := 0; i < 8; i++ {
		_, err := c.CreateIntent(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrIntentRejected)
	}
	// every rejection reached the network: deterministic 4xx never trips the breaker
	assert.Equal(t, int64(8), atomic.LoadInt64(&hits))
}

func TestCreateIntent_BreakerOpensOnServerErrors(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{MinRequests: 5, FailureRatio: 0.5, OpenWait: time.Hour}, time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.CreateIntent(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrProviderError)
	}
	assert.Equal(t, int64(5), atomic.LoadInt64(&hits))

	// circuit is open now: fail fast, no network I/O
	_, err := c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int64(5), atomic.LoadInt64(&hits))
}

func TestCreateIntent_TimeoutIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{"id":"pr_slow"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{MinRequests: 100, OpenWait: time.Hour}, 50*time.Millisecond)
	_, err := c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCreateIntent_ProbeSuccessClosesCircuit(t *testing.T) {
	var failing int64 = 1
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if atomic.LoadInt64(&failing) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pr_recovered","status":"authorized"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{
		MinRequests:   2,
		FailureRatio:  0.5,
		OpenWait:      100 * time.Millisecond,
		ProbeRequests: 1,
	}, time.Second)

	for i := 0; i < 2; i++ {
		_, err := c.CreateIntent(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrProviderError)
	}
	_, err := c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))

	// provider recovers; after the cooldown the trial call goes through
	atomic.StoreInt64(&failing, 0)
	time.Sleep(150 * time.Millisecond)

	ref, err := c.CreateIntent(context.Background(), testRequest())
	assert.NoError(t, err)
	assert.Equal(t, "pr_recovered", ref)

	// circuit is closed again: calls pass straight through
	for i := 0; i < 3; i++ {
		ref, err := c.CreateIntent(context.Background(), testRequest())
		assert.NoError(t, err)
		assert.Equal(t, "pr_recovered", ref)
	}
	assert.Equal(t, int64(6), atomic.LoadInt64(&hits))
}

func TestCreateIntent_ProbeFailureReopensCircuit(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{
		MinRequests:   2,
		FailureRatio:  0.5,
		OpenWait:      100 * time.Millisecond,
		ProbeRequests: 1,
	}, time.Second)

	for i := 0; i < 2; i++ {
		_, err := c.CreateIntent(context.Background(), testRequest())
		assert.ErrorIs(t, err, ErrProviderError)
	}

	// cooldown elapses but the provider is still down: the trial call fails
	// and the circuit snaps back open without further network I/O
	time.Sleep(150 * time.Millisecond)
	_, err := c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderError)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))

	_, err = c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestCreateIntent_SlowCallsCountAgainstBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.Write([]byte(`{"id":"pr_slow","status":"authorized"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, BreakerConfig{
		MinRequests:   2,
		FailureRatio:  0.5,
		OpenWait:      time.Hour,
		SlowCallAfter: 5 * time.Millisecond,
	}, time.Second)

	// slow but successful: caller still gets the reference
	for i := 0; i < 2; i++ {
		ref, err := c.CreateIntent(context.Background(), testRequest())
		assert.NoError(t, err)
		assert.Equal(t, "pr_slow", ref)
	}

	// the slow-call ratio tripped the breaker
	_, err := c.CreateIntent(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrProviderUnavailable means no authoritative answer was obtained:
	// the circuit is open, the probe budget is spent, or the call timed out.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	// ErrIntentRejected is a deterministic 4xx rejection from the provider.
	ErrIntentRejected = errors.New("payment intent rejected by provider")
	// ErrProviderError is a definite 5xx error response from the provider.
	ErrProviderError = errors.New("payment provider error")
)

// errSlowCall marks a call that succeeded but exceeded the slow-call budget.
// The breaker counts it as a failure; the caller still gets the result.
var errSlowCall = errors.New("provider call exceeded slow-call threshold")

// IntentRequest carries everything the PSP needs to create a payment intent.
// IdempotencyKey is the payment id, so provider-side retries dedupe too.
type IntentRequest struct {
	IdempotencyKey string
	OrderRef       string
	Amount         decimal.Decimal
	Currency       string
}

// Client creates payment intents at the PSP.
type Client interface {
	CreateIntent(ctx context.Context, req IntentRequest) (string, error)
}

type BreakerConfig struct {
	Window        time.Duration
	OpenWait      time.Duration
	FailureRatio  float64
	MinRequests   uint32
	ProbeRequests uint32
	SlowCallAfter time.Duration
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Breaker BreakerConfig
}

// HTTPClient is the PSP REST client, breaker-guarded.
type HTTPClient struct {
	cfg    Config
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	log    *zap.SugaredLogger
}

func NewHTTPClient(cfg Config, logger *zap.SugaredLogger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Breaker.FailureRatio <= 0 {
		cfg.Breaker.FailureRatio = 0.5
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = 5
	}
	if cfg.Breaker.ProbeRequests == 0 {
		cfg.Breaker.ProbeRequests = 1
	}
	if cfg.Breaker.OpenWait <= 0 {
		cfg.Breaker.OpenWait = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "psp",
		MaxRequests: cfg.Breaker.ProbeRequests,
		Interval:    cfg.Breaker.Window,
		Timeout:     cfg.Breaker.OpenWait,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.Breaker.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.Breaker.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// a 4xx is a deterministic rejection, not provider instability
			return err == nil || errors.Is(err, ErrIntentRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("breaker %s: %s -> %s", name, from, to)
		},
	})

	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cb:     cb,
		log:    logger,
	}
}

// CreateIntent calls the PSP through the breaker.
func (c *HTTPClient) CreateIntent(ctx context.Context, req IntentRequest) (string, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		start := time.Now()
		ref, callErr := c.createIntent(ctx, req)
		if callErr != nil {
			return "", callErr
		}
		if c.cfg.Breaker.SlowCallAfter > 0 && time.Since(start) > c.cfg.Breaker.SlowCallAfter {
			return ref, errSlowCall
		}
		return ref, nil
	})
	if errors.Is(err, errSlowCall) {
		c.log.Warnf("slow provider call for order %s", req.OrderRef)
		return res.(string), nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: circuit open", ErrProviderUnavailable)
	}
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

type intentRequestBody struct {
	OrderRef string `json:"order_ref"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type intentResponseBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *HTTPClient) createIntent(ctx context.Context, req IntentRequest) (string, error) {
	body, err := json.Marshal(intentRequestBody{
		OrderRef: req.OrderRef,
		Amount:   req.Amount.String(),
		Currency: req.Currency,
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status=%d body=%s", ErrProviderError, resp.StatusCode, respBody)
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: status=%d body=%s", ErrIntentRejected, resp.StatusCode, respBody)
	}

	var payload intentResponseBody
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrProviderError, err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("%w: missing intent id", ErrProviderError)
	}
	return payload.ID, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/richardliu001/payment-core/internal/model"
	"github.com/richardliu001/payment-core/internal/provider"
	"github.com/richardliu001/payment-core/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var defaultCurrencies = []string{"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "SGD"}

// PaymentService is the payment execution engine: it owns the INITIATED row,
// brackets the provider call with two independent durable writes, and never
// lets a transaction span the network.
type PaymentService struct {
	repo       repo.RepositoryInterface
	client     provider.Client
	currencies map[string]struct{}
	log        *zap.SugaredLogger
}

// NewPaymentService returns PaymentService. Empty currencies falls back to the
// default supported set.
func NewPaymentService(r repo.RepositoryInterface, client provider.Client, currencies []string, logger *zap.SugaredLogger) *PaymentService {
	if len(currencies) == 0 {
		currencies = defaultCurrencies
	}
	set := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		set[strings.ToUpper(c)] = struct{}{}
	}
	return &PaymentService{repo: r, client: client, currencies: set, log: logger}
}

// InitiatePayment creates the payment, calls the PSP, records the outcome.
//
// The INITIATED row commits before any network I/O, so a retry of the same
// logical operation finds the existing row instead of double-charging. After
// the call exactly one durable write happens: AUTHORIZED on success, FAILED on
// a definite provider answer, none (row stays INITIATED) when no authoritative
// answer was obtained.
func (s *PaymentService) InitiatePayment(ctx context.Context, orderRef string, amount decimal.Decimal, currency string) (string, error) {
	orderRef = strings.TrimSpace(orderRef)
	if orderRef == "" {
		return "", ErrInvalidOrderRef
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidAmount
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := s.currencies[currency]; !ok {
		return "", ErrUnsupportedCurrency
	}

	var p *model.Payment
	var existingID string
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.GetActiveByOrderRef(ctx, tx, orderRef)
		if err != nil {
			return err
		}
		if existing != nil {
			existingID = existing.ID
			return nil
		}
		p = &model.Payment{
			ID:       uuid.NewString(),
			OrderRef: orderRef,
			Amount:   amount,
			Currency: currency,
			Status:   model.StatusInitiated,
		}
		return s.repo.CreatePayment(ctx, tx, p)
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost an insert race on the active-order index; the winner's
			// row is the payment of record and its key went to the PSP
			if existing, lookErr := s.repo.GetActiveByOrderRef(ctx, s.repo.DB(ctx), orderRef); lookErr == nil && existing != nil {
				return existing.ID, ErrDuplicatePayment
			}
			return "", ErrDuplicatePayment
		}
		return "", fmt.Errorf("persist payment: %w", err)
	}
	if existingID != "" {
		return existingID, ErrDuplicatePayment
	}

	providerRef, callErr := s.client.CreateIntent(ctx, provider.IntentRequest{
		IdempotencyKey: p.ID,
		OrderRef:       orderRef,
		Amount:         amount,
		Currency:       currency,
	})

	if callErr != nil {
		if errors.Is(callErr, provider.ErrProviderUnavailable) {
			// no authoritative answer: row stays INITIATED for reconciliation
			s.log.Warnf("payment %s pending, provider unavailable: %v", p.ID, callErr)
			return p.ID, callErr
		}
		if err := s.transition(ctx, p, model.StatusFailed, nil,
			map[string]interface{}{"reason": callErr.Error()}); err != nil {
			return p.ID, err
		}
		return p.ID, callErr
	}

	if err := s.transition(ctx, p, model.StatusAuthorized, &providerRef, nil); err != nil {
		return p.ID, err
	}
	return p.ID, nil
}

// GetPayment loads a payment by id.
func (s *PaymentService) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	p, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetStatus returns the payment status, cache first.
func (s *PaymentService) GetStatus(ctx context.Context, id string) (model.Status, error) {
	if status, err := s.repo.GetCachedStatus(ctx, id); err == nil {
		return status, nil
	}
	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return "", err
	}
	if err := s.repo.CacheStatus(ctx, id, p.Status); err != nil {
		s.log.Warnf("cache status %s: %v", id, err)
	}
	return p.Status, nil
}

// transition applies one status change atomically with its outbox entry.
func (s *PaymentService) transition(ctx context.Context, p *model.Payment, to model.Status, providerRef *string, extra map[string]interface{}) error {
	err := s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.UpdatePaymentStatus(ctx, tx, p, to, providerRef); err != nil {
			return err
		}
		return s.repo.CreateOutboxEvent(ctx, tx, NewPaymentEvent(p, extra))
	})
	if err != nil {
		return fmt.Errorf("record %s: %w", to, err)
	}
	if err := s.repo.CacheStatus(ctx, p.ID, p.Status); err != nil {
		s.log.Warnf("cache status %s: %v", p.ID, err)
	}
	return nil
}

// Repo exposes underlying repository (unit tests helper).
func (s *PaymentService) Repo() repo.RepositoryInterface {
	return s.repo
}

// NewPaymentEvent builds the outbox entry for the payment's current state.
// Event types follow the payment.<status> convention, e.g. payment.authorized.
func NewPaymentEvent(p *model.Payment, extra map[string]interface{}) *model.OutboxEvent {
	body := map[string]interface{}{
		"payment_id": p.ID,
		"order_ref":  p.OrderRef,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"status":     p.Status,
	}
	if p.ProviderRef != nil {
		body["provider_ref"] = *p.ProviderRef
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	return &model.OutboxEvent{
		EventID:     uuid.NewString(),
		Aggregate:   "Payment",
		AggregateID: p.ID,
		EventType:   "payment." + strings.ToLower(string(p.Status)),
		Payload:     string(payload),
	}
}

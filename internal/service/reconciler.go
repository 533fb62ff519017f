package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/richardliu001/payment-core/internal/model"
	"github.com/richardliu001/payment-core/internal/repo"
	"github.com/richardliu001/payment-core/internal/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// webhookStatuses maps provider callback statuses to ledger statuses. Only the
// reconciler moves payments to SETTLED and REFUNDED.
var webhookStatuses = map[string]model.Status{
	"settled":  model.StatusSettled,
	"failed":   model.StatusFailed,
	"refunded": model.StatusRefunded,
}

// Reconciler applies authoritative PSP callbacks to the ledger.
type Reconciler struct {
	repo     repo.RepositoryInterface
	verifier *webhook.Verifier
	log      *zap.SugaredLogger
}

func NewReconciler(r repo.RepositoryInterface, v *webhook.Verifier, logger *zap.SugaredLogger) *Reconciler {
	return &Reconciler{repo: r, verifier: v, log: logger}
}

// HandleCallback verifies, decodes and applies one provider callback.
// Duplicate deliveries are absorbed as no-ops; backward transitions are
// rejected with ErrInvalidTransition and leave the row untouched.
func (r *Reconciler) HandleCallback(ctx context.Context, rawPayload []byte, signature string) error {
	if err := r.verifier.Verify(rawPayload, signature); err != nil {
		r.log.Warnf("callback rejected: %v", err)
		return err
	}

	evt, err := webhook.ParseEvent(rawPayload)
	if err != nil {
		return err
	}
	target, ok := webhookStatuses[evt.Status]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", webhook.ErrMalformedEvent, evt.Status)
	}

	var cachedID string
	err = r.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := r.repo.GetByProviderRefForUpdate(ctx, tx, evt.ProviderRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: provider_ref=%s", ErrPaymentNotFound, evt.ProviderRef)
			}
			return err
		}
		if p.Status == target {
			// duplicate delivery, already applied
			r.log.Infof("duplicate callback for payment %s (%s), no-op", p.ID, target)
			return nil
		}
		if !model.CanTransition(p.Status, target) {
			return fmt.Errorf("%w: %s -> %s (payment %s)", ErrInvalidTransition, p.Status, target, p.ID)
		}
		if err := r.repo.UpdatePaymentStatus(ctx, tx, p, target, nil); err != nil {
			return err
		}
		cachedID = p.ID
		return r.repo.CreateOutboxEvent(ctx, tx, NewPaymentEvent(p, map[string]interface{}{
			"provider_event_id": evt.EventID,
		}))
	})
	if err != nil {
		return err
	}
	if cachedID != "" {
		if err := r.repo.CacheStatus(ctx, cachedID, target); err != nil {
			r.log.Warnf("cache status %s: %v", cachedID, err)
		}
	}
	return nil
}

package outbox

import (
	"context"
	"time"

	"github.com/richardliu001/payment-core/internal/repo"
	"go.uber.org/zap"
)

// Publisher drains the outbox to the transport on a fixed interval.
// At-least-once: an entry is marked processed only after the transport ack,
// so a crash between the two re-delivers and consumers dedupe on event_id.
type Publisher struct {
	repo     repo.RepositoryInterface
	interval time.Duration
	batch    int
	log      *zap.SugaredLogger
}

func NewPublisher(r repo.RepositoryInterface, interval time.Duration, batch int, logger *zap.SugaredLogger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Publisher{repo: r, interval: interval, batch: batch, log: logger}
}

// Run polls until ctx is canceled. No payment locks are held between scans.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			p.DrainOnce(ctx)
		}
	}
}

// DrainOnce publishes one batch. A publish failure blocks that aggregate's
// later entries for the rest of the scan so per-payment order holds; other
// aggregates keep going.
func (p *Publisher) DrainOnce(ctx context.Context) {
	events, err := p.repo.PollOutbox(ctx, p.batch)
	if err != nil {
		p.log.Errorf("poll outbox: %v", err)
		return
	}

	blocked := make(map[string]bool)
	for _, evt := range events {
		if blocked[evt.AggregateID] {
			continue
		}
		if err := p.repo.PublishEvent(ctx, evt); err != nil {
			p.log.Errorf("publish event %d (%s): %v", evt.ID, evt.EventType, err)
			blocked[evt.AggregateID] = true
			continue
		}
		if err := p.repo.MarkOutboxProcessed(ctx, evt.ID); err != nil {
			p.log.Errorf("mark processed %d: %v", evt.ID, err)
			blocked[evt.AggregateID] = true
			continue
		}
		p.log.Infof("event %d (%s) sent", evt.ID, evt.EventType)
	}
}

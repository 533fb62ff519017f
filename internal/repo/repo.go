package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/payment-core/internal/model"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStatusConflict is returned when a conditional status update lost a race:
// the row's current status/version no longer matches the expected pre-state.
var ErrStatusConflict = errors.New("payment status conflict")

// EventWriter is the slice of kafka.Writer the repository needs.
type EventWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RepositoryInterface restricts Repo methods (方便单元测试 mock)
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error
	GetPayment(ctx context.Context, id string) (*model.Payment, error)
	GetActiveByOrderRef(ctx context.Context, tx *gorm.DB, orderRef string) (*model.Payment, error)
	GetByProviderRefForUpdate(ctx context.Context, tx *gorm.DB, providerRef string) (*model.Payment, error)
	UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, p *model.Payment, to model.Status, providerRef *string) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	ListStaleInitiated(ctx context.Context, olderThan time.Duration, limit int) ([]model.Payment, error)
	CacheStatus(ctx context.Context, paymentID string, status model.Status) error
	GetCachedStatus(ctx context.Context, paymentID string) (model.Status, error)
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer EventWriter
	log    *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, rdb *redis.Client, w EventWriter, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// CreatePayment inserts a new ledger row.
func (r *Repository) CreatePayment(ctx context.Context, tx *gorm.DB, p *model.Payment) error {
	return tx.WithContext(ctx).Create(p).Error
}

// GetPayment loads a payment by id.
func (r *Repository) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	var p model.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActiveByOrderRef locks and returns the order's in-flight payment, if any.
// FAILED and REFUNDED payments do not block re-initiation and are skipped.
func (r *Repository) GetActiveByOrderRef(ctx context.Context, tx *gorm.DB, orderRef string) (*model.Payment, error) {
	var p model.Payment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_ref = ? AND status NOT IN ?", orderRef,
			[]model.Status{model.StatusFailed, model.StatusRefunded}).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByProviderRefForUpdate locks the payment row for a provider reference.
func (r *Repository) GetByProviderRefForUpdate(ctx context.Context, tx *gorm.DB, providerRef string) (*model.Payment, error) {
	var p model.Payment
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_ref = ?", providerRef).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePaymentStatus writes the new status conditionally on the payment still
// being in the status/version the caller read. RowsAffected==0 means another
// writer got there first.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, tx *gorm.DB, p *model.Payment, to model.Status, providerRef *string) error {
	updates := map[string]interface{}{
		"status":     to,
		"version":    p.Version + 1,
		"updated_at": time.Now(),
	}
	if providerRef != nil {
		updates["provider_ref"] = *providerRef
	}
	res := tx.WithContext(ctx).
		Model(&model.Payment{}).
		Where("id = ? AND status = ? AND version = ?", p.ID, p.Status, p.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	p.Status = to
	p.Version++
	if providerRef != nil {
		p.ProviderRef = providerRef
	}
	return nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events in insertion order.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed=false").Order("id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id=?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

type eventEnvelope struct {
	EventID     string          `json:"event_id"`
	AggregateID string          `json:"aggregate_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Timestamp   time.Time       `json:"timestamp"`
}

// PublishEvent sends to Kafka. Keying by aggregate id keeps one payment's
// events in a single partition, in creation order.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	value, err := json.Marshal(eventEnvelope{
		EventID:     evt.EventID,
		AggregateID: evt.AggregateID,
		Type:        evt.EventType,
		Payload:     json.RawMessage(evt.Payload),
		Timestamp:   evt.CreatedAt,
	})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.AggregateID),
		Value: value,
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// ListStaleInitiated returns payments stuck in INITIATED past the threshold.
func (r *Repository) ListStaleInitiated(ctx context.Context, olderThan time.Duration, limit int) ([]model.Payment, error) {
	var stale []model.Payment
	cutoff := time.Now().Add(-olderThan)
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.StatusInitiated, cutoff).
		Order("updated_at").Limit(limit).Find(&stale).Error
	return stale, err
}

// CacheStatus writes Redis.
func (r *Repository) CacheStatus(ctx context.Context, paymentID string, status model.Status) error {
	return r.rdb.Set(ctx, fmt.Sprintf("payment:%s:status", paymentID), string(status), 5*time.Minute).Err()
}

// GetCachedStatus reads Redis.
func (r *Repository) GetCachedStatus(ctx context.Context, paymentID string) (model.Status, error) {
	str, err := r.rdb.Get(ctx, fmt.Sprintf("payment:%s:status", paymentID)).Result()
	if err != nil {
		return "", err
	}
	return model.Status(str), nil
}

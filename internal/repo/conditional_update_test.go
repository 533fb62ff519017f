package repo

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/payment-core/internal/logger"
	"github.com/richardliu001/payment-core/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestRepo(t *testing.T, name string) (*Repository, context.Context) {
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	assert.NoError(t, err)
	assert.NoError(t, model.Migrate(db))

	log, err := logger.NewLogger()
	assert.NoError(t, err)
	return NewRepository(db, nil, nil, log), context.Background()
}

func seedPayment(t *testing.T, r *Repository, ctx context.Context, id, orderRef string, status model.Status, providerRef *string) *model.Payment {
	p := &model.Payment{
		ID:          id,
		OrderRef:    orderRef,
		Amount:      decimal.NewFromInt(10),
		Currency:    "USD",
		Status:      status,
		ProviderRef: providerRef,
	}
	assert.NoError(t, r.DB(ctx).Create(p).Error)
	return p
}

func TestUpdatePaymentStatus_ConditionalWrite(t *testing.T) {
	r, ctx := newTestRepo(t, "repo_cas")
	seedPayment(t, r, ctx, "p1", "O1", model.StatusInitiated, nil)

	// two readers hold the same pre-state
	stale := &model.Payment{ID: "p1", Status: model.StatusInitiated, Version: 0}
	fresh := &model.Payment{ID: "p1", Status: model.StatusInitiated, Version: 0}

	ref := "pr_1"
	assert.NoError(t, r.UpdatePaymentStatus(ctx, r.DB(ctx), fresh, model.StatusAuthorized, &ref))
	assert.Equal(t, model.StatusAuthorized, fresh.Status)
	assert.Equal(t, uint64(1), fresh.Version)

	// the loser of the race must not overwrite the winner
	err := r.UpdatePaymentStatus(ctx, r.DB(ctx), stale, model.StatusFailed, nil)
	assert.ErrorIs(t, err, ErrStatusConflict)

	final, err := r.GetPayment(ctx, "p1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusAuthorized, final.Status)
	assert.Equal(t, "pr_1", *final.ProviderRef)
}

func TestOrderProviderPairUnique(t *testing.T) {
	r, ctx := newTestRepo(t, "repo_unique")
	ref := "pr_1"
	seedPayment(t, r, ctx, "p1", "O1", model.StatusRefunded, &ref)

	// same (order, provider) pair must be rejected: the double-charge guard
	dup := &model.Payment{
		ID: "p2", OrderRef: "O1", Amount: decimal.NewFromInt(10),
		Currency: "USD", Status: model.StatusRefunded, ProviderRef: &ref,
	}
	assert.ErrorIs(t, r.DB(ctx).Create(dup).Error, gorm.ErrDuplicatedKey)

	// a refunded attempt plus a fresh payment without provider ref is fine
	fresh := &model.Payment{
		ID: "p3", OrderRef: "O1", Amount: decimal.NewFromInt(10),
		Currency: "USD", Status: model.StatusInitiated,
	}
	assert.NoError(t, r.DB(ctx).Create(fresh).Error)
}

func TestActiveOrderUnique(t *testing.T) {
	r, ctx := newTestRepo(t, "repo_active_unique")
	seedPayment(t, r, ctx, "p1", "O1", model.StatusInitiated, nil)

	// a second in-flight row for the order is rejected by the partial index
	// even though both provider refs are NULL
	dup := &model.Payment{
		ID: "p2", OrderRef: "O1", Amount: decimal.NewFromInt(10),
		Currency: "USD", Status: model.StatusInitiated,
	}
	assert.ErrorIs(t, r.DB(ctx).Create(dup).Error, gorm.ErrDuplicatedKey)

	// once the first attempt fails the order can be charged again
	assert.NoError(t, r.DB(ctx).Model(&model.Payment{}).Where("id=?", "p1").
		Update("status", model.StatusFailed).Error)
	assert.NoError(t, r.DB(ctx).Create(dup).Error)
}

func TestGetActiveByOrderRef_SkipsReinitiable(t *testing.T) {
	r, ctx := newTestRepo(t, "repo_active")
	seedPayment(t, r, ctx, "p1", "O1", model.StatusFailed, nil)

	p, err := r.GetActiveByOrderRef(ctx, r.DB(ctx), "O1")
	assert.NoError(t, err)
	assert.Nil(t, p)

	seedPayment(t, r, ctx, "p2", "O1", model.StatusInitiated, nil)
	p, err = r.GetActiveByOrderRef(ctx, r.DB(ctx), "O1")
	assert.NoError(t, err)
	assert.Equal(t, "p2", p.ID)
}

func TestListStaleInitiated(t *testing.T) {
	r, ctx := newTestRepo(t, "repo_stale")
	seedPayment(t, r, ctx, "p1", "O1", model.StatusInitiated, nil)
	seedPayment(t, r, ctx, "p2", "O2", model.StatusAuthorized, nil)

	// everything is fresh
	stale, err := r.ListStaleInitiated(ctx, time.Hour, 10)
	assert.NoError(t, err)
	assert.Empty(t, stale)

	// age p1 past the threshold
	old := time.Now().Add(-2 * time.Hour)
	assert.NoError(t, r.DB(ctx).Model(&model.Payment{}).Where("id=?", "p1").
		Update("updated_at", old).Error)

	stale, err = r.ListStaleInitiated(ctx, time.Hour, 10)
	assert.NoError(t, err)
	assert.Len(t, stale, 1)
	assert.Equal(t, "p1", stale[0].ID)
}

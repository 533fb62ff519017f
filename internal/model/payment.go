package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Payment struct {
	ID          string          `gorm:"primaryKey;size:36"`
	OrderRef    string          `gorm:"size:64;not null;index;uniqueIndex:uniq_order_provider"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Currency    string          `gorm:"size:3;not null"`
	Status      Status          `gorm:"size:16;not null"`
	ProviderRef *string         `gorm:"size:128;uniqueIndex:uniq_order_provider"`
	Version     uint64          `gorm:"not null;default:0"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime"`
}

func (Payment) TableName() string { return "payment" }

// Migrate creates the schema plus the partial unique index that allows at
// most one non-reinitiable payment per order. The index backs the engine's
// duplicate-initiation guard under concurrent inserts, where a FOR UPDATE
// read over zero rows locks nothing; gorm tags cannot express the predicate.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Payment{}, &OutboxEvent{}); err != nil {
		return err
	}
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS uniq_active_order ON payment(order_ref) WHERE status NOT IN ('FAILED','REFUNDED')`,
	).Error
}

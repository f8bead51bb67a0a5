package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"gorm.io/gorm"
)

// Reconciliation records one applied payment. Its key is unique, so a
// redelivered notification can never be applied twice. The rows double as
// the revenue record consumed by the rollup.
type Reconciliation struct {
	ID                snowflake.ID                  `gorm:"primaryKey" json:"id"`
	ReconciliationKey string                        `gorm:"column:reconciliation_key;size:255;not null;uniqueIndex" json:"reconciliation_key"`
	Provider          string                        `gorm:"size:32;not null" json:"provider"`
	ProviderEventID   string                        `gorm:"size:255;not null" json:"provider_event_id"`
	PackageID         string                        `gorm:"column:package_id;size:64;not null;index" json:"package_id"`
	CustomerID        string                        `gorm:"column:customer_id;size:64;not null" json:"customer_id"`
	PaymentType       pricing.PaymentType           `gorm:"size:16;not null" json:"payment_type"`
	InsuranceTier     inventorydomain.InsuranceTier `gorm:"size:32;not null" json:"insurance_tier"`
	Amount            int64                         `gorm:"not null" json:"amount"`
	Currency          string                        `gorm:"size:3;not null" json:"currency"`
	AppliedAt         time.Time                     `gorm:"not null;index" json:"applied_at"`
}

func (Reconciliation) TableName() string { return "package_reconciliations" }

const (
	EventTypeCheckoutCompleted     = "checkout.session.completed"
	EventTypeAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
)

// PaymentEvent is a verified processor notification in canonical form.
type PaymentEvent struct {
	Provider          string
	ProviderEventID   string
	EventType         string
	ReconciliationKey string
	PackageID         string
	CustomerID        string
	PaymentType       pricing.PaymentType
	InsuranceTier     inventorydomain.InsuranceTier
	Amount            int64
	Currency          string
	OccurredAt        time.Time
}

// Adapter authenticates and decodes notifications from one processor.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type Repository interface {
	// InsertReconciliation returns false when the key was already applied.
	InsertReconciliation(ctx context.Context, tx *gorm.DB, rec *Reconciliation) (bool, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*Reconciliation, error)
	ListByPackage(ctx context.Context, db *gorm.DB, packageID string) ([]*Reconciliation, error)
}

// Outcome describes what a delivery did; every outcome is a success for the processor.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeSkipped   Outcome = "skipped"
)

type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (Outcome, error)
	ListReconciliations(ctx context.Context, packageID string) ([]*Reconciliation, error)
}

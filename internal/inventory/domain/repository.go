package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListFilter selects packages by stored status. From and To bound the
// settlement time: purchase time when paid, deposit time otherwise.
type ListFilter struct {
	Statuses []Status
	From     *time.Time
	To       *time.Time
	AfterID  snowflake.ID
	Limit    int
}

// PaymentUpdate carries the columns written when a payment is applied.
type PaymentUpdate struct {
	Status        Status
	InsuranceTier InsuranceTier
	DepositAt     *time.Time
	DepositAmount int64
	PaymentDueAt  *time.Time
	PurchaseAt    *time.Time
	UpdatedAt     time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, pkg *Package) error
	FindByPackageID(ctx context.Context, db *gorm.DB, packageID string) (*Package, error)
	FindByPackageIDForUpdate(ctx context.Context, tx *gorm.DB, packageID string) (*Package, error)
	MarkClaimed(ctx context.Context, tx *gorm.DB, id snowflake.ID, referralCode string, customerID string, claimedAt time.Time) (bool, error)
	ApplyPayment(ctx context.Context, tx *gorm.DB, id snowflake.ID, version int64, update PaymentUpdate) (bool, error)
	MarkCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID, version int64, cancelledAt time.Time) (bool, error)
	ListByStatus(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Package, error)
}

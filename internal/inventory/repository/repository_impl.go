package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/packclaim/internal/inventory/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, pkg *domain.Package) error {
	return db.WithContext(ctx).Create(pkg).Error
}

func (r *repo) FindByPackageID(ctx context.Context, db *gorm.DB, packageID string) (*domain.Package, error) {
	return findOne(db.WithContext(ctx), packageID)
}

// FindByPackageIDForUpdate row-locks the package until tx ends. SQLite has no
// row locks; there the conditional writes below carry the guarantee alone.
func (r *repo) FindByPackageIDForUpdate(ctx context.Context, tx *gorm.DB, packageID string) (*domain.Package, error) {
	stmt := tx.WithContext(ctx)
	if tx.Dialector.Name() != "sqlite" {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return findOne(stmt, packageID)
}

func findOne(stmt *gorm.DB, packageID string) (*domain.Package, error) {
	var items []domain.Package
	err := stmt.
		Where("package_id = ?", packageID).
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// MarkClaimed moves an available package to pending. It matches no row when
// the package was claimed, cancelled or re-keyed since it was read.
func (r *repo) MarkClaimed(ctx context.Context, tx *gorm.DB, id snowflake.ID, referralCode string, customerID string, claimedAt time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&domain.Package{}).
		Where("id = ? AND status = ? AND referral_code = ? AND customer_id IS NULL", id, domain.StatusAvailable, referralCode).
		Updates(map[string]any{
			"status":      domain.StatusPending,
			"customer_id": customerID,
			"claimed_at":  claimedAt,
			"updated_at":  claimedAt,
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ApplyPayment(ctx context.Context, tx *gorm.DB, id snowflake.ID, version int64, update domain.PaymentUpdate) (bool, error) {
	values := map[string]any{
		"status":         update.Status,
		"insurance_tier": update.InsuranceTier,
		"updated_at":     update.UpdatedAt,
		"version":        gorm.Expr("version + 1"),
	}
	if update.DepositAt != nil {
		values["deposit_at"] = *update.DepositAt
		values["deposit_amount"] = update.DepositAmount
	}
	if update.PaymentDueAt != nil {
		values["payment_due_at"] = *update.PaymentDueAt
	}
	if update.PurchaseAt != nil {
		values["purchase_at"] = *update.PurchaseAt
	}

	res := tx.WithContext(ctx).
		Model(&domain.Package{}).
		Where("id = ? AND version = ?", id, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkCancelled(ctx context.Context, tx *gorm.DB, id snowflake.ID, version int64, cancelledAt time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&domain.Package{}).
		Where("id = ? AND version = ? AND status IN ?", id, version, []domain.Status{domain.StatusPending, domain.StatusDepositPaid}).
		Updates(map[string]any{
			"status":       domain.StatusCancelled,
			"cancelled_at": cancelledAt,
			"updated_at":   cancelledAt,
			"version":      gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Package, error) {
	var items []*domain.Package
	stmt := db.WithContext(ctx).Model(&domain.Package{})

	if len(filter.Statuses) > 0 {
		stmt = stmt.Where("status IN ?", filter.Statuses)
	}
	if filter.From != nil {
		stmt = stmt.Where("COALESCE(purchase_at, deposit_at) >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		stmt = stmt.Where("COALESCE(purchase_at, deposit_at) < ?", filter.To.UTC())
	}
	if filter.AfterID != 0 {
		stmt = stmt.Where("id > ?", filter.AfterID)
	}

	stmt = stmt.Order("id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

package repository

import (
	"context"

	"github.com/smallbiznis/packclaim/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertReconciliation(ctx context.Context, tx *gorm.DB, rec *domain.Reconciliation) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reconciliation_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.Reconciliation, error) {
	var item domain.Reconciliation
	err := db.WithContext(ctx).Raw(
		`SELECT id, reconciliation_key, provider, provider_event_id, package_id, customer_id,
			payment_type, insurance_tier, amount, currency, applied_at
		 FROM package_reconciliations
		 WHERE reconciliation_key = ?
		 LIMIT 1`,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByPackage(ctx context.Context, db *gorm.DB, packageID string) ([]*domain.Reconciliation, error) {
	var items []*domain.Reconciliation
	err := db.WithContext(ctx).
		Where("package_id = ?", packageID).
		Order("applied_at asc, id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

package repository

import (
	"context"

	"github.com/smallbiznis/packclaim/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, customer_id, package_id, name, email, phone, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.CustomerID,
		customer.PackageID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.CreatedAt,
	).Error
}

func (r *repo) FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, "customer_id = ?", customerID)
}

func (r *repo) FindByPackageID(ctx context.Context, db *gorm.DB, packageID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, "package_id = ?", packageID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where(where, arg).
		Limit(1).
		Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

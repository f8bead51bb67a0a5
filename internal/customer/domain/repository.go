package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*Customer, error)
	FindByPackageID(ctx context.Context, db *gorm.DB, packageID string) (*Customer, error)
}

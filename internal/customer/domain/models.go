package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is created exactly once, by the transaction that claims its package.
type Customer struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID string       `gorm:"column:customer_id;size:64;not null;uniqueIndex" json:"customer_id"`
	PackageID  string       `gorm:"column:package_id;size:64;not null;uniqueIndex" json:"package_id"`
	Name       string       `gorm:"size:255;not null" json:"name"`
	Email      string       `gorm:"size:255;not null" json:"email"`
	Phone      string       `gorm:"size:32" json:"phone,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"created_at"`
}

func (Customer) TableName() string { return "customers" }

// Profile is the contact information collected during a claim.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

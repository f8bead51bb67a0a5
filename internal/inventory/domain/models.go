package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusAvailable   Status = "available"
	StatusPending     Status = "pending"
	StatusDepositPaid Status = "deposit_paid"
	StatusPaid        Status = "paid"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
)

// Rank orders statuses along the claim lifecycle. Expired and Cancelled are
// terminal and rank above every live status.
func (s Status) Rank() int {
	switch s {
	case StatusAvailable:
		return 0
	case StatusPending:
		return 1
	case StatusDepositPaid:
		return 2
	case StatusPaid:
		return 3
	case StatusExpired, StatusCancelled:
		return 4
	default:
		return -1
	}
}

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusPending:
		return StatusPending, nil
	case StatusDepositPaid:
		return StatusDepositPaid, nil
	case StatusPaid:
		return StatusPaid, nil
	case StatusExpired:
		return StatusExpired, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", ErrInvalidStatus
	}
}

type InsuranceTier string

const (
	InsuranceNone     InsuranceTier = "none"
	InsuranceStandard InsuranceTier = "standard"
	InsuranceDoubleUp InsuranceTier = "double_up"
)

// ParseInsuranceTier accepts an empty value as InsuranceNone.
func ParseInsuranceTier(raw string) (InsuranceTier, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	switch InsuranceTier(value) {
	case "", InsuranceNone:
		return InsuranceNone, nil
	case InsuranceStandard:
		return InsuranceStandard, nil
	case InsuranceDoubleUp, "doubleup":
		return InsuranceDoubleUp, nil
	default:
		return "", ErrInvalidInsuranceTier
	}
}

type Trip struct {
	Destination string `json:"destination"`
	Nights      int    `json:"nights"`
	Description string `json:"description,omitempty"`
}

// Package is the claimable inventory unit. ID is the storage key; PackageID is
// the business identifier printed on the referral.
type Package struct {
	ID            snowflake.ID              `gorm:"primaryKey" json:"id"`
	PackageID     string                    `gorm:"column:package_id;size:64;not null;uniqueIndex" json:"package_id"`
	ReferralCode  string                    `gorm:"size:64;not null;index" json:"-"`
	AgentID       string                    `gorm:"size:64;not null;index" json:"agent_id"`
	CompanyID     string                    `gorm:"size:64;not null;index" json:"company_id"`
	Title         string                    `gorm:"size:255;not null" json:"title"`
	Trips         datatypes.JSONSlice[Trip] `json:"trips"`
	BasePrice     int64                     `gorm:"not null" json:"base_price"`
	Currency      string                    `gorm:"size:3;not null" json:"currency"`
	Status        Status                    `gorm:"size:32;not null;index" json:"status"`
	CustomerID    *string                   `gorm:"size:64;index" json:"customer_id,omitempty"`
	InsuranceTier InsuranceTier             `gorm:"size:32;not null;default:none" json:"insurance_tier"`
	ClaimedAt     *time.Time                `json:"claimed_at,omitempty"`
	DepositAt     *time.Time                `json:"deposit_at,omitempty"`
	DepositAmount int64                     `gorm:"not null;default:0" json:"deposit_amount"`
	PurchaseAt    *time.Time                `json:"purchase_at,omitempty"`
	PaymentDueAt  *time.Time                `json:"payment_due_at,omitempty"`
	CancelledAt   *time.Time                `json:"cancelled_at,omitempty"`
	Version       int64                     `gorm:"not null;default:1" json:"-"`
	CreatedAt     time.Time                 `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                 `gorm:"not null" json:"updated_at"`
}

func (Package) TableName() string { return "packages" }

// Deadlines are derived from stored timestamps at read time.
type Deadlines struct {
	ClaimDeadline          *time.Time `json:"claim_deadline,omitempty"`
	DepositBalanceDeadline *time.Time `json:"deposit_balance_deadline,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	NeverExpires           bool       `json:"never_expires"`
}

// View is a package as callers should see it right now.
type View struct {
	Package
	EffectiveStatus Status    `json:"effective_status"`
	Deadlines       Deadlines `json:"deadlines"`
}

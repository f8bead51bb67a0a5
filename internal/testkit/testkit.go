// Package testkit wires the storage-backed collaborators shared by service tests.
package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	auditrepo "github.com/smallbiznis/packclaim/internal/audit/repository"
	auditservice "github.com/smallbiznis/packclaim/internal/audit/service"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Epoch is the fixed start time of every test clock.
var Epoch = time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC)

// CanonicalPricing mirrors the documented pricing table in whole units.
func CanonicalPricing() config.PricingTable {
	return config.PricingTable{
		Currency: "usd",
		Deposit:  200,
		Surcharge: config.SurchargeTable{
			None:     0,
			Standard: 200,
			DoubleUp: 600,
		},
	}
}

type Env struct {
	DB        *gorm.DB
	Node      *snowflake.Node
	Clock     *clock.FakeClock
	Log       *zap.Logger
	Audit     auditdomain.Service
	Publisher *events.Recorder
	Cfg       config.Config
}

func New(t testing.TB) *Env {
	t.Helper()

	conn := dbtest.Open(t)
	node := dbtest.Node(t)
	clk := clock.NewFakeClock(Epoch)
	log := zap.NewNop()

	return &Env{
		DB:    conn,
		Node:  node,
		Clock: clk,
		Log:   log,
		Audit: auditservice.NewService(auditservice.Params{
			DB:    conn,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  auditrepo.Provide(),
		}),
		Publisher: &events.Recorder{},
		Cfg:       config.Config{TxMaxAttempts: 5},
	}
}

// PackageOption adjusts a seeded package before insert.
type PackageOption func(*inventorydomain.Package)

func WithStatus(status inventorydomain.Status) PackageOption {
	return func(p *inventorydomain.Package) { p.Status = status }
}

func WithBasePrice(price int64) PackageOption {
	return func(p *inventorydomain.Package) { p.BasePrice = price }
}

// WithClaim marks the package pending for customerID at claimedAt.
func WithClaim(customerID string, claimedAt time.Time) PackageOption {
	return func(p *inventorydomain.Package) {
		p.Status = inventorydomain.StatusPending
		p.CustomerID = &customerID
		p.ClaimedAt = &claimedAt
	}
}

// WithDeposit marks the package deposit-paid.
func WithDeposit(amount int64, depositAt, dueAt time.Time) PackageOption {
	return func(p *inventorydomain.Package) {
		p.Status = inventorydomain.StatusDepositPaid
		p.DepositAmount = amount
		p.DepositAt = &depositAt
		p.PaymentDueAt = &dueAt
	}
}

// WithPurchase marks the package paid.
func WithPurchase(purchaseAt time.Time, tier inventorydomain.InsuranceTier) PackageOption {
	return func(p *inventorydomain.Package) {
		p.Status = inventorydomain.StatusPaid
		p.PurchaseAt = &purchaseAt
		p.InsuranceTier = tier
	}
}

// SeedPackage inserts an available package unless options say otherwise.
func (e *Env) SeedPackage(t testing.TB, packageID, referralCode string, opts ...PackageOption) inventorydomain.Package {
	t.Helper()

	now := e.Clock.Now()
	pkg := inventorydomain.Package{
		ID:            e.Node.Generate(),
		PackageID:     packageID,
		ReferralCode:  referralCode,
		AgentID:       "agent-1",
		CompanyID:     "company-1",
		Title:         "Island hopping",
		Trips:         []inventorydomain.Trip{{Destination: "Lisbon", Nights: 3}},
		BasePrice:     1000,
		Currency:      "usd",
		Status:        inventorydomain.StatusAvailable,
		InsuranceTier: inventorydomain.InsuranceNone,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, opt := range opts {
		opt(&pkg)
	}
	if err := e.DB.WithContext(context.Background()).Create(&pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return pkg
}

// LoadPackage reads the stored row.
func (e *Env) LoadPackage(t testing.TB, packageID string) inventorydomain.Package {
	t.Helper()
	var pkg inventorydomain.Package
	if err := e.DB.Where("package_id = ?", packageID).First(&pkg).Error; err != nil {
		t.Fatalf("load package %s: %v", packageID, err)
	}
	return pkg
}

// Count returns the number of rows in table matching where.
func (e *Env) Count(t testing.TB, table string, where string, args ...any) int64 {
	t.Helper()
	var n int64
	stmt := e.DB.Table(table)
	if where != "" {
		stmt = stmt.Where(where, args...)
	}
	if err := stmt.Count(&n).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

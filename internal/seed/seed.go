package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/packclaim/internal/clock"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"gorm.io/gorm"
)

type demoPackage struct {
	packageID string
	referral  string
	title     string
	trips     []inventorydomain.Trip
	basePrice int64
}

// demoPackages are issued by a fictional agent so a local stack can be
// walked end to end without an issuance tool.
var demoPackages = []demoPackage{
	{
		packageID: "DEMO-LISBON",
		referral:  "LISBON-2025",
		title:     "Lisbon long weekend",
		trips:     []inventorydomain.Trip{{Destination: "Lisbon", Nights: 3}},
		basePrice: 150_000,
	},
	{
		packageID: "DEMO-ISLANDS",
		referral:  "ISLANDS-2025",
		title:     "Island hopping",
		trips: []inventorydomain.Trip{
			{Destination: "Madeira", Nights: 4},
			{Destination: "Azores", Nights: 3, Description: "ferry transfer included"},
		},
		basePrice: 320_000,
	},
}

const (
	demoAgentID   = "agent-demo"
	demoCompanyID = "company-demo"
	demoCurrency  = "usd"
)

// EnsureDemoPackages issues the demo packages that are missing and returns
// how many were created. Existing rows are left untouched whatever their status.
func EnsureDemoPackages(ctx context.Context, db *gorm.DB, node *snowflake.Node, clk clock.Clock) (int, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, demo := range demoPackages {
			var existing inventorydomain.Package
			err := tx.WithContext(ctx).Where("package_id = ?", demo.packageID).First(&existing).Error
			if err == nil {
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			now := clk.Now()
			pkg := inventorydomain.Package{
				ID:            node.Generate(),
				PackageID:     demo.packageID,
				ReferralCode:  demo.referral,
				AgentID:       demoAgentID,
				CompanyID:     demoCompanyID,
				Title:         demo.title,
				Trips:         demo.trips,
				BasePrice:     demo.basePrice,
				Currency:      demoCurrency,
				Status:        inventorydomain.StatusAvailable,
				InsuranceTier: inventorydomain.InsuranceNone,
				Version:       1,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.WithContext(ctx).Create(&pkg).Error; err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return created, nil
}

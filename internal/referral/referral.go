// Package referral answers whether a (package, referral code) pair can still
// be claimed. It never writes.
package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/packclaim/internal/clock"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrNotFound         = errors.New("package_not_found")
	ErrReferralMismatch = errors.New("referral_mismatch")
	ErrAlreadyClaimed   = errors.New("already_claimed")
)

// Snapshot is the display copy returned to a prospective claimant.
type Snapshot struct {
	PackageID string                 `json:"package_id"`
	Title     string                 `json:"title"`
	BasePrice int64                  `json:"base_price"`
	Currency  string                 `json:"currency"`
	Trips     []inventorydomain.Trip `json:"trips"`
	AgentID   string                 `json:"agent_id"`
	CompanyID string                 `json:"company_id"`
	CheckedAt time.Time              `json:"checked_at"`
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  inventorydomain.Repository
}

type Validator struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  inventorydomain.Repository
}

func NewValidator(p Params) *Validator {
	return &Validator{
		db:    p.DB,
		log:   p.Log.Named("referral.validator"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Validate checks the pair against the stored package and its effective
// status. A pass is advisory; the claim transaction re-checks everything.
func (v *Validator) Validate(ctx context.Context, packageID, referralCode string) (Snapshot, error) {
	packageID = strings.TrimSpace(packageID)
	referralCode = strings.TrimSpace(referralCode)
	if packageID == "" || referralCode == "" {
		return Snapshot{}, ErrInvalidRequest
	}

	pkg, err := v.repo.FindByPackageID(ctx, v.db, packageID)
	if err != nil {
		return Snapshot{}, err
	}
	if pkg == nil {
		return Snapshot{}, ErrNotFound
	}
	if !CodesMatch(pkg.ReferralCode, referralCode) {
		v.log.Info("referral mismatch", zap.String("package_id", packageID))
		return Snapshot{}, ErrReferralMismatch
	}

	now := v.clock.Now()
	if timepolicy.EffectiveStatus(*pkg, now) != inventorydomain.StatusAvailable {
		return Snapshot{}, ErrAlreadyClaimed
	}

	return Snapshot{
		PackageID: pkg.PackageID,
		Title:     pkg.Title,
		BasePrice: pkg.BasePrice,
		Currency:  pkg.Currency,
		Trips:     []inventorydomain.Trip(pkg.Trips),
		AgentID:   pkg.AgentID,
		CompanyID: pkg.CompanyID,
		CheckedAt: now,
	}, nil
}

// CodesMatch compares referral codes exactly after trimming.
func CodesMatch(stored, given string) bool {
	return strings.TrimSpace(stored) == strings.TrimSpace(given)
}

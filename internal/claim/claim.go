// Package claim binds a package to exactly one customer.
package claim

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/auditcontext"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	customerdomain "github.com/smallbiznis/packclaim/internal/customer/domain"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/referral"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"github.com/smallbiznis/packclaim/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest   = referral.ErrInvalidRequest
	ErrNotFound         = referral.ErrNotFound
	ErrReferralMismatch = referral.ErrReferralMismatch
	ErrAlreadyClaimed   = referral.ErrAlreadyClaimed
	ErrClaimExpired     = errors.New("claim_expired")
	ErrCustomerExists   = customerdomain.ErrExists
)

type ClaimRequest struct {
	PackageID    string
	ReferralCode string
	// CustomerID is optional; a new identity is generated when empty.
	CustomerID string
	Profile    customerdomain.Profile
}

type ClaimResult struct {
	CustomerID    string    `json:"customer_id"`
	PackageID     string    `json:"package_id"`
	ClaimedAt     time.Time `json:"claimed_at"`
	ClaimDeadline time.Time `json:"claim_deadline"`
	// Replayed is set when the same customer repeats a claim it already won.
	Replayed bool `json:"replayed,omitempty"`
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Packages  inventorydomain.Repository
	Customers customerdomain.Repository
	AuditSvc  auditdomain.Service
	Publisher events.Publisher
	Metrics   *metrics.Metrics `optional:"true"`
	Cfg       config.Config
}

type Manager struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	packages    inventorydomain.Repository
	customers   customerdomain.Repository
	auditSvc    auditdomain.Service
	publisher   events.Publisher
	metrics     *metrics.Metrics
	retry       db.RetryPolicy
	newIdentity func() string
}

func NewManager(p Params) *Manager {
	retry := db.DefaultRetryPolicy()
	if p.Cfg.TxMaxAttempts > 0 {
		retry.MaxAttempts = uint(p.Cfg.TxMaxAttempts)
	}
	log := p.Log.Named("claim.manager")
	retry.OnRetry = func(attempt int, err error) {
		p.Metrics.RecordTxRetry("claim")
		log.Warn("claim transaction retry", zap.Int("attempt", attempt), zap.Error(err))
	}

	return &Manager{
		db:          p.DB,
		log:         log,
		genID:       p.GenID,
		clock:       p.Clock,
		packages:    p.Packages,
		customers:   p.Customers,
		auditSvc:    p.AuditSvc,
		publisher:   p.Publisher,
		metrics:     p.Metrics,
		retry:       retry,
		newIdentity: uuid.NewString,
	}
}

// Claim moves an available package to pending and creates its customer in
// one transaction. Under concurrent attempts exactly one commits; the rest
// get ErrAlreadyClaimed and leave nothing behind.
func (m *Manager) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	packageID := strings.TrimSpace(req.PackageID)
	referralCode := strings.TrimSpace(req.ReferralCode)
	if packageID == "" || referralCode == "" {
		m.metrics.RecordClaim(metrics.OutcomeRejected)
		return ClaimResult{}, ErrInvalidRequest
	}
	profile, err := req.Profile.Normalize()
	if err != nil {
		m.metrics.RecordClaim(metrics.OutcomeRejected)
		return ClaimResult{}, err
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if len(customerID) > 64 {
		m.metrics.RecordClaim(metrics.OutcomeRejected)
		return ClaimResult{}, ErrInvalidRequest
	}
	if customerID == "" {
		customerID = m.newIdentity()
	}

	var (
		result  ClaimResult
		claimed inventorydomain.Package
	)
	err = db.WithTxRetry(ctx, m.db, m.retry, func(tx *gorm.DB) error {
		pkg, err := m.packages.FindByPackageIDForUpdate(ctx, tx, packageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return ErrNotFound
		}
		if !referral.CodesMatch(pkg.ReferralCode, referralCode) {
			return ErrReferralMismatch
		}

		now := m.clock.Now()
		if pkg.Status != inventorydomain.StatusAvailable {
			return m.rejectTaken(*pkg, customerID, now, &result)
		}

		existing, err := m.customers.FindByCustomerID(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrCustomerExists
		}

		ok, err := m.packages.MarkClaimed(ctx, tx, pkg.ID, pkg.ReferralCode, customerID, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyClaimed
		}

		if err := m.customers.Insert(ctx, tx, &customerdomain.Customer{
			ID:         m.genID.Generate(),
			CustomerID: customerID,
			PackageID:  pkg.PackageID,
			Name:       profile.Name,
			Email:      profile.Email,
			Phone:      profile.Phone,
			CreatedAt:  now,
		}); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ErrCustomerExists
			}
			return err
		}

		claimed = *pkg
		result = ClaimResult{
			CustomerID:    customerID,
			PackageID:     pkg.PackageID,
			ClaimedAt:     now,
			ClaimDeadline: timepolicy.ClaimDeadline(now),
		}
		return nil
	})
	if errors.Is(err, errReplayed) {
		m.metrics.RecordClaim(metrics.OutcomeIdempotent)
		return result, nil
	}
	if err != nil {
		m.recordFailure(packageID, err)
		return ClaimResult{}, err
	}

	m.metrics.RecordClaim(metrics.OutcomeSuccess)
	m.log.Info("package claimed",
		zap.String("package_id", result.PackageID),
		zap.String("customer_id", result.CustomerID),
	)

	auditCtx := auditcontext.WithActor(ctx, string(auditdomain.ActorTypeCustomer), customerID)
	if err := m.auditSvc.AuditLog(auditCtx, auditdomain.ActionPackageClaimed, "package", result.PackageID, map[string]any{
		"customer_id":    result.CustomerID,
		"referral_code":  referralCode,
		"email":          profile.Email,
		"claim_deadline": result.ClaimDeadline,
	}); err != nil {
		m.log.Warn("audit claim failed", zap.String("package_id", result.PackageID), zap.Error(err))
	}
	events.PublishAfterCommit(ctx, m.publisher, m.log, events.Event{
		Type:       events.TypePackageClaimed,
		PackageID:  claimed.PackageID,
		CustomerID: result.CustomerID,
		AgentID:    claimed.AgentID,
		CompanyID:  claimed.CompanyID,
		Status:     string(inventorydomain.StatusPending),
		OccurredAt: result.ClaimedAt,
	})
	return result, nil
}

var errReplayed = errors.New("claim_replayed")

// rejectTaken decides the error for a package that is no longer available.
// The winning customer repeating its own claim inside the window gets the
// original result back.
func (m *Manager) rejectTaken(pkg inventorydomain.Package, customerID string, now time.Time, result *ClaimResult) error {
	effective := timepolicy.EffectiveStatus(pkg, now)
	if pkg.Status == inventorydomain.StatusPending && effective == inventorydomain.StatusExpired {
		return ErrClaimExpired
	}
	if pkg.Status == inventorydomain.StatusPending && pkg.CustomerID != nil && *pkg.CustomerID == customerID && pkg.ClaimedAt != nil {
		*result = ClaimResult{
			CustomerID:    customerID,
			PackageID:     pkg.PackageID,
			ClaimedAt:     *pkg.ClaimedAt,
			ClaimDeadline: timepolicy.ClaimDeadline(*pkg.ClaimedAt),
			Replayed:      true,
		}
		return errReplayed
	}
	return ErrAlreadyClaimed
}

func (m *Manager) recordFailure(packageID string, err error) {
	switch {
	case errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrCustomerExists):
		m.metrics.RecordClaim(metrics.OutcomeConflict)
		m.log.Info("claim lost", zap.String("package_id", packageID), zap.Error(err))
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrReferralMismatch), errors.Is(err, ErrClaimExpired):
		m.metrics.RecordClaim(metrics.OutcomeRejected)
		m.log.Info("claim rejected", zap.String("package_id", packageID), zap.Error(err))
	default:
		m.metrics.RecordClaim(metrics.OutcomeError)
		m.log.Error("claim failed", zap.String("package_id", packageID), zap.Error(err))
	}
}

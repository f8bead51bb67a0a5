package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"github.com/smallbiznis/packclaim/pkg/db"
	"github.com/smallbiznis/packclaim/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      inventorydomain.Repository
	AuditSvc  auditdomain.Service
	Publisher events.Publisher
	Metrics   *metrics.Metrics `optional:"true"`
	Cfg       config.Config
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      inventorydomain.Repository
	auditSvc  auditdomain.Service
	publisher events.Publisher
	retry     db.RetryPolicy
}

func NewService(p Params) inventorydomain.Service {
	retry := db.DefaultRetryPolicy()
	if p.Cfg.TxMaxAttempts > 0 {
		retry.MaxAttempts = uint(p.Cfg.TxMaxAttempts)
	}
	retry.OnRetry = func(int, error) { p.Metrics.RecordTxRetry("cancel") }

	return &Service{
		db:        p.DB,
		log:       p.Log.Named("inventory.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
		retry:     retry,
	}
}

func (s *Service) Issue(ctx context.Context, req inventorydomain.IssueRequest) (inventorydomain.Package, error) {
	pkg, err := s.buildPackage(req)
	if err != nil {
		return inventorydomain.Package{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &pkg); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return inventorydomain.Package{}, inventorydomain.ErrAlreadyExists
		}
		return inventorydomain.Package{}, err
	}
	return pkg, nil
}

func (s *Service) buildPackage(req inventorydomain.IssueRequest) (inventorydomain.Package, error) {
	packageID := strings.TrimSpace(req.PackageID)
	if packageID == "" || len(packageID) > 64 {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidPackageID
	}
	referral := strings.TrimSpace(req.ReferralCode)
	if referral == "" || len(referral) > 64 {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidReferralCode
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidAgent
	}
	companyID := strings.TrimSpace(req.CompanyID)
	if companyID == "" {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidCompany
	}
	if req.BasePrice <= 0 {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidPrice
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidCurrency
	}

	now := s.clock.Now()
	return inventorydomain.Package{
		ID:            s.genID.Generate(),
		PackageID:     packageID,
		ReferralCode:  referral,
		AgentID:       agentID,
		CompanyID:     companyID,
		Title:         strings.TrimSpace(req.Title),
		Trips:         req.Trips,
		BasePrice:     req.BasePrice,
		Currency:      currency,
		Status:        inventorydomain.StatusAvailable,
		InsuranceTier: inventorydomain.InsuranceNone,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Service) Get(ctx context.Context, packageID string) (inventorydomain.View, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return inventorydomain.View{}, inventorydomain.ErrInvalidPackageID
	}

	pkg, err := s.repo.FindByPackageID(ctx, s.db, packageID)
	if err != nil {
		return inventorydomain.View{}, err
	}
	if pkg == nil {
		return inventorydomain.View{}, inventorydomain.ErrNotFound
	}

	return inventorydomain.View{
		Package:         *pkg,
		EffectiveStatus: timepolicy.EffectiveStatus(*pkg, s.clock.Now()),
		Deadlines:       timepolicy.Deadlines(*pkg),
	}, nil
}

// Cancel soft-cancels a pending or deposit-paid package. Paid packages are
// never cancellable.
func (s *Service) Cancel(ctx context.Context, req inventorydomain.CancelRequest) (inventorydomain.Package, error) {
	packageID := strings.TrimSpace(req.PackageID)
	if packageID == "" {
		return inventorydomain.Package{}, inventorydomain.ErrInvalidPackageID
	}

	var cancelled inventorydomain.Package
	err := db.WithTxRetry(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		pkg, err := s.repo.FindByPackageIDForUpdate(ctx, tx, packageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return inventorydomain.ErrNotFound
		}
		if pkg.Status != inventorydomain.StatusPending && pkg.Status != inventorydomain.StatusDepositPaid {
			return inventorydomain.ErrNotCancellable
		}

		now := s.clock.Now()
		ok, err := s.repo.MarkCancelled(ctx, tx, pkg.ID, pkg.Version, now)
		if err != nil {
			return err
		}
		if !ok {
			return db.ErrConflict
		}

		cancelled = *pkg
		cancelled.Status = inventorydomain.StatusCancelled
		cancelled.CancelledAt = &now
		cancelled.UpdatedAt = now
		cancelled.Version++
		return nil
	})
	if err != nil {
		return inventorydomain.Package{}, err
	}

	s.log.Info("package cancelled", zap.String("package_id", packageID))
	if err := s.auditSvc.AuditLog(ctx, auditdomain.ActionPackageCancelled, "package", packageID, map[string]any{
		"reason":      strings.TrimSpace(req.Reason),
		"customer_id": deref(cancelled.CustomerID),
	}); err != nil {
		s.log.Warn("audit write failed", zap.String("action", auditdomain.ActionPackageCancelled), zap.Error(err))
	}
	events.PublishAfterCommit(ctx, s.publisher, s.log, events.Event{
		Type:       events.TypePackageCancelled,
		PackageID:  cancelled.PackageID,
		CustomerID: deref(cancelled.CustomerID),
		AgentID:    cancelled.AgentID,
		CompanyID:  cancelled.CompanyID,
		Status:     string(cancelled.Status),
		OccurredAt: *cancelled.CancelledAt,
	})
	return cancelled, nil
}

func (s *Service) ListSettled(ctx context.Context, req inventorydomain.ListSettledRequest) (inventorydomain.ListSettledResponse, error) {
	statuses := []inventorydomain.Status{inventorydomain.StatusDepositPaid, inventorydomain.StatusPaid}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := inventorydomain.ParseStatus(raw)
		if err != nil {
			return inventorydomain.ListSettledResponse{}, err
		}
		if status != inventorydomain.StatusDepositPaid && status != inventorydomain.StatusPaid {
			return inventorydomain.ListSettledResponse{}, inventorydomain.ErrInvalidStatus
		}
		statuses = []inventorydomain.Status{status}
	}
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return inventorydomain.ListSettledResponse{}, inventorydomain.ErrInvalidTimeRange
	}

	var afterID snowflake.ID
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return inventorydomain.ListSettledResponse{}, inventorydomain.ErrInvalidPageToken
		}
		id, err := strconv.ParseInt(cursor.ID, 10, 64)
		if err != nil || id <= 0 {
			return inventorydomain.ListSettledResponse{}, inventorydomain.ErrInvalidPageToken
		}
		afterID = snowflake.ID(id)
	}

	pageSize := pagination.ClampPageSize(req.PageSize, 100, 1000)
	items, err := s.repo.ListByStatus(ctx, s.db, inventorydomain.ListFilter{
		Statuses: statuses,
		From:     req.From,
		To:       req.To,
		AfterID:  afterID,
		Limit:    pageSize,
	})
	if err != nil {
		return inventorydomain.ListSettledResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(pageSize), func(item *inventorydomain.Package) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: item.ID.String()})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	packages := make([]inventorydomain.Package, 0, len(items))
	for _, item := range items {
		if item != nil {
			packages = append(packages, *item)
		}
	}
	resp := inventorydomain.ListSettledResponse{Packages: packages}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}


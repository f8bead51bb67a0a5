package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/auditcontext"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"github.com/smallbiznis/packclaim/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errTransitionNotPermitted rolls the transaction back without consuming the
// reconciliation key.
var errTransitionNotPermitted = errors.New("transition_not_permitted")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Adapter   paymentdomain.Adapter
	Repo      paymentdomain.Repository
	Packages  inventorydomain.Repository
	Policy    *pricing.Policy
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
	adapter   paymentdomain.Adapter
	repo      paymentdomain.Repository
	packages  inventorydomain.Repository
	policy    *pricing.Policy
	auditSvc  auditdomain.Service
	publisher events.Publisher
	metrics   *metrics.Metrics
	retry     db.RetryPolicy
}

func NewService(p Params) paymentdomain.Service {
	retry := db.DefaultRetryPolicy()
	if p.Cfg.TxMaxAttempts > 0 {
		retry.MaxAttempts = uint(p.Cfg.TxMaxAttempts)
	}
	log := p.Log.Named("payment.reconciler")
	retry.OnRetry = func(attempt int, err error) {
		p.Metrics.RecordTxRetry("webhook")
		log.Warn("webhook transaction retry", zap.Int("attempt", attempt), zap.Error(err))
	}

	return &Service{
		db:        p.DB,
		log:       log,
		genID:     p.GenID,
		clock:     p.Clock,
		adapter:   p.Adapter,
		repo:      p.Repo,
		packages:  p.Packages,
		policy:    p.Policy,
		auditSvc:  p.AuditSvc,
		publisher: p.Publisher,
		metrics:   p.Metrics,
		retry:     retry,
	}
}

// HandleWebhook verifies, decodes and applies one processor notification.
// Redelivery of an applied key is a success with no write. The idempotence
// check, the status check, the amount check and the status write share one
// transaction.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, headers http.Header) (paymentdomain.Outcome, error) {
	provider := s.adapter.Provider()
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeProcessor), provider)

	if err := s.adapter.Verify(ctx, payload, headers); err != nil {
		s.metrics.RecordWebhook("", metrics.OutcomeRejected)
		s.log.Warn("webhook signature rejected", zap.String("provider", provider), zap.Int("payload_bytes", len(payload)))
		s.audit(ctx, auditdomain.ActionPaymentSignatureInvalid, "webhook", provider, map[string]any{
			"provider":      provider,
			"payload_bytes": len(payload),
			"signature":     headers.Get("Stripe-Signature"),
		})
		return "", paymentdomain.ErrInvalidSignature
	}

	evt, err := s.adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			s.metrics.RecordWebhook("", metrics.OutcomeIgnored)
			return paymentdomain.OutcomeIgnored, nil
		}
		s.metrics.RecordWebhook("", metrics.OutcomeRejected)
		s.log.Warn("webhook payload rejected", zap.String("provider", provider), zap.Error(err))
		return "", err
	}

	logFields := []zap.Field{
		zap.String("provider", evt.Provider),
		zap.String("event_id", evt.ProviderEventID),
		zap.String("reconciliation_key", evt.ReconciliationKey),
		zap.String("package_id", evt.PackageID),
		zap.String("payment_type", string(evt.PaymentType)),
	}

	existing, err := s.repo.FindByKey(ctx, s.db, evt.ReconciliationKey)
	if err != nil {
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeError)
		return "", err
	}
	if existing != nil {
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeIdempotent)
		s.log.Info("webhook already applied", logFields...)
		return paymentdomain.OutcomeDuplicate, nil
	}

	outcome, updated, err := s.apply(ctx, evt)
	switch {
	case err == nil:
	case errors.Is(err, errTransitionNotPermitted):
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeIgnored)
		s.log.Info("webhook transition not permitted", append(logFields, zap.String("status", string(updated.Status)))...)
		s.audit(ctx, auditdomain.ActionPaymentTransitionSkip, "package", evt.PackageID, map[string]any{
			"reconciliation_key": evt.ReconciliationKey,
			"payment_type":       string(evt.PaymentType),
			"stored_status":      string(updated.Status),
		})
		return paymentdomain.OutcomeSkipped, nil
	case errors.Is(err, paymentdomain.ErrAmountMismatch),
		errors.Is(err, paymentdomain.ErrCustomerMismatch),
		errors.Is(err, paymentdomain.ErrUnknownPackage):
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeMismatch)
		s.log.Warn("webhook requires review", append(logFields, zap.Error(err))...)
		s.audit(ctx, auditdomain.ActionPaymentReviewRequired, "package", evt.PackageID, map[string]any{
			"reconciliation_key": evt.ReconciliationKey,
			"provider_event_id":  evt.ProviderEventID,
			"payment_type":       string(evt.PaymentType),
			"insurance_tier":     string(evt.InsuranceTier),
			"amount_paid":        evt.Amount,
			"currency":           evt.Currency,
			"reason":             err.Error(),
		})
		return "", err
	default:
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeError)
		s.log.Error("webhook apply failed", append(logFields, zap.Error(err))...)
		return "", err
	}

	if outcome == paymentdomain.OutcomeDuplicate {
		s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeIdempotent)
		s.log.Info("webhook already applied", logFields...)
		return outcome, nil
	}

	s.metrics.RecordWebhook(evt.EventType, metrics.OutcomeSuccess)
	s.log.Info("payment applied", append(logFields, zap.String("status", string(updated.Status)), zap.Int64("amount", evt.Amount))...)

	eventType := events.TypePackagePaid
	if updated.Status == inventorydomain.StatusDepositPaid {
		eventType = events.TypePackageDepositPaid
	}
	events.PublishAfterCommit(ctx, s.publisher, s.log, events.Event{
		Type:          eventType,
		PackageID:     updated.PackageID,
		CustomerID:    deref(updated.CustomerID),
		AgentID:       updated.AgentID,
		CompanyID:     updated.CompanyID,
		Status:        string(updated.Status),
		PaymentType:   string(evt.PaymentType),
		InsuranceTier: string(updated.InsuranceTier),
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		OccurredAt:    updated.UpdatedAt,
	})
	return outcome, nil
}

// apply runs the reconciliation transaction. The package row is locked before
// the reconciliation key is claimed, so the key row never references a missing
// package. On errTransitionNotPermitted the returned package carries the
// stored status that refused the payment.
func (s *Service) apply(ctx context.Context, evt *paymentdomain.PaymentEvent) (paymentdomain.Outcome, inventorydomain.Package, error) {
	var (
		outcome paymentdomain.Outcome
		updated inventorydomain.Package
	)
	err := db.WithTxRetry(ctx, s.db, s.retry, func(tx *gorm.DB) error {
		outcome = ""
		updated = inventorydomain.Package{}
		now := s.clock.Now()

		pkg, err := s.packages.FindByPackageIDForUpdate(ctx, tx, evt.PackageID)
		if err != nil {
			return err
		}
		if pkg == nil {
			return paymentdomain.ErrUnknownPackage
		}

		inserted, err := s.repo.InsertReconciliation(ctx, tx, &paymentdomain.Reconciliation{
			ID:                s.genID.Generate(),
			ReconciliationKey: evt.ReconciliationKey,
			Provider:          evt.Provider,
			ProviderEventID:   evt.ProviderEventID,
			PackageID:         evt.PackageID,
			CustomerID:        evt.CustomerID,
			PaymentType:       evt.PaymentType,
			InsuranceTier:     evt.InsuranceTier,
			Amount:            evt.Amount,
			Currency:          evt.Currency,
			AppliedAt:         now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			outcome = paymentdomain.OutcomeDuplicate
			return nil
		}

		if !pricing.Permits(pkg.Status, evt.PaymentType) {
			updated = *pkg
			return errTransitionNotPermitted
		}
		if evt.CustomerID != "" && pkg.CustomerID != nil && *pkg.CustomerID != evt.CustomerID {
			return paymentdomain.ErrCustomerMismatch
		}
		if !strings.EqualFold(evt.Currency, pkg.Currency) {
			return fmt.Errorf("%w: currency %s, expected %s", paymentdomain.ErrAmountMismatch, evt.Currency, pkg.Currency)
		}
		expected, err := s.policy.AmountDue(*pkg, evt.PaymentType, evt.InsuranceTier)
		if err != nil {
			return fmt.Errorf("%w: %v", paymentdomain.ErrAmountMismatch, err)
		}
		if evt.Amount != expected {
			return fmt.Errorf("%w: paid %d, expected %d", paymentdomain.ErrAmountMismatch, evt.Amount, expected)
		}
		if timepolicy.EffectiveStatus(*pkg, now) == inventorydomain.StatusExpired {
			s.log.Warn("payment received after deadline",
				zap.String("package_id", pkg.PackageID),
				zap.String("status", string(pkg.Status)),
			)
		}

		update := paymentUpdate(*pkg, evt, now)
		ok, err := s.packages.ApplyPayment(ctx, tx, pkg.ID, pkg.Version, update)
		if err != nil {
			return err
		}
		if !ok {
			return db.ErrConflict
		}

		updated = *pkg
		updated.Status = update.Status
		updated.InsuranceTier = update.InsuranceTier
		updated.UpdatedAt = update.UpdatedAt
		updated.Version++
		if update.DepositAt != nil {
			updated.DepositAt = update.DepositAt
			updated.DepositAmount = update.DepositAmount
			updated.PaymentDueAt = update.PaymentDueAt
		}
		if update.PurchaseAt != nil {
			updated.PurchaseAt = update.PurchaseAt
		}
		outcome = paymentdomain.OutcomeApplied
		return nil
	})
	return outcome, updated, err
}

func paymentUpdate(pkg inventorydomain.Package, evt *paymentdomain.PaymentEvent, now time.Time) inventorydomain.PaymentUpdate {
	if evt.PaymentType == pricing.PaymentDeposit {
		due := timepolicy.DepositBalanceDeadline(now)
		return inventorydomain.PaymentUpdate{
			Status:        inventorydomain.StatusDepositPaid,
			InsuranceTier: pkg.InsuranceTier,
			DepositAt:     &now,
			DepositAmount: evt.Amount,
			PaymentDueAt:  &due,
			UpdatedAt:     now,
		}
	}
	return inventorydomain.PaymentUpdate{
		Status:        inventorydomain.StatusPaid,
		InsuranceTier: evt.InsuranceTier,
		PurchaseAt:    &now,
		UpdatedAt:     now,
	}
}

func (s *Service) ListReconciliations(ctx context.Context, packageID string) ([]*paymentdomain.Reconciliation, error) {
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, paymentdomain.ErrUnknownPackage
	}
	return s.repo.ListByPackage(ctx, s.db, packageID)
}

func (s *Service) audit(ctx context.Context, action, targetType, targetID string, metadata map[string]any) {
	if err := s.auditSvc.AuditLog(ctx, action, targetType, targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minSessionTTL = 30 * time.Minute
	maxSessionTTL = 23 * time.Hour
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      inventorydomain.Repository
	Policy    *pricing.Policy
	Processor checkoutdomain.Processor
	Metrics   *metrics.Metrics `optional:"true"`
	Cfg       config.Config
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	repo      inventorydomain.Repository
	policy    *pricing.Policy
	processor checkoutdomain.Processor
	metrics   *metrics.Metrics
	cfg       config.CheckoutConfig
}

func NewService(p Params) checkoutdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("checkout.service"),
		clock:     p.Clock,
		repo:      p.Repo,
		policy:    p.Policy,
		processor: p.Processor,
		metrics:   p.Metrics,
		cfg:       p.Cfg.Checkout,
	}
}

// Create quotes the amount due and opens a processor session. The package is
// read once without a transaction and never written here; only the webhook
// moves it forward.
func (s *Service) Create(ctx context.Context, req checkoutdomain.CreateRequest) (checkoutdomain.Session, error) {
	session, err := s.create(ctx, req)
	label := "invalid"
	if paymentType, parseErr := pricing.ParsePaymentType(req.PaymentType); parseErr == nil {
		label = string(paymentType)
	}
	if err != nil {
		s.metrics.RecordCheckout(label, outcomeFor(err), 0)
		return checkoutdomain.Session{}, err
	}
	s.metrics.RecordCheckout(label, metrics.OutcomeSuccess, session.AmountDue)
	return session, nil
}

func (s *Service) create(ctx context.Context, req checkoutdomain.CreateRequest) (checkoutdomain.Session, error) {
	packageID := strings.TrimSpace(req.PackageID)
	if packageID == "" {
		return checkoutdomain.Session{}, checkoutdomain.ErrInvalidRequest
	}
	paymentType, err := pricing.ParsePaymentType(req.PaymentType)
	if err != nil {
		return checkoutdomain.Session{}, err
	}
	tier, err := inventorydomain.ParseInsuranceTier(req.InsuranceTier)
	if err != nil {
		return checkoutdomain.Session{}, err
	}

	pkg, err := s.repo.FindByPackageID(ctx, s.db, packageID)
	if err != nil {
		return checkoutdomain.Session{}, err
	}
	if pkg == nil {
		return checkoutdomain.Session{}, checkoutdomain.ErrNotFound
	}

	now := s.clock.Now()
	if err := Admit(*pkg, paymentType, now); err != nil {
		return checkoutdomain.Session{}, err
	}

	table := s.policy.Table()
	if table.Currency != "" && !strings.EqualFold(table.Currency, pkg.Currency) {
		return checkoutdomain.Session{}, checkoutdomain.ErrCurrencyUnsupported
	}
	amount, err := s.policy.AmountDue(*pkg, paymentType, tier)
	if err != nil {
		return checkoutdomain.Session{}, err
	}

	customerID := ""
	if pkg.CustomerID != nil {
		customerID = *pkg.CustomerID
	}
	ttl := clampTTL(s.cfg.SessionTTL)
	windowStart := now.Truncate(ttl)

	result, err := s.processor.CreateSession(ctx, checkoutdomain.SessionRequest{
		IdempotencyKey: IdempotencyKey(pkg.PackageID, customerID, paymentType, tier, amount, windowStart),
		ProductName:    productName(*pkg, paymentType),
		Amount:         amount,
		Currency:       pkg.Currency,
		ClientRef:      pkg.PackageID,
		SuccessURL:     expandURL(s.cfg.SuccessURL, pkg.PackageID),
		CancelURL:      expandURL(s.cfg.CancelURL, pkg.PackageID),
		ExpiresAt:      windowStart.Add(ttl + minSessionTTL),
		Metadata: map[string]string{
			checkoutdomain.MetadataPackageID:     pkg.PackageID,
			checkoutdomain.MetadataPaymentType:   string(paymentType),
			checkoutdomain.MetadataInsuranceTier: string(tier),
			checkoutdomain.MetadataCustomerID:    customerID,
		},
	})
	if err != nil {
		s.log.Warn("checkout session failed",
			zap.String("package_id", pkg.PackageID),
			zap.String("processor", s.processor.Name()),
			zap.Error(err),
		)
		return checkoutdomain.Session{}, err
	}

	s.log.Info("checkout session opened",
		zap.String("package_id", pkg.PackageID),
		zap.String("session_id", result.ID),
		zap.String("payment_type", string(paymentType)),
		zap.String("insurance_tier", string(tier)),
		zap.Int64("amount", amount),
	)

	expiresAt := result.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = windowStart.Add(ttl + minSessionTTL)
	}
	return checkoutdomain.Session{
		SessionID:     result.ID,
		RedirectURL:   result.URL,
		PackageID:     pkg.PackageID,
		PaymentType:   paymentType,
		InsuranceTier: tier,
		AmountDue:     amount,
		Currency:      pkg.Currency,
		ExpiresAt:     expiresAt,
	}, nil
}

// Admit decides from the effective status whether a payment of paymentType
// may be started now.
func Admit(pkg inventorydomain.Package, paymentType pricing.PaymentType, now time.Time) error {
	effective := timepolicy.EffectiveStatus(pkg, now)
	switch pkg.Status {
	case inventorydomain.StatusAvailable:
		return checkoutdomain.ErrNotClaimed
	case inventorydomain.StatusPending:
		if effective == inventorydomain.StatusExpired {
			return checkoutdomain.ErrClaimExpired
		}
		return nil
	case inventorydomain.StatusDepositPaid:
		if paymentType == pricing.PaymentDeposit {
			return checkoutdomain.ErrAlreadyPaid
		}
		if effective == inventorydomain.StatusExpired {
			return checkoutdomain.ErrClaimExpired
		}
		return nil
	case inventorydomain.StatusPaid:
		return checkoutdomain.ErrAlreadyPaid
	case inventorydomain.StatusCancelled:
		return checkoutdomain.ErrPackageCancelled
	default:
		return checkoutdomain.ErrClaimExpired
	}
}

// IdempotencyKey is stable for identical quotes within one session window,
// so a retried request reuses the processor session instead of opening another.
func IdempotencyKey(packageID, customerID string, paymentType pricing.PaymentType, tier inventorydomain.InsuranceTier, amount int64, window time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		packageID,
		customerID,
		string(paymentType),
		string(tier),
		strconv.FormatInt(amount, 10),
		strconv.FormatInt(window.Unix(), 10),
	}, "|")))
	return "checkout_" + hex.EncodeToString(sum[:16])
}

func clampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl < minSessionTTL:
		return minSessionTTL
	case ttl > maxSessionTTL:
		return maxSessionTTL
	default:
		return ttl
	}
}

func productName(pkg inventorydomain.Package, paymentType pricing.PaymentType) string {
	title := strings.TrimSpace(pkg.Title)
	if title == "" {
		title = "Package " + pkg.PackageID
	}
	if paymentType == pricing.PaymentDeposit {
		return fmt.Sprintf("%s (deposit)", title)
	}
	return title
}

// expandURL substitutes {PACKAGE_ID}; Stripe fills {CHECKOUT_SESSION_ID} itself.
func expandURL(raw, packageID string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), "{PACKAGE_ID}", packageID)
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, checkoutdomain.ErrClaimExpired),
		errors.Is(err, checkoutdomain.ErrNotClaimed),
		errors.Is(err, checkoutdomain.ErrAlreadyPaid),
		errors.Is(err, checkoutdomain.ErrPackageCancelled):
		return metrics.OutcomeConflict
	case errors.Is(err, checkoutdomain.ErrProcessorUnavailable),
		errors.Is(err, checkoutdomain.ErrProcessorConfig):
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

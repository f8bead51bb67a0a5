package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/config"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/inventory/repository"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"github.com/smallbiznis/packclaim/internal/testkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu       sync.Mutex
	requests []checkoutdomain.SessionRequest
	err      error
}

func (p *fakeProcessor) Name() string { return "fake" }

func (p *fakeProcessor) CreateSession(_ context.Context, req checkoutdomain.SessionRequest) (checkoutdomain.ProcessorSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return checkoutdomain.ProcessorSession{}, p.err
	}
	p.requests = append(p.requests, req)
	return checkoutdomain.ProcessorSession{
		ID:  "cs_" + req.IdempotencyKey,
		URL: "https://pay.example.com/" + req.IdempotencyKey,
	}, nil
}

func (p *fakeProcessor) last() checkoutdomain.SessionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func newTestService(t *testing.T) (*testkit.Env, *fakeProcessor, checkoutdomain.Service) {
	t.Helper()
	env := testkit.New(t)
	env.Cfg.Checkout = config.CheckoutConfig{
		SuccessURL: "https://example.com/packages/{PACKAGE_ID}/paid?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://example.com/packages/{PACKAGE_ID}",
		SessionTTL: time.Hour,
	}
	proc := &fakeProcessor{}
	svc := NewService(Params{
		DB:        env.DB,
		Log:       env.Log,
		Clock:     env.Clock,
		Repo:      repository.Provide(),
		Policy:    pricing.NewPolicyFromTable(testkit.CanonicalPricing()),
		Processor: proc,
		Metrics:   metrics.NewForTest(),
		Cfg:       env.Cfg,
	})
	return env, proc, svc
}

func TestCreateFullPaymentQuotesBasePrice(t *testing.T) {
	env, proc, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))

	session, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full", InsuranceTier: "none"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), session.AmountDue)
	assert.Equal(t, "usd", session.Currency)
	assert.NotEmpty(t, session.SessionID)
	assert.NotEmpty(t, session.RedirectURL)
	assert.True(t, session.ExpiresAt.After(testkit.Epoch.Add(30*time.Minute)))

	req := proc.last()
	assert.Equal(t, int64(1000), req.Amount)
	assert.Equal(t, map[string]string{
		"package_id":     "PK1",
		"payment_type":   "full",
		"insurance_tier": "none",
		"customer_id":    "cust-1",
	}, req.Metadata)
	assert.Equal(t, "https://example.com/packages/PK1/paid?session_id={CHECKOUT_SESSION_ID}", req.SuccessURL)

	pkg := env.LoadPackage(t, "PK1")
	assert.Equal(t, inventorydomain.StatusPending, pkg.Status)
	assert.Equal(t, int64(1), pkg.Version, "checkout never writes the package")
}

func TestCreateAddsInsuranceSurcharge(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))

	for tier, want := range map[string]int64{"none": 1000, "standard": 1200, "double_up": 1600} {
		session, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full", InsuranceTier: tier})
		require.NoError(t, err, tier)
		assert.Equal(t, want, session.AmountDue, tier)
	}
}

func TestCreateDepositIgnoresBasePrice(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "PK2", "R2", testkit.WithBasePrice(4321), testkit.WithClaim("cust-2", testkit.Epoch))

	session, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK2", PaymentType: "deposit"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), session.AmountDue)
	assert.Equal(t, pricing.PaymentDeposit, session.PaymentType)
}

func TestCreateDepositOnPackageCheaperThanDeposit(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "PK2", "R2", testkit.WithBasePrice(150), testkit.WithClaim("cust-2", testkit.Epoch))

	session, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK2", PaymentType: "deposit", InsuranceTier: "none"})
	require.NoError(t, err)
	assert.Equal(t, int64(200), session.AmountDue)
}

func TestCreateBalanceAfterDeposit(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1",
		testkit.WithClaim("cust-1", testkit.Epoch),
		testkit.WithDeposit(200, testkit.Epoch, testkit.Epoch.AddDate(0, 6, 0)),
	)

	session, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full", InsuranceTier: "standard"})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), session.AmountDue)

	_, err = svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "deposit"})
	assert.ErrorIs(t, err, checkoutdomain.ErrAlreadyPaid)
}

func TestCreateAfterClaimDeadline(t *testing.T) {
	env, proc, svc := newTestService(t)
	env.SeedPackage(t, "PK2", "R2", testkit.WithClaim("cust-2", testkit.Epoch))

	env.Clock.Advance(49 * time.Hour)
	_, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK2", PaymentType: "full"})
	assert.ErrorIs(t, err, checkoutdomain.ErrClaimExpired)
	assert.Empty(t, proc.requests)
}

func TestCreateRejections(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "AV", "R1")
	env.SeedPackage(t, "PAID", "R2", testkit.WithClaim("c", testkit.Epoch), testkit.WithPurchase(testkit.Epoch, inventorydomain.InsuranceNone))
	env.SeedPackage(t, "CXL", "R3", testkit.WithClaim("c2", testkit.Epoch), testkit.WithStatus(inventorydomain.StatusCancelled))
	env.SeedPackage(t, "PEND", "R4", testkit.WithClaim("c3", testkit.Epoch))
	env.SeedPackage(t, "LATE", "R5",
		testkit.WithClaim("c4", testkit.Epoch.AddDate(0, -7, 0)),
		testkit.WithDeposit(200, testkit.Epoch.AddDate(0, -7, 0), testkit.Epoch.AddDate(0, -1, 0)),
	)

	cases := []struct {
		name string
		req  checkoutdomain.CreateRequest
		want error
	}{
		{"missing id", checkoutdomain.CreateRequest{PaymentType: "full"}, checkoutdomain.ErrInvalidRequest},
		{"unknown package", checkoutdomain.CreateRequest{PackageID: "NOPE", PaymentType: "full"}, checkoutdomain.ErrNotFound},
		{"bad payment type", checkoutdomain.CreateRequest{PackageID: "PEND", PaymentType: "installments"}, pricing.ErrInvalidPaymentType},
		{"bad tier", checkoutdomain.CreateRequest{PackageID: "PEND", PaymentType: "full", InsuranceTier: "gold"}, inventorydomain.ErrInvalidInsuranceTier},
		{"not claimed", checkoutdomain.CreateRequest{PackageID: "AV", PaymentType: "full"}, checkoutdomain.ErrNotClaimed},
		{"paid", checkoutdomain.CreateRequest{PackageID: "PAID", PaymentType: "full"}, checkoutdomain.ErrAlreadyPaid},
		{"cancelled", checkoutdomain.CreateRequest{PackageID: "CXL", PaymentType: "full"}, checkoutdomain.ErrPackageCancelled},
		{"balance window lapsed", checkoutdomain.CreateRequest{PackageID: "LATE", PaymentType: "full"}, checkoutdomain.ErrClaimExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateReusesIdempotencyKeyWithinWindow(t *testing.T) {
	env, proc, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))
	req := checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full"}

	first, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	env.Clock.Advance(10 * time.Minute)
	second, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	_, err = svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full", InsuranceTier: "standard"})
	require.NoError(t, err)
	assert.NotEqual(t, proc.requests[0].IdempotencyKey, proc.last().IdempotencyKey)

	env.Clock.Advance(time.Hour)
	third, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, third.SessionID)
}

func TestCreateSurfacesProcessorFailure(t *testing.T) {
	env, proc, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))
	proc.err = errors.Join(checkoutdomain.ErrProcessorUnavailable, errors.New("dial tcp: refused"))

	_, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full"})
	assert.ErrorIs(t, err, checkoutdomain.ErrProcessorUnavailable)
	assert.Equal(t, int64(1), env.LoadPackage(t, "PK1").Version)
}

func TestCreateRejectsForeignCurrency(t *testing.T) {
	env, _, svc := newTestService(t)
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch), func(p *inventorydomain.Package) { p.Currency = "eur" })

	_, err := svc.Create(context.Background(), checkoutdomain.CreateRequest{PackageID: "PK1", PaymentType: "full"})
	assert.ErrorIs(t, err, checkoutdomain.ErrCurrencyUnsupported)
}

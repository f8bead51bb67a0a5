package service

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/inventory/repository"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/testkit"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T) (*testkit.Env, inventorydomain.Service) {
	t.Helper()
	env := testkit.New(t)
	svc := NewService(Params{
		DB:        env.DB,
		Log:       env.Log,
		GenID:     env.Node,
		Clock:     env.Clock,
		Repo:      repository.Provide(),
		AuditSvc:  env.Audit,
		Publisher: env.Publisher,
		Metrics:   metrics.NewForTest(),
		Cfg:       env.Cfg,
	})
	return env, svc
}

func TestIssueValidatesAndRejectsDuplicates(t *testing.T) {
	_, svc := newTestService(t)
	ctx := context.Background()

	req := inventorydomain.IssueRequest{
		PackageID:    "PK1",
		ReferralCode: "R1",
		AgentID:      "agent-1",
		CompanyID:    "company-1",
		Title:        "Alps",
		BasePrice:    1000,
		Currency:     "USD",
	}
	pkg, err := svc.Issue(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, inventorydomain.StatusAvailable, pkg.Status)
	assert.Equal(t, "usd", pkg.Currency)
	assert.Nil(t, pkg.CustomerID)

	_, err = svc.Issue(ctx, req)
	assert.ErrorIs(t, err, inventorydomain.ErrAlreadyExists)

	bad := req
	bad.PackageID = "PK2"
	bad.BasePrice = 0
	_, err = svc.Issue(ctx, bad)
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidPrice)

	bad = req
	bad.PackageID = "PK3"
	bad.Currency = "dollars"
	_, err = svc.Issue(ctx, bad)
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidCurrency)
}

func TestGetReportsEffectiveStatus(t *testing.T) {
	env, svc := newTestService(t)
	ctx := context.Background()

	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))

	view, err := svc.Get(ctx, "PK1")
	require.NoError(t, err)
	assert.Equal(t, inventorydomain.StatusPending, view.EffectiveStatus)
	require.NotNil(t, view.Deadlines.ClaimDeadline)
	assert.True(t, view.Deadlines.ClaimDeadline.Equal(timepolicy.ClaimDeadline(testkit.Epoch)))

	env.Clock.Advance(timepolicy.ClaimWindow + time.Second)
	view, err = svc.Get(ctx, "PK1")
	require.NoError(t, err)
	assert.Equal(t, inventorydomain.StatusExpired, view.EffectiveStatus)
	assert.Equal(t, inventorydomain.StatusPending, view.Status, "stored status is untouched by reads")

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, inventorydomain.ErrNotFound)
}

func TestCancel(t *testing.T) {
	env, svc := newTestService(t)
	ctx := context.Background()

	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))
	env.SeedPackage(t, "PK2", "R2", testkit.WithClaim("cust-2", testkit.Epoch), testkit.WithPurchase(testkit.Epoch, inventorydomain.InsuranceNone))
	env.SeedPackage(t, "PK3", "R3")

	cancelled, err := svc.Cancel(ctx, inventorydomain.CancelRequest{PackageID: "PK1", Reason: "customer request"})
	require.NoError(t, err)
	assert.Equal(t, inventorydomain.StatusCancelled, cancelled.Status)

	stored := env.LoadPackage(t, "PK1")
	assert.Equal(t, inventorydomain.StatusCancelled, stored.Status)
	require.NotNil(t, stored.CustomerID)
	assert.Equal(t, "cust-1", *stored.CustomerID)
	assert.Equal(t, int64(2), stored.Version)

	_, err = svc.Cancel(ctx, inventorydomain.CancelRequest{PackageID: "PK1"})
	assert.ErrorIs(t, err, inventorydomain.ErrNotCancellable)

	_, err = svc.Cancel(ctx, inventorydomain.CancelRequest{PackageID: "PK2"})
	assert.ErrorIs(t, err, inventorydomain.ErrNotCancellable, "paid packages are never cancellable")

	_, err = svc.Cancel(ctx, inventorydomain.CancelRequest{PackageID: "PK3"})
	assert.ErrorIs(t, err, inventorydomain.ErrNotCancellable)

	assert.Len(t, env.Publisher.OfType(events.TypePackageCancelled), 1)
	assert.Equal(t, int64(1), env.Count(t, "audit_logs", "action = ?", "package.cancelled"))
}

type failingAudit struct {
	auditdomain.Service
}

func (failingAudit) AuditLog(context.Context, string, string, string, map[string]any) error {
	return errors.New("audit store down")
}

func TestCancelLogsAuditFailure(t *testing.T) {
	env := testkit.New(t)
	core, logs := observer.New(zap.WarnLevel)
	svc := NewService(Params{
		DB:        env.DB,
		Log:       zap.New(core),
		GenID:     env.Node,
		Clock:     env.Clock,
		Repo:      repository.Provide(),
		AuditSvc:  failingAudit{},
		Publisher: env.Publisher,
		Metrics:   metrics.NewForTest(),
		Cfg:       env.Cfg,
	})
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("cust-1", testkit.Epoch))

	cancelled, err := svc.Cancel(context.Background(), inventorydomain.CancelRequest{PackageID: "PK1"})
	require.NoError(t, err)
	assert.Equal(t, inventorydomain.StatusCancelled, cancelled.Status)

	entries := logs.FilterMessage("audit write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, auditdomain.ActionPackageCancelled, entries[0].ContextMap()["action"])
}

func TestListSettled(t *testing.T) {
	env, svc := newTestService(t)
	ctx := context.Background()

	day := 24 * time.Hour
	env.SeedPackage(t, "PK1", "R1", testkit.WithClaim("c1", testkit.Epoch), testkit.WithPurchase(testkit.Epoch.Add(day), inventorydomain.InsuranceNone))
	env.SeedPackage(t, "PK2", "R2", testkit.WithClaim("c2", testkit.Epoch), testkit.WithDeposit(200, testkit.Epoch.Add(2*day), testkit.Epoch.Add(180*day)))
	env.SeedPackage(t, "PK3", "R3", testkit.WithClaim("c3", testkit.Epoch))
	env.SeedPackage(t, "PK4", "R4", testkit.WithClaim("c4", testkit.Epoch), testkit.WithPurchase(testkit.Epoch.Add(10*day), inventorydomain.InsuranceStandard))

	all, err := svc.ListSettled(ctx, inventorydomain.ListSettledRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Packages, 3)

	paid, err := svc.ListSettled(ctx, inventorydomain.ListSettledRequest{Status: "paid"})
	require.NoError(t, err)
	assert.Len(t, paid.Packages, 2)

	from := testkit.Epoch
	to := testkit.Epoch.Add(5 * day)
	window, err := svc.ListSettled(ctx, inventorydomain.ListSettledRequest{From: &from, To: &to})
	require.NoError(t, err)
	ids := []string{}
	for _, p := range window.Packages {
		ids = append(ids, p.PackageID)
	}
	assert.ElementsMatch(t, []string{"PK1", "PK2"}, ids)

	_, err = svc.ListSettled(ctx, inventorydomain.ListSettledRequest{Status: "pending"})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidStatus)

	_, err = svc.ListSettled(ctx, inventorydomain.ListSettledRequest{From: &to, To: &from})
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidTimeRange)
}

func TestListSettledPaginates(t *testing.T) {
	env, svc := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"PK1", "PK2", "PK3"} {
		env.SeedPackage(t, id, "R-"+id, testkit.WithClaim("c-"+id, testkit.Epoch), testkit.WithPurchase(testkit.Epoch, inventorydomain.InsuranceNone))
	}

	req := inventorydomain.ListSettledRequest{}
	req.PageSize = 2
	first, err := svc.ListSettled(ctx, req)
	require.NoError(t, err)
	assert.Len(t, first.Packages, 2)
	assert.True(t, first.HasMore)
	require.NotEmpty(t, first.NextPageToken)

	req.PageToken = first.NextPageToken
	second, err := svc.ListSettled(ctx, req)
	require.NoError(t, err)
	assert.Len(t, second.Packages, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "PK3", second.Packages[0].PackageID)

	req.PageToken = "%%%"
	_, err = svc.ListSettled(ctx, req)
	assert.ErrorIs(t, err, inventorydomain.ErrInvalidPageToken)
}

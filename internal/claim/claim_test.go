package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	customerdomain "github.com/smallbiznis/packclaim/internal/customer/domain"
	customerrepo "github.com/smallbiznis/packclaim/internal/customer/repository"
	"github.com/smallbiznis/packclaim/internal/events"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/packclaim/internal/inventory/repository"
	"github.com/smallbiznis/packclaim/internal/observability/metrics"
	"github.com/smallbiznis/packclaim/internal/testkit"
	"github.com/smallbiznis/packclaim/internal/timepolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*testkit.Env, *Manager) {
	t.Helper()
	env := testkit.New(t)
	m := NewManager(Params{
		DB:        env.DB,
		Log:       env.Log,
		GenID:     env.Node,
		Clock:     env.Clock,
		Packages:  inventoryrepo.Provide(),
		Customers: customerrepo.Provide(),
		AuditSvc:  env.Audit,
		Publisher: env.Publisher,
		Metrics:   metrics.NewForTest(),
		Cfg:       env.Cfg,
	})
	return env, m
}

func profile(name string) customerdomain.Profile {
	return customerdomain.Profile{Name: name, Email: name + "@example.com"}
}

func TestClaimSucceeds(t *testing.T) {
	env, m := newTestManager(t)
	m.newIdentity = func() string { return "generated-1" }
	env.SeedPackage(t, "PK1", "R1")

	res, err := m.Claim(context.Background(), ClaimRequest{PackageID: "PK1", ReferralCode: "R1", Profile: profile("ana")})
	require.NoError(t, err)
	assert.Equal(t, "generated-1", res.CustomerID)
	assert.True(t, res.ClaimedAt.Equal(testkit.Epoch))
	assert.True(t, res.ClaimDeadline.Equal(testkit.Epoch.Add(timepolicy.ClaimWindow)))
	assert.False(t, res.Replayed)

	pkg := env.LoadPackage(t, "PK1")
	assert.Equal(t, inventorydomain.StatusPending, pkg.Status)
	require.NotNil(t, pkg.CustomerID)
	assert.Equal(t, "generated-1", *pkg.CustomerID)
	require.NotNil(t, pkg.ClaimedAt)
	assert.Equal(t, int64(2), pkg.Version)

	var customer customerdomain.Customer
	require.NoError(t, env.DB.Where("customer_id = ?", "generated-1").First(&customer).Error)
	assert.Equal(t, "PK1", customer.PackageID)
	assert.Equal(t, "ana@example.com", customer.Email)

	claimedEvents := env.Publisher.OfType(events.TypePackageClaimed)
	require.Len(t, claimedEvents, 1)
	assert.Equal(t, "generated-1", claimedEvents[0].CustomerID)
	assert.NotEmpty(t, claimedEvents[0].ID)

	var logs []auditdomain.AuditLog
	require.NoError(t, env.DB.Where("action = ?", auditdomain.ActionPackageClaimed).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeCustomer), logs[0].ActorType)
	assert.NotEqual(t, "R1", logs[0].Metadata["referral_code"])
}

func TestClaimRejections(t *testing.T) {
	env, m := newTestManager(t)
	ctx := context.Background()

	env.SeedPackage(t, "PK1", "R1")
	env.SeedPackage(t, "PK2", "R2", testkit.WithClaim("someone", testkit.Epoch))
	env.SeedPackage(t, "PK3", "R3", testkit.WithClaim("late", testkit.Epoch.Add(-timepolicy.ClaimWindow-time.Hour)))
	env.SeedPackage(t, "PK4", "R4", testkit.WithStatus(inventorydomain.StatusCancelled))

	cases := []struct {
		name string
		req  ClaimRequest
		want error
	}{
		{"missing package", ClaimRequest{ReferralCode: "R1", Profile: profile("a")}, ErrInvalidRequest},
		{"missing name", ClaimRequest{PackageID: "PK1", ReferralCode: "R1", Profile: customerdomain.Profile{Email: "a@example.com"}}, customerdomain.ErrInvalidName},
		{"bad email", ClaimRequest{PackageID: "PK1", ReferralCode: "R1", Profile: customerdomain.Profile{Name: "a", Email: "nope"}}, customerdomain.ErrInvalidEmail},
		{"unknown package", ClaimRequest{PackageID: "PK9", ReferralCode: "R1", Profile: profile("a")}, ErrNotFound},
		{"wrong referral", ClaimRequest{PackageID: "PK1", ReferralCode: "R2", Profile: profile("a")}, ErrReferralMismatch},
		{"already pending", ClaimRequest{PackageID: "PK2", ReferralCode: "R2", Profile: profile("a")}, ErrAlreadyClaimed},
		{"lapsed claim", ClaimRequest{PackageID: "PK3", ReferralCode: "R3", Profile: profile("a")}, ErrClaimExpired},
		{"cancelled", ClaimRequest{PackageID: "PK4", ReferralCode: "R4", Profile: profile("a")}, ErrAlreadyClaimed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Claim(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Equal(t, int64(0), env.Count(t, "customers", ""))
	assert.Equal(t, inventorydomain.StatusAvailable, env.LoadPackage(t, "PK1").Status)
	assert.Empty(t, env.Publisher.Events())
}

func TestClaimReplayBySameCustomer(t *testing.T) {
	env, m := newTestManager(t)
	ctx := context.Background()
	env.SeedPackage(t, "PK1", "R1")

	req := ClaimRequest{PackageID: "PK1", ReferralCode: "R1", CustomerID: "cust-a", Profile: profile("ana")}
	first, err := m.Claim(ctx, req)
	require.NoError(t, err)

	env.Clock.Advance(time.Minute)
	second, err := m.Claim(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.True(t, first.ClaimedAt.Equal(second.ClaimedAt))
	assert.Equal(t, int64(1), env.Count(t, "customers", ""))
	assert.Len(t, env.Publisher.OfType(events.TypePackageClaimed), 1)
}

func TestClaimRollsBackWhenCustomerInsertFails(t *testing.T) {
	env, m := newTestManager(t)
	ctx := context.Background()
	env.SeedPackage(t, "PK1", "R1")

	// A stray customer row already owns PK1, so the insert inside the claim fails.
	require.NoError(t, env.DB.Create(&customerdomain.Customer{
		ID:         env.Node.Generate(),
		CustomerID: "stray",
		PackageID:  "PK1",
		Name:       "stray",
		Email:      "stray@example.com",
		CreatedAt:  testkit.Epoch,
	}).Error)

	_, err := m.Claim(ctx, ClaimRequest{PackageID: "PK1", ReferralCode: "R1", CustomerID: "cust-a", Profile: profile("ana")})
	assert.ErrorIs(t, err, ErrCustomerExists)

	pkg := env.LoadPackage(t, "PK1")
	assert.Equal(t, inventorydomain.StatusAvailable, pkg.Status)
	assert.Nil(t, pkg.CustomerID)
	assert.Equal(t, int64(1), pkg.Version)
	assert.Equal(t, int64(0), env.Count(t, "customers", "customer_id = ?", "cust-a"))
}

func TestClaimRejectsCustomerBoundElsewhere(t *testing.T) {
	env, m := newTestManager(t)
	ctx := context.Background()
	env.SeedPackage(t, "PK1", "R1")
	env.SeedPackage(t, "PK2", "R2")

	_, err := m.Claim(ctx, ClaimRequest{PackageID: "PK1", ReferralCode: "R1", CustomerID: "cust-a", Profile: profile("ana")})
	require.NoError(t, err)

	_, err = m.Claim(ctx, ClaimRequest{PackageID: "PK2", ReferralCode: "R2", CustomerID: "cust-a", Profile: profile("ana")})
	assert.ErrorIs(t, err, ErrCustomerExists)
	assert.Equal(t, inventorydomain.StatusAvailable, env.LoadPackage(t, "PK2").Status)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env, m := newTestManager(t)
	env.SeedPackage(t, "PK1", "R1")

	const attempts = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
		others  []error
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			customerID := fmt.Sprintf("cust-%d", i)
			_, err := m.Claim(context.Background(), ClaimRequest{
				PackageID:    "PK1",
				ReferralCode: "R1",
				CustomerID:   customerID,
				Profile:      profile(customerID),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, customerID)
			case errors.Is(err, ErrAlreadyClaimed):
				losers++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, others)
	require.Len(t, winners, 1)
	assert.Equal(t, attempts-1, losers)

	pkg := env.LoadPackage(t, "PK1")
	require.NotNil(t, pkg.CustomerID)
	assert.Equal(t, winners[0], *pkg.CustomerID)
	assert.Equal(t, int64(1), env.Count(t, "customers", ""))
	assert.Equal(t, int64(1), env.Count(t, "customers", "customer_id = ?", winners[0]))
}

func TestTwoCustomersRaceForOnePackage(t *testing.T) {
	env, m := newTestManager(t)
	env.SeedPackage(t, "PK3", "R3")

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, customerID := range []string{"customerA", "customerB"} {
		wg.Add(1)
		go func(customerID string) {
			defer wg.Done()
			_, err := m.Claim(context.Background(), ClaimRequest{
				PackageID:    "PK3",
				ReferralCode: "R3",
				CustomerID:   customerID,
				Profile:      profile(customerID),
			})
			results <- err
		}(customerID)
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyClaimed)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	pkg := env.LoadPackage(t, "PK3")
	require.NotNil(t, pkg.CustomerID)
	assert.Contains(t, []string{"customerA", "customerB"}, *pkg.CustomerID)
	assert.Equal(t, int64(1), env.Count(t, "customers", "package_id = ?", "PK3"))
	assert.Equal(t, int64(1), env.Count(t, "customers", "customer_id = ?", *pkg.CustomerID))
}

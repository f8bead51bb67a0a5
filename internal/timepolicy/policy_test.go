package timepolicy

import (
	"testing"
	"time"

	"github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/stretchr/testify/assert"
)

var t0 = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestClaimDeadline(t *testing.T) {
	assert.Equal(t, t0.Add(48*time.Hour), ClaimDeadline(t0))
}

func TestDepositBalanceDeadline(t *testing.T) {
	assert.Equal(t, time.Date(2025, time.July, 15, 10, 0, 0, 0, time.UTC), DepositBalanceDeadline(t0))
}

func TestExpirationDate(t *testing.T) {
	tests := []struct {
		tier   domain.InsuranceTier
		want   time.Time
		expire bool
	}{
		{domain.InsuranceNone, time.Date(2028, time.January, 15, 10, 0, 0, 0, time.UTC), true},
		{domain.InsuranceStandard, time.Date(2029, time.July, 15, 10, 0, 0, 0, time.UTC), true},
		{domain.InsuranceDoubleUp, time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			got, ok := ExpirationDate(t0, tt.tier)
			assert.Equal(t, tt.expire, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveStatus(t *testing.T) {
	tests := []struct {
		name string
		pkg  domain.Package
		now  time.Time
		want domain.Status
	}{
		{
			name: "available stays available",
			pkg:  domain.Package{Status: domain.StatusAvailable},
			now:  t0.AddDate(10, 0, 0),
			want: domain.StatusAvailable,
		},
		{
			name: "pending inside claim window",
			pkg:  domain.Package{Status: domain.StatusPending, ClaimedAt: ptr(t0)},
			now:  t0.Add(48 * time.Hour),
			want: domain.StatusPending,
		},
		{
			name: "pending past claim window",
			pkg:  domain.Package{Status: domain.StatusPending, ClaimedAt: ptr(t0)},
			now:  t0.Add(49 * time.Hour),
			want: domain.StatusExpired,
		},
		{
			name: "deposit paid before balance deadline",
			pkg:  domain.Package{Status: domain.StatusDepositPaid, DepositAt: ptr(t0)},
			now:  t0.AddDate(0, 6, 0),
			want: domain.StatusDepositPaid,
		},
		{
			name: "deposit paid past balance deadline",
			pkg:  domain.Package{Status: domain.StatusDepositPaid, DepositAt: ptr(t0), PaymentDueAt: ptr(DepositBalanceDeadline(t0))},
			now:  t0.AddDate(0, 6, 1),
			want: domain.StatusExpired,
		},
		{
			name: "paid without insurance expires after 36 months",
			pkg:  domain.Package{Status: domain.StatusPaid, PurchaseAt: ptr(t0), InsuranceTier: domain.InsuranceNone},
			now:  t0.AddDate(3, 0, 1),
			want: domain.StatusExpired,
		},
		{
			name: "paid standard still valid after 36 months",
			pkg:  domain.Package{Status: domain.StatusPaid, PurchaseAt: ptr(t0), InsuranceTier: domain.InsuranceStandard},
			now:  t0.AddDate(3, 0, 1),
			want: domain.StatusPaid,
		},
		{
			name: "paid double up never expires",
			pkg:  domain.Package{Status: domain.StatusPaid, PurchaseAt: ptr(t0), InsuranceTier: domain.InsuranceDoubleUp},
			now:  t0.AddDate(100, 0, 0),
			want: domain.StatusPaid,
		},
		{
			name: "cancelled is terminal",
			pkg:  domain.Package{Status: domain.StatusCancelled, ClaimedAt: ptr(t0)},
			now:  t0.Add(72 * time.Hour),
			want: domain.StatusCancelled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveStatus(tt.pkg, tt.now))
		})
	}
}

func TestEffectiveStatusNeverLessAdvancedThanStored(t *testing.T) {
	stored := []domain.Status{
		domain.StatusAvailable,
		domain.StatusPending,
		domain.StatusDepositPaid,
		domain.StatusPaid,
		domain.StatusCancelled,
	}
	tiers := []domain.InsuranceTier{domain.InsuranceNone, domain.InsuranceStandard, domain.InsuranceDoubleUp}
	offsets := []time.Duration{0, time.Hour, 49 * time.Hour, 24 * 200 * time.Hour, 24 * 365 * 5 * time.Hour}

	for _, status := range stored {
		for _, tier := range tiers {
			for _, offset := range offsets {
				pkg := domain.Package{
					Status:        status,
					InsuranceTier: tier,
					ClaimedAt:     ptr(t0),
					DepositAt:     ptr(t0),
					PurchaseAt:    ptr(t0),
				}
				got := EffectiveStatus(pkg, t0.Add(offset))
				assert.GreaterOrEqual(t, got.Rank(), status.Rank(), "status=%s tier=%s offset=%s", status, tier, offset)
				if got != status {
					assert.Equal(t, domain.StatusExpired, got)
				}
			}
		}
	}
}

func TestDeadlines(t *testing.T) {
	pending := Deadlines(domain.Package{Status: domain.StatusPending, ClaimedAt: ptr(t0)})
	if assert.NotNil(t, pending.ClaimDeadline) {
		assert.Equal(t, t0.Add(ClaimWindow), *pending.ClaimDeadline)
	}

	paid := Deadlines(domain.Package{Status: domain.StatusPaid, PurchaseAt: ptr(t0), InsuranceTier: domain.InsuranceDoubleUp})
	assert.Nil(t, paid.ExpiresAt)
	assert.True(t, paid.NeverExpires)
}

// Package timepolicy derives deadlines and the effective status of a package
// from its stored timestamps. Every function is pure: callers pass "now".
package timepolicy

import (
	"time"

	"github.com/smallbiznis/packclaim/internal/inventory/domain"
)

const (
	ClaimWindow = 48 * time.Hour

	DepositBalanceMonths = 6

	ExpirationMonthsNone     = 36
	ExpirationMonthsStandard = 54
)

func ClaimDeadline(claimedAt time.Time) time.Time {
	return claimedAt.Add(ClaimWindow)
}

func DepositBalanceDeadline(depositAt time.Time) time.Time {
	return depositAt.AddDate(0, DepositBalanceMonths, 0)
}

// ExpirationDate returns false when the tier never expires.
func ExpirationDate(purchaseAt time.Time, tier domain.InsuranceTier) (time.Time, bool) {
	switch tier {
	case domain.InsuranceDoubleUp:
		return time.Time{}, false
	case domain.InsuranceStandard:
		return purchaseAt.AddDate(0, ExpirationMonthsStandard, 0), true
	default:
		return purchaseAt.AddDate(0, ExpirationMonthsNone, 0), true
	}
}

// EffectiveStatus is authoritative for access decisions; the stored status is
// authoritative for the next valid transition.
func EffectiveStatus(pkg domain.Package, now time.Time) domain.Status {
	switch pkg.Status {
	case domain.StatusPending:
		if pkg.ClaimedAt != nil && now.After(ClaimDeadline(*pkg.ClaimedAt)) {
			return domain.StatusExpired
		}
	case domain.StatusDepositPaid:
		if deadline, ok := depositDeadline(pkg); ok && now.After(deadline) {
			return domain.StatusExpired
		}
	case domain.StatusPaid:
		if pkg.PurchaseAt == nil {
			return pkg.Status
		}
		if expiresAt, ok := ExpirationDate(*pkg.PurchaseAt, pkg.InsuranceTier); ok && now.After(expiresAt) {
			return domain.StatusExpired
		}
	}
	return pkg.Status
}

// Deadlines returns every deadline derivable from the stored timestamps.
func Deadlines(pkg domain.Package) domain.Deadlines {
	var out domain.Deadlines
	if pkg.ClaimedAt != nil && pkg.Status == domain.StatusPending {
		deadline := ClaimDeadline(*pkg.ClaimedAt)
		out.ClaimDeadline = &deadline
	}
	if pkg.Status == domain.StatusDepositPaid {
		if deadline, ok := depositDeadline(pkg); ok {
			out.DepositBalanceDeadline = &deadline
		}
	}
	if pkg.Status == domain.StatusPaid && pkg.PurchaseAt != nil {
		if expiresAt, ok := ExpirationDate(*pkg.PurchaseAt, pkg.InsuranceTier); ok {
			out.ExpiresAt = &expiresAt
		} else {
			out.NeverExpires = true
		}
	}
	return out
}

// depositDeadline prefers the persisted due date over recomputing it.
func depositDeadline(pkg domain.Package) (time.Time, bool) {
	if pkg.PaymentDueAt != nil {
		return *pkg.PaymentDueAt, true
	}
	if pkg.DepositAt != nil {
		return DepositBalanceDeadline(*pkg.DepositAt), true
	}
	return time.Time{}, false
}

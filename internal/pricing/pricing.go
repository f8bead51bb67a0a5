package pricing

import (
	"errors"
	"strings"

	"github.com/smallbiznis/packclaim/internal/config"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
)

type PaymentType string

const (
	PaymentDeposit PaymentType = "deposit"
	PaymentFull    PaymentType = "full"
)

var (
	ErrInvalidPaymentType  = errors.New("invalid_payment_type")
	ErrPaymentNotAllowed   = errors.New("payment_not_allowed")
	ErrDepositExceedsPrice = errors.New("deposit_exceeds_price")
)

func ParsePaymentType(raw string) (PaymentType, error) {
	switch PaymentType(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentDeposit:
		return PaymentDeposit, nil
	case PaymentFull:
		return PaymentFull, nil
	default:
		return "", ErrInvalidPaymentType
	}
}

// TableSource yields the pricing table in force at call time.
type TableSource interface {
	Get() config.PricingTable
}

// Policy is the single place amounts due are computed. The checkout builder
// quotes with it and the webhook reconciler re-derives with it.
type Policy struct {
	source TableSource
}

func NewPolicy(source *config.PricingHolder) *Policy {
	return &Policy{source: source}
}

// NewPolicyFromTable pins a fixed table.
func NewPolicyFromTable(table config.PricingTable) *Policy {
	return &Policy{source: config.NewStaticPricingHolder(table)}
}

func (p *Policy) Table() config.PricingTable {
	return p.source.Get()
}

func (p *Policy) Surcharge(tier inventorydomain.InsuranceTier) (int64, error) {
	table := p.source.Get()
	switch tier {
	case inventorydomain.InsuranceNone, "":
		return table.Surcharge.None, nil
	case inventorydomain.InsuranceStandard:
		return table.Surcharge.Standard, nil
	case inventorydomain.InsuranceDoubleUp:
		return table.Surcharge.DoubleUp, nil
	default:
		return 0, inventorydomain.ErrInvalidInsuranceTier
	}
}

// AmountDue returns the amount in minor units for paying pkg with the given
// type and tier, judged against the package's stored status:
//
//	pending + deposit      -> fixed deposit
//	pending + full         -> base price + surcharge(tier)
//	deposit_paid + full    -> base price + surcharge(tier) - deposit already paid
//
// The deposit is fixed whatever the base price. When the deposit already
// covers the full price there is no balance to collect and ErrDepositExceedsPrice
// is returned.
//
// Any other combination returns ErrPaymentNotAllowed.
func (p *Policy) AmountDue(pkg inventorydomain.Package, paymentType PaymentType, tier inventorydomain.InsuranceTier) (int64, error) {
	surcharge, err := p.Surcharge(tier)
	if err != nil {
		return 0, err
	}
	table := p.source.Get()
	full := pkg.BasePrice + surcharge

	switch paymentType {
	case PaymentDeposit:
		if pkg.Status != inventorydomain.StatusPending {
			return 0, ErrPaymentNotAllowed
		}
		return table.Deposit, nil
	case PaymentFull:
		switch pkg.Status {
		case inventorydomain.StatusPending:
			return full, nil
		case inventorydomain.StatusDepositPaid:
			balance := full - pkg.DepositAmount
			if balance <= 0 {
				return 0, ErrDepositExceedsPrice
			}
			return balance, nil
		default:
			return 0, ErrPaymentNotAllowed
		}
	default:
		return 0, ErrInvalidPaymentType
	}
}

// Permits reports whether the stored status accepts a payment of the given type.
func Permits(status inventorydomain.Status, paymentType PaymentType) bool {
	switch paymentType {
	case PaymentDeposit:
		return status == inventorydomain.StatusPending
	case PaymentFull:
		return status == inventorydomain.StatusPending || status == inventorydomain.StatusDepositPaid
	default:
		return false
	}
}

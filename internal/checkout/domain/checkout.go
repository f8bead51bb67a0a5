package domain

import (
	"context"
	"errors"
	"time"

	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
)

var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrNotFound             = errors.New("package_not_found")
	ErrNotClaimed           = errors.New("package_not_claimed")
	ErrClaimExpired         = errors.New("claim_expired")
	ErrAlreadyPaid          = errors.New("already_paid")
	ErrPackageCancelled     = errors.New("package_cancelled")
	ErrProcessorUnavailable = errors.New("processor_unavailable")
	ErrProcessorRejected    = errors.New("processor_rejected")
	ErrProcessorConfig      = errors.New("processor_not_configured")
	ErrCurrencyUnsupported  = errors.New("currency_unsupported")
)

type CreateRequest struct {
	PackageID     string
	PaymentType   string
	InsuranceTier string
}

// Session is what the caller needs to send the customer to the processor.
type Session struct {
	SessionID     string                        `json:"session_id"`
	RedirectURL   string                        `json:"redirect_url"`
	PackageID     string                        `json:"package_id"`
	PaymentType   pricing.PaymentType           `json:"payment_type"`
	InsuranceTier inventorydomain.InsuranceTier `json:"insurance_tier"`
	AmountDue     int64                         `json:"amount_due"`
	Currency      string                        `json:"currency"`
	ExpiresAt     time.Time                     `json:"expires_at"`
}

// Metadata keys echoed back by the processor on completion.
const (
	MetadataPackageID     = "package_id"
	MetadataPaymentType   = "payment_type"
	MetadataInsuranceTier = "insurance_tier"
	MetadataCustomerID    = "customer_id"
)

// SessionRequest is the processor-neutral description of a hosted checkout.
type SessionRequest struct {
	IdempotencyKey string
	ProductName    string
	Amount         int64
	Currency       string
	Metadata       map[string]string
	ClientRef      string
	SuccessURL     string
	CancelURL      string
	ExpiresAt      time.Time
}

type ProcessorSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Processor opens hosted checkout sessions. Implementations must be safe to
// retry with the same idempotency key.
type Processor interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (ProcessorSession, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Session, error)
}

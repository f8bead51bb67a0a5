package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/packclaim/pkg/db/pagination"
)

type IssueRequest struct {
	PackageID    string
	ReferralCode string
	AgentID      string
	CompanyID    string
	Title        string
	Trips        []Trip
	BasePrice    int64
	Currency     string
}

type CancelRequest struct {
	PackageID string
	Reason    string
}

type ListSettledRequest struct {
	pagination.Pagination
	Status string
	From   *time.Time
	To     *time.Time
}

type ListSettledResponse struct {
	pagination.PageInfo
	Packages []Package `json:"packages"`
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (Package, error)
	Get(ctx context.Context, packageID string) (View, error)
	Cancel(ctx context.Context, req CancelRequest) (Package, error)
	ListSettled(ctx context.Context, req ListSettledRequest) (ListSettledResponse, error)
}

var (
	ErrInvalidPackageID     = errors.New("invalid_package_id")
	ErrInvalidReferralCode  = errors.New("invalid_referral_code")
	ErrInvalidAgent         = errors.New("invalid_agent")
	ErrInvalidCompany       = errors.New("invalid_company")
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidInsuranceTier = errors.New("invalid_insurance_tier")
	ErrInvalidTimeRange     = errors.New("invalid_time_range")
	ErrNotFound             = errors.New("package_not_found")
	ErrAlreadyExists        = errors.New("package_already_exists")
	ErrNotCancellable       = errors.New("package_not_cancellable")
	ErrInvalidPageToken     = errors.New("invalid_page_token")
)

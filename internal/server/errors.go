package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/claim"
	customerdomain "github.com/smallbiznis/packclaim/internal/customer/domain"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	obslogger "github.com/smallbiznis/packclaim/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"github.com/smallbiznis/packclaim/internal/pricing"
	"github.com/smallbiznis/packclaim/internal/referral"
	"github.com/smallbiznis/packclaim/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate_limited")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// Error types reported to clients.
const (
	typeValidation     = "validation_error"
	typeNotFound       = "not_found"
	typeConflict       = "conflict"
	typeGone           = "gone"
	typeUnauthorized   = "unauthorized"
	typeInvalidPayload = "invalid_payload"
	typeReviewRequired = "review_required"
	typeUnprocessable  = "unprocessable"
	typeRateLimited    = "rate_limited"
	typeUpstream       = "upstream_error"
	typeUnavailable    = "service_unavailable"
	typeInternal       = "internal_error"
)

type errorRule struct {
	target error
	status int
	kind   string
}

// domainErrorRules is matched in order; the first rule whose sentinel is in
// the chain wins and its text becomes the message.
var domainErrorRules = []errorRule{
	{ErrUnauthorized, http.StatusUnauthorized, typeUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests, typeRateLimited},

	{referral.ErrNotFound, http.StatusNotFound, typeNotFound},
	{inventorydomain.ErrNotFound, http.StatusNotFound, typeNotFound},
	{checkoutdomain.ErrNotFound, http.StatusNotFound, typeNotFound},
	{gorm.ErrRecordNotFound, http.StatusNotFound, typeNotFound},

	{referral.ErrReferralMismatch, http.StatusConflict, typeConflict},
	{referral.ErrAlreadyClaimed, http.StatusConflict, typeConflict},
	{claim.ErrCustomerExists, http.StatusConflict, typeConflict},
	{inventorydomain.ErrAlreadyExists, http.StatusConflict, typeConflict},
	{inventorydomain.ErrNotCancellable, http.StatusConflict, typeConflict},
	{checkoutdomain.ErrNotClaimed, http.StatusConflict, typeConflict},
	{checkoutdomain.ErrAlreadyPaid, http.StatusConflict, typeConflict},
	{checkoutdomain.ErrPackageCancelled, http.StatusConflict, typeConflict},
	{pricing.ErrPaymentNotAllowed, http.StatusConflict, typeConflict},
	{db.ErrConflict, http.StatusConflict, typeConflict},

	{claim.ErrClaimExpired, http.StatusGone, typeGone},
	{checkoutdomain.ErrClaimExpired, http.StatusGone, typeGone},

	{paymentdomain.ErrInvalidSignature, http.StatusBadRequest, typeInvalidPayload},
	{paymentdomain.ErrInvalidPayload, http.StatusBadRequest, typeInvalidPayload},
	{paymentdomain.ErrInvalidEvent, http.StatusBadRequest, typeInvalidPayload},
	{paymentdomain.ErrInvalidMetadata, http.StatusBadRequest, typeInvalidPayload},

	{paymentdomain.ErrAmountMismatch, http.StatusUnprocessableEntity, typeReviewRequired},
	{paymentdomain.ErrCustomerMismatch, http.StatusUnprocessableEntity, typeReviewRequired},
	{paymentdomain.ErrUnknownPackage, http.StatusUnprocessableEntity, typeReviewRequired},
	{pricing.ErrDepositExceedsPrice, http.StatusUnprocessableEntity, typeUnprocessable},
	{checkoutdomain.ErrCurrencyUnsupported, http.StatusUnprocessableEntity, typeUnprocessable},

	{checkoutdomain.ErrProcessorRejected, http.StatusBadGateway, typeUpstream},
	{checkoutdomain.ErrProcessorUnavailable, http.StatusServiceUnavailable, typeUnavailable},
	{checkoutdomain.ErrProcessorConfig, http.StatusServiceUnavailable, typeUnavailable},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, typeUnavailable},
}

// validationSentinels are caller input errors reported as field errors.
var validationSentinels = []error{
	ErrInvalidRequest,
	referral.ErrInvalidRequest,
	checkoutdomain.ErrInvalidRequest,
	customerdomain.ErrInvalidName,
	customerdomain.ErrInvalidEmail,
	customerdomain.ErrInvalidPhone,
	inventorydomain.ErrInvalidPackageID,
	inventorydomain.ErrInvalidReferralCode,
	inventorydomain.ErrInvalidAgent,
	inventorydomain.ErrInvalidCompany,
	inventorydomain.ErrInvalidPrice,
	inventorydomain.ErrInvalidCurrency,
	inventorydomain.ErrInvalidStatus,
	inventorydomain.ErrInvalidInsuranceTier,
	inventorydomain.ErrInvalidTimeRange,
	inventorydomain.ErrInvalidPageToken,
	pricing.ErrInvalidPaymentType,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    typeInternal,
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    typeValidation,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := validationSentinel(err); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    typeValidation,
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	if rule, ok := matchRule(err); ok {
		return rule.status, errorPayload{
			Type:    rule.kind,
			Message: rule.target.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    typeInternal,
		Message: "internal server error",
	}
}

// classifyErrorForLog feeds the request logger's error_class and error_code fields.
func classifyErrorForLog(err error) (string, string) {
	if asValidationErrors(err) != nil {
		return obslogger.ErrorClassValidation, "validation_error"
	}
	if sentinel := validationSentinel(err); sentinel != nil {
		return obslogger.ErrorClassValidation, sentinel.Error()
	}
	rule, ok := matchRule(err)
	if !ok {
		return obslogger.ErrorClassInternal, typeInternal
	}
	switch rule.kind {
	case typeConflict, typeReviewRequired, typeUnprocessable, typeNotFound:
		return obslogger.ErrorClassConflict, rule.target.Error()
	case typeGone:
		return obslogger.ErrorClassTemporal, rule.target.Error()
	case typeUnauthorized, typeInvalidPayload:
		return obslogger.ErrorClassAuthenticity, rule.target.Error()
	case typeRateLimited:
		return obslogger.ErrorClassValidation, rule.target.Error()
	default:
		return obslogger.ErrorClassInternal, rule.target.Error()
	}
}

func matchRule(err error) (errorRule, bool) {
	for _, rule := range domainErrorRules {
		if errors.Is(err, rule.target) {
			return rule, true
		}
	}
	return errorRule{}, false
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationSentinel(err error) error {
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_page_token":
		return "invalid page token"
	case "invalid_time_range":
		return "invalid time range"
	default:
		return "invalid value"
	}
}

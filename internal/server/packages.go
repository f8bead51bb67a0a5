package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/claim"
	customerdomain "github.com/smallbiznis/packclaim/internal/customer/domain"
)

type claimPackageRequest struct {
	ReferralCode string `json:"referral_code" binding:"required"`
	CustomerID   string `json:"customer_id"`
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone"`
}

type createCheckoutRequest struct {
	PaymentType   string `json:"payment_type" binding:"required"`
	InsuranceTier string `json:"insurance_tier"`
}

// ValidateReferral is the read-only pre-check shown before the claim form.
func (s *Server) ValidateReferral(c *gin.Context) {
	packageID := strings.TrimSpace(c.Param("package_id"))
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "invalid_code", "code is required"))
		return
	}

	snapshot, err := s.referrals.Validate(c.Request.Context(), packageID, code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

func (s *Server) ClaimPackage(c *gin.Context) {
	var req claimPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	result, err := s.claims.Claim(c.Request.Context(), claim.ClaimRequest{
		PackageID:    c.Param("package_id"),
		ReferralCode: req.ReferralCode,
		CustomerID:   req.CustomerID,
		Profile: customerdomain.Profile{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	session, err := s.checkoutSvc.Create(c.Request.Context(), checkoutdomain.CreateRequest{
		PackageID:     c.Param("package_id"),
		PaymentType:   req.PaymentType,
		InsuranceTier: req.InsuranceTier,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": session})
}

// GetPackageStatus reports the effective status and the deadlines derived from it.
func (s *Server) GetPackageStatus(c *gin.Context) {
	view, err := s.inventorySvc.Get(c.Request.Context(), c.Param("package_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

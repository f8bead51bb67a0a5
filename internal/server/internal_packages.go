package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	inventorydomain "github.com/smallbiznis/packclaim/internal/inventory/domain"
	"github.com/smallbiznis/packclaim/pkg/db/pagination"
)

type listSettledQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Limit     int    `form:"limit"`
	Status    string `form:"status"`
	From      string `form:"from"`
	To        string `form:"to"`
}

type issuePackageRequest struct {
	PackageID    string                 `json:"package_id" binding:"required"`
	ReferralCode string                 `json:"referral_code" binding:"required"`
	AgentID      string                 `json:"agent_id" binding:"required"`
	CompanyID    string                 `json:"company_id" binding:"required"`
	Title        string                 `json:"title"`
	Trips        []inventorydomain.Trip `json:"trips"`
	BasePrice    int64                  `json:"base_price" binding:"required"`
	Currency     string                 `json:"currency" binding:"required"`
}

type cancelPackageRequest struct {
	Reason string `json:"reason"`
}

// ListSettledPackages serves the revenue rollup: deposit-paid and paid
// packages filtered by status and settlement date.
func (s *Server) ListSettledPackages(c *gin.Context) {
	var query listSettledQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	from, err := parseOptionalTime(query.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(query.To, true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	pageSize := query.PageSize
	if pageSize == 0 {
		pageSize = query.Limit
	}

	resp, err := s.inventorySvc.ListSettled(c.Request.Context(), inventorydomain.ListSettledRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  pageSize,
		},
		Status: strings.TrimSpace(query.Status),
		From:   from,
		To:     to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Packages, "page_info": resp.PageInfo})
}

func (s *Server) IssuePackage(c *gin.Context) {
	var req issuePackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	pkg, err := s.inventorySvc.Issue(c.Request.Context(), inventorydomain.IssueRequest{
		PackageID:    req.PackageID,
		ReferralCode: req.ReferralCode,
		AgentID:      req.AgentID,
		CompanyID:    req.CompanyID,
		Title:        req.Title,
		Trips:        req.Trips,
		BasePrice:    req.BasePrice,
		Currency:     req.Currency,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": pkg})
}

func (s *Server) CancelPackage(c *gin.Context) {
	var req cancelPackageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	pkg, err := s.inventorySvc.Cancel(c.Request.Context(), inventorydomain.CancelRequest{
		PackageID: c.Param("package_id"),
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": pkg})
}

// ListPackagePayments returns the reconciliation records applied to a package.
func (s *Server) ListPackagePayments(c *gin.Context) {
	records, err := s.paymentSvc.ListReconciliations(c.Request.Context(), c.Param("package_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": records})
}

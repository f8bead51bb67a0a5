package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody caps the raw payload read before signature verification.
const maxWebhookBody = 1 << 20

// HandlePaymentWebhook hands the raw body to the reconciler. Redeliveries,
// ignored events and skipped transitions all answer 200 so the processor
// stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": outcome})
}

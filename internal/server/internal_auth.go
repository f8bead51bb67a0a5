package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/packclaim/internal/audit/domain"
	"github.com/smallbiznis/packclaim/internal/auditcontext"
)

const (
	internalAPIKeyHeader = "X-Internal-Api-Key"
	internalActorID      = "internal_api"
)

// InternalAPIKeyRequired gates operator routes behind the shared internal key.
// With no key configured every request is refused.
func (s *Server) InternalAPIKeyRequired() gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(s.cfg.InternalAPIKey))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		given := []byte(strings.TrimSpace(c.GetHeader(internalAPIKeyHeader)))
		if len(given) == 0 || subtle.ConstantTimeCompare(given, expected) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := auditcontext.WithActor(c.Request.Context(), string(auditdomain.ActorTypeOperator), internalActorID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openshelf/libms-api/internal/service"
	appErrors "github.com/openshelf/libms-api/pkg/errors"
	"github.com/openshelf/libms-api/pkg/response"
)

// ContextSessionKey is the gin context key storing the validated session.
const ContextSessionKey = "currentSession"

// Session protects routes by requiring a live server-side session token.
// Rejections are reported to metrics by reason but the client always
// receives the same generic unauthorized response. Store failures are not
// rejections and surface as 500 so callers do not treat an outage as a
// revoked session.
func Session(guard *service.SessionGuard, metrics *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)

		sess, err := guard.Validate(c.Request.Context(), token, c.ClientIP(), c.Request.UserAgent())
		if err != nil {
			if reason, ok := service.RejectReasonOf(err); ok {
				metrics.RecordSessionRejection(string(reason))
				response.Error(c, appErrors.ErrSessionInvalid)
			} else {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "session lookup failed"))
			}
			c.Abort()
			return
		}

		c.Set(ContextSessionKey, sess)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

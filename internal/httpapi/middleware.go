package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/httperr"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "requestId"

	callerIDHeader    = "X-Feen-User-Id"
	callerRolesHeader = "X-Feen-User-Roles"
)

// RequestIDMiddleware assigns a correlation id to every request, honoring
// one supplied by an upstream proxy and echoing it back on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// IdentityMiddleware resolves the caller for the management API (§4.10's
// CRUD surface). Session/OAuth establishment is out of scope here (spec.md
// §1): this trusts identity headers set by whatever authenticating proxy or
// gateway sits in front of this service, the same boundary the teacher's
// own AuthMiddleware draws between token verification and the request
// context it hands downstream.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(callerIDHeader)
		if userID == "" {
			httperr.Respond(c, apperr.New(apperr.CodeUnauthorized, "missing caller identity"))
			return
		}
		var roles []string
		if raw := c.GetHeader(callerRolesHeader); raw != "" {
			for _, r := range strings.Split(raw, ",") {
				if r = strings.TrimSpace(r); r != "" {
					roles = append(roles, r)
				}
			}
		}
		rc := &RequestContext{CallerUserID: userID, CallerRoles: roles}
		c.Request = c.Request.WithContext(WithRequestContext(c.Request.Context(), rc))
		c.Next()
	}
}

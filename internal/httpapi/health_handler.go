package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feen-dev/feen-gateway/internal/process"
)

func newHealthHandler(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		status := "ok"
		code := http.StatusOK
		if err := proc.Store.HealthCheck(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if err := proc.Fast.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status})
	}
}

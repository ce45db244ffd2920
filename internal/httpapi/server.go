// Package httpapi is the HTTP entry point (C11): the proxy surface plus the
// management CRUD routes over api keys, shared tokens, two-factor
// enrollment, and webhooks. Grounded on the teacher's
// engine/infra/server/server.go request lifecycle and
// engine/auth/middleware.go's context-threading pattern, generalized for
// this gateway's simpler (Temporal/workflow-free) route set.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/feen-dev/feen-gateway/docs"
	"github.com/feen-dev/feen-gateway/internal/config"
	"github.com/feen-dev/feen-gateway/internal/process"
)

// Server wraps the gin engine and the stdlib http.Server that serves it.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// New builds the full route table over proc. Route groups mirror spec.md
// §4.10: an unauthenticated-by-middleware proxy surface (the shared-token
// policy evaluator IS its authentication) and an identity-gated /api/v1
// management surface.
func New(cfg *config.Config, proc *process.Context) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), RequestIDMiddleware(), proc.Guard.Middleware())

	engine.GET("/healthz", newHealthHandler(proc))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	docs.SwaggerInfo.Host = addrHost(cfg)
	engine.GET("/docs/*any", ginSwagger.WrapHandler(
		swaggerFiles.Handler,
		ginSwagger.URL("/docs/doc.json"),
		ginSwagger.InstanceName(docs.SwaggerInfo.InstanceName()),
		ginSwagger.DefaultModelsExpandDepth(-1),
	))
	engine.GET("/swagger/index.html", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/docs/index.html")
	})

	engine.Any("/api/proxy/*path", newProxyHandler(proc))

	v1 := engine.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	registerAPIKeyRoutes(v1, proc)
	registerTokenRoutes(v1, proc)
	registerTwoFactorRoutes(v1, proc)
	registerWebhookRoutes(v1, proc)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		},
	}
}

// Start blocks serving HTTP until the listener errors or Shutdown is called.
func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// addrHost reports the host:port the swagger UI should point its "try it
// out" requests at, falling back to localhost when the server binds every
// interface.
func addrHost(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Server.Port)
}

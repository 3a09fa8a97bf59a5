// Package http builds the gin engine that exposes the gift card core.
package http

import (
	"github.com/giftvault/giftvault/internal/http/api/v1"
	"github.com/giftvault/giftvault/internal/http/api/v1/handlers"
	"github.com/giftvault/giftvault/internal/metrics"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RouterConfig carries the services and operator keys behind the API.
type RouterConfig struct {
	DB           *gorm.DB
	Deps         v1.Deps
	AdminAPIKeys []string
	// TrustedProxies limits which peers may set X-Forwarded-For. Nil trusts none.
	TrustedProxies []string
}

// NewRouter returns an engine with health, metrics, and /v1 routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	metrics.Init()

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(), MetricsMiddleware())
	_ = r.SetTrustedProxies(cfg.TrustedProxies)

	if cfg.DB != nil {
		health := handlers.NewHealthHandler(cfg.DB)
		r.GET("/healthz", health.Healthz)
	}
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	deps := cfg.Deps
	deps.AdminMiddleware = AdminKeyMiddleware(cfg.AdminAPIKeys)
	v1.RegisterRoutes(r, deps)
	return r
}

// Package v1 registers the public gift card API.
package v1

import (
	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/giftvault/giftvault/internal/chargeback"
	"github.com/giftvault/giftvault/internal/fraud"
	"github.com/giftvault/giftvault/internal/http/api/v1/handlers"
	"github.com/giftvault/giftvault/internal/payments"
	"github.com/giftvault/giftvault/internal/redemption"
	"github.com/giftvault/giftvault/internal/security"
	"github.com/gin-gonic/gin"
)

// Deps are the core services behind the API.
type Deps struct {
	Engine      *redemption.Engine
	Gate        *fraud.Gate
	Links       *security.LinkSigner
	Chargebacks *chargeback.Handler
	Payments    *payments.Service
	Breakage    *breakage.Calculator
	// AdminMiddleware guards operator routes. Nil leaves them open.
	AdminMiddleware gin.HandlerFunc
}

// RegisterRoutes registers the /v1 routes.
func RegisterRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Engine == nil {
		return
	}

	v1 := r.Group("/v1")

	cards := handlers.NewGiftCardHandler(deps.Engine, deps.Gate, deps.Links)
	v1.GET("/gift-cards/:code", cards.Get)
	v1.GET("/gift-cards/:code/transactions", cards.Transactions)
	v1.POST("/gift-cards/:code/redeem", cards.Redeem)
	v1.POST("/gift-cards/:code/links", cards.CreateLink)
	v1.POST("/links/:token/redeem", cards.RedeemLink)

	admin := v1.Group("")
	if deps.AdminMiddleware != nil {
		admin.Use(deps.AdminMiddleware)
	}
	admin.GET("/gift-cards", cards.List)

	if deps.Chargebacks != nil {
		chargebacks := handlers.NewChargebackHandler(deps.Chargebacks)
		admin.POST("/chargebacks/:id/status", chargebacks.UpdateStatus)
	}

	if deps.Breakage != nil {
		reports := handlers.NewReportHandler(deps.Breakage)
		admin.GET("/reports/breakage", reports.Breakage)
	}

	if deps.Payments != nil {
		purchases := handlers.NewPurchaseHandler(deps.Payments)
		v1.POST("/purchases", purchases.Create)

		webhooks := handlers.NewWebhookHandler(deps.Payments)
		v1.POST("/webhooks/payments", webhooks.Payments)
	}
}

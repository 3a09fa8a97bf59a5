package handlers

import (
	"net/http"

	"github.com/giftvault/giftvault/internal/payments"
	"github.com/gin-gonic/gin"
)

// PurchaseHandler accepts gift card purchase intents.
type PurchaseHandler struct {
	payments *payments.Service
}

// NewPurchaseHandler constructs a PurchaseHandler.
func NewPurchaseHandler(service *payments.Service) *PurchaseHandler {
	return &PurchaseHandler{payments: service}
}

type purchaseRequest struct {
	ProviderRef            string  `json:"paymentIntentOrOrderId"`
	MerchantID             uint64  `json:"merchantId"`
	UserID                 *uint64 `json:"userId"`
	Amount                 int64   `json:"amount"`
	Currency               string  `json:"currency"`
	Email                  string  `json:"email"`
	Phone                  string  `json:"phone"`
	PaymentMethod          string  `json:"paymentMethod"`
	ExpiryDays             int     `json:"expiryDays"`
	AllowPartialRedemption *bool   `json:"allowPartialRedemption"`
	RecipientEmail         *string `json:"recipientEmail"`
	RecipientPhone         *string `json:"recipientPhone"`
}

// Create runs the fraud gate and records a pending payment.
func (h *PurchaseHandler) Create(c *gin.Context) {
	var body purchaseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	allowPartial := true
	if body.AllowPartialRedemption != nil {
		allowPartial = *body.AllowPartialRedemption
	}
	result, errPurchase := h.payments.Purchase(c.Request.Context(), payments.PurchaseInput{
		ProviderRef:            body.ProviderRef,
		MerchantID:             body.MerchantID,
		UserID:                 body.UserID,
		Amount:                 body.Amount,
		Currency:               body.Currency,
		Email:                  body.Email,
		Phone:                  body.Phone,
		IPAddress:              c.ClientIP(),
		PaymentMethod:          body.PaymentMethod,
		ExpiryDays:             body.ExpiryDays,
		AllowPartialRedemption: allowPartial,
		RecipientEmail:         body.RecipientEmail,
		RecipientPhone:         body.RecipientPhone,
	})
	if errPurchase != nil {
		writeError(c, errPurchase)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"paymentId":              result.Payment.ID,
		"paymentIntentOrOrderId": result.Payment.ProviderRef,
		"status":                 result.Payment.Status,
		"decision":               result.Decision,
	})
}

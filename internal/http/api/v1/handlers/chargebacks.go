package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/giftvault/giftvault/internal/chargeback"
	"github.com/giftvault/giftvault/internal/models"
	"github.com/gin-gonic/gin"
)

// ChargebackHandler resolves disputes.
type ChargebackHandler struct {
	chargebacks *chargeback.Handler
}

// NewChargebackHandler constructs a ChargebackHandler.
func NewChargebackHandler(chargebacks *chargeback.Handler) *ChargebackHandler {
	return &ChargebackHandler{chargebacks: chargebacks}
}

type chargebackStatusRequest struct {
	Status   string  `json:"status"`
	Evidence *string `json:"evidence"`
}

// UpdateStatus moves a PENDING chargeback to a terminal status.
func (h *ChargebackHandler) UpdateStatus(c *gin.Context) {
	id, errID := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errID != nil || id == 0 {
		badRequest(c, "invalid chargeback id")
		return
	}
	var body chargebackStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		badRequest(c, "invalid json")
		return
	}
	status := models.ChargebackStatus(strings.ToUpper(strings.TrimSpace(body.Status)))
	cb, errUpdate := h.chargebacks.UpdateStatus(c.Request.Context(), id, status, body.Evidence)
	if errUpdate != nil {
		writeError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, cb)
}

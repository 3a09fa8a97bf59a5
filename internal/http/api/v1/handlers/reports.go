package handlers

import (
	"net/http"

	"github.com/giftvault/giftvault/internal/breakage"
	"github.com/gin-gonic/gin"
)

// ReportHandler serves financial reports.
type ReportHandler struct {
	calculator *breakage.Calculator
}

// NewReportHandler constructs a ReportHandler.
func NewReportHandler(calculator *breakage.Calculator) *ReportHandler {
	return &ReportHandler{calculator: calculator}
}

// Breakage reports unredeemed and forfeited value.
func (h *ReportHandler) Breakage(c *gin.Context) {
	merchantID, errMerchant := parseOptionalUint(c.Query("merchant_id"))
	if errMerchant != nil {
		badRequest(c, errMerchant.Error())
		return
	}
	from, errFrom := parseOptionalTime(c.Query("issued_from"))
	if errFrom != nil {
		badRequest(c, errFrom.Error())
		return
	}
	to, errTo := parseOptionalTime(c.Query("issued_to"))
	if errTo != nil {
		badRequest(c, errTo.Error())
		return
	}
	report, errCalc := h.calculator.Calculate(c.Request.Context(), breakage.Filter{MerchantID: merchantID, IssuedFrom: from, IssuedTo: to})
	if errCalc != nil {
		writeError(c, errCalc)
		return
	}
	c.JSON(http.StatusOK, report)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/giftvault/giftvault/internal/chargeback"
	"github.com/giftvault/giftvault/internal/fraud"
	"github.com/giftvault/giftvault/internal/ledger"
	"github.com/giftvault/giftvault/internal/security"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	var validation *ledger.ValidationError
	switch {
	case errors.Is(err, security.ErrInvalidSignature),
		errors.Is(err, security.ErrInvalidToken),
		errors.Is(err, security.ErrExpiredToken):
		return http.StatusUnauthorized
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsConflict(err), errors.Is(err, chargeback.ErrChargebackResolved):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Unexpected errors are logged and hidden.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var validation *ledger.ValidationError
	if errors.As(err, &validation) {
		body["code"] = validation.Code
	}
	var blocked *fraud.BlockedError
	if errors.As(err, &blocked) {
		body["decision"] = blocked.Decision
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": ledger.ErrInvalidInput.Code})
}

package ginserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	apppayments "charterpay/internal/app/handlers/payments"
	"charterpay/internal/app/policies"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
)

// statusFor maps application and domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apppayments.ErrValidation),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrInvalidCurrency),
		errors.Is(err, money.ErrCurrencyMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domainpayment.ErrPaymentNotFound),
		errors.Is(err, domainbooking.ErrBookingNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainpayment.ErrInvalidState),
		errors.Is(err, domainpayment.ErrActivePaymentExists),
		errors.Is(err, domainpayment.ErrConcurrentUpdate),
		errors.Is(err, domainbooking.ErrConcurrentUpdate):
		return http.StatusConflict
	case policies.IsTerminal(err):
		return http.StatusBadGateway
	case policies.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}
	if status == http.StatusInternalServerError {
		body = gin.H{"error": "internal error"}
	}
	c.JSON(status, body)
}

func isConflict(err error) bool {
	return statusFor(err) == http.StatusConflict
}

package ginserver

import (
	"net/http"

	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"charterpay/internal/app/commands"
	apppayments "charterpay/internal/app/handlers/payments"
	"charterpay/internal/app/queries"
)

type PaymentHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
}

type initiateRequest struct {
	BookingID       string `json:"booking_id" binding:"required"`
	Amount          int64  `json:"amount" binding:"required"`
	Currency        string `json:"currency" binding:"required"`
	Rail            string `json:"rail" binding:"required"`
	ReceiveCurrency string `json:"receive_currency"`
}

func (h PaymentHandler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := apppayments.InitiatePaymentCommand{
		CommandID:       uuid.NewString(),
		BookingID:       req.BookingID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Rail:            req.Rail,
		ReceiveCurrency: req.ReceiveCurrency,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	snap, err := commands.Dispatch[apppayments.InitiatePaymentCommand, *apppayments.Snapshot](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondCommandError(c, err, "")
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (h PaymentHandler) Get(c *gin.Context) {
	snap, err := queries.Ask[apppayments.GetPaymentQuery, *apppayments.Snapshot](
		c.Request.Context(), h.Queries, apppayments.GetPaymentQuery{PaymentID: c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h PaymentHandler) GetByBooking(c *gin.Context) {
	snap, err := queries.Ask[apppayments.GetBookingPaymentQuery, *apppayments.Snapshot](
		c.Request.Context(), h.Queries, apppayments.GetBookingPaymentQuery{BookingID: c.Param("id")})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type adjustPriceRequest struct {
	NewAmount int64  `json:"new_amount" binding:"required"`
	Currency  string `json:"currency" binding:"required"`
	Note      string `json:"note"`
}

func (h PaymentHandler) AdjustPrice(c *gin.Context) {
	var req adjustPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := apppayments.AdjustPriceCommand{
		PaymentID:       c.Param("id"),
		NewAmount:       req.NewAmount,
		Currency:        req.Currency,
		Note:            req.Note,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	snap, err := commands.Dispatch[apppayments.AdjustPriceCommand, *apppayments.Snapshot](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondCommandError(c, err, cmd.PaymentID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h PaymentHandler) Capture(c *gin.Context) {
	cmd := apppayments.CapturePaymentCommand{
		PaymentID:       c.Param("id"),
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	snap, err := commands.Dispatch[apppayments.CapturePaymentCommand, *apppayments.Snapshot](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondCommandError(c, err, cmd.PaymentID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h PaymentHandler) Cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	cmd := apppayments.CancelPaymentCommand{
		PaymentID:       c.Param("id"),
		Reason:          req.Reason,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	snap, err := commands.Dispatch[apppayments.CancelPaymentCommand, *apppayments.Snapshot](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondCommandError(c, err, cmd.PaymentID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h PaymentHandler) Poll(c *gin.Context) {
	cmd := apppayments.PollOrderCommand{PaymentID: c.Param("id")}
	snap, err := commands.Dispatch[apppayments.PollOrderCommand, *apppayments.Snapshot](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.respondCommandError(c, err, cmd.PaymentID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// respondCommandError renders the error, and on a conflict also returns the
// current record so the caller can see what state it lost against.
func (h PaymentHandler) respondCommandError(c *gin.Context, err error, paymentID string) {
	if paymentID != "" && isConflict(err) {
		snap, qerr := queries.Ask[apppayments.GetPaymentQuery, *apppayments.Snapshot](
			c.Request.Context(), h.Queries, apppayments.GetPaymentQuery{PaymentID: paymentID})
		if qerr == nil && snap != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "payment": snap})
			return
		}
	}
	respondError(c, err)
}

var _ PaymentHTTP = PaymentHandler{}

package policies

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charterpay/internal/domain/shared/money"
)

// ErrRailUnavailable marks a transient upstream failure: the rail could not be
// reached or timed out. Internal state is never changed on this class and the
// caller is expected to retry with backoff.
var ErrRailUnavailable = errors.New("rails: upstream unavailable")

// RejectedError is a terminal upstream rejection: the rail explicitly refused
// the operation. The payment transitions to Failed on this class.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("rails: rejected (%s)", e.Code)
	}
	return fmt.Sprintf("rails: rejected (%s): %s", e.Code, e.Message)
}

// IsTransient reports whether the rail error should be retried by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRailUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// IsTerminal reports whether the rail explicitly rejected the operation.
func IsTerminal(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// HoldOpened is the result of placing a hold on the synchronous rail.
type HoldOpened struct {
	ExternalID      string
	CustomerHandoff string
}

// HoldRail is the hold-and-capture rail adapter boundary. Every call is
// synchronous and either succeeds, fails transient, or fails terminal.
// Capture, void and refund carry an idempotency key derived from the payment
// and the target state, so a retried call after a lost race folds into the
// original operation at the processor instead of charging twice.
type HoldRail interface {
	CreateHold(ctx context.Context, amount money.Money, metadata map[string]string) (HoldOpened, error)
	UpdateHoldAmount(ctx context.Context, externalID string, amount money.Money) error
	CaptureHold(ctx context.Context, externalID, idempotencyKey string) error
	VoidHold(ctx context.Context, externalID, idempotencyKey string) error
	Refund(ctx context.Context, externalID, idempotencyKey string) error
}

// CreateOrderRequest carries everything the async rail needs to open an order.
type CreateOrderRequest struct {
	Amount          money.Money
	ReceiveCurrency string
	Reference       string
	CallbackURL     string
	SuccessURL      string
	CancelURL       string
}

// OrderOpened is the result of creating an order on the async rail. Final
// status arrives out-of-band via callback, never from this call.
type OrderOpened struct {
	OrderID    string
	PaymentURL string
	ExpiresAt  time.Time
}

// OrderSnapshot is the rail's current view of an order, used for manual
// reconciliation only.
type OrderSnapshot struct {
	OrderID         string
	Status          string
	SettledAmount   string
	SettledCurrency string
}

// AsyncOrderRail is the asynchronous order rail adapter boundary. The rail has
// no amount-update or direct-capture primitive; price changes are handled by
// reissuing the order.
type AsyncOrderRail interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (OrderOpened, error)
	GetOrder(ctx context.Context, orderID string) (OrderSnapshot, error)
}

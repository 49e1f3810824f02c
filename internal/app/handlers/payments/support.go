package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/outbox"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/uow"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

// ErrValidation marks malformed input rejected before any rail call.
var ErrValidation = errors.New("payments: validation failed")

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Snapshot is the serializable view of a BookingPayment returned by commands
// and queries. It doubles as the idempotency result prototype, so it must
// round-trip through JSON.
type Snapshot struct {
	PaymentID         string       `json:"payment_id"`
	BookingID         string       `json:"booking_id"`
	Rail              string       `json:"rail"`
	State             string       `json:"state"`
	ExternalReference string       `json:"external_reference,omitempty"`
	Amount            int64        `json:"amount"`
	Currency          string       `json:"currency"`
	SettledAmount     string       `json:"settled_amount,omitempty"`
	SettledCurrency   string       `json:"settled_currency,omitempty"`
	CustomerHandoff   string       `json:"customer_handoff,omitempty"`
	FailureReason     string       `json:"failure_reason,omitempty"`
	Adjustments       []Adjustment `json:"adjustments,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	AuthorizedAt      *time.Time   `json:"authorized_at,omitempty"`
	CapturedAt        *time.Time   `json:"captured_at,omitempty"`
	CancelledAt       *time.Time   `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time   `json:"refunded_at,omitempty"`
}

type Adjustment struct {
	PreviousAmount int64     `json:"previous_amount"`
	Note           string    `json:"note,omitempty"`
	AdjustedAt     time.Time `json:"adjusted_at"`
}

func snapshotOf(p *domainpayment.BookingPayment) Snapshot {
	s := Snapshot{
		PaymentID:         string(p.ID),
		BookingID:         string(p.BookingID),
		Rail:              string(p.Rail),
		State:             string(p.State),
		ExternalReference: p.ExternalReference,
		Amount:            p.Amount.Amount,
		Currency:          p.Amount.Currency,
		FailureReason:     p.FailureReason,
		CreatedAt:         p.CreatedAt,
	}
	if p.Settled != nil {
		s.SettledAmount = p.Settled.Amount
		s.SettledCurrency = p.Settled.Currency
	}
	for _, adj := range p.Adjustments {
		s.Adjustments = append(s.Adjustments, Adjustment{
			PreviousAmount: adj.PreviousAmount.Amount,
			Note:           adj.Note,
			AdjustedAt:     adj.AdjustedAt,
		})
	}
	s.AuthorizedAt = timePtr(p.AuthorizedAt)
	s.CapturedAt = timePtr(p.CapturedAt)
	s.CancelledAt = timePtr(p.CancelledAt)
	s.RefundedAt = timePtr(p.RefundedAt)
	return s
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// drainEvents moves pending aggregate events into the outbox.
func drainEvents(ctx context.Context, box outbox.Outbox, enc outbox.EventEncoder, p *domainpayment.BookingPayment) error {
	pending := p.PendingEvents()
	p.ClearEvents()
	return outbox.RecordDomainEvents(ctx, box, enc, pending)
}

// markPaymentFailed persists a terminal rail rejection in a detached unit of
// work so the Failed state survives the rollback of the calling operation.
// The booking is marked payment-failed and the customer is notified.
func markPaymentFailed(
	ctx context.Context,
	factory uow.UoWFactory,
	id domainpayment.PaymentID,
	reason string,
	box outbox.Outbox,
	enc outbox.EventEncoder,
	notifier policies.Dispatcher,
	logger *slog.Logger,
) {
	unit, execCtx, err := handlersupport.BeginDetachedUnit(ctx, factory)
	if err != nil {
		logFailure(logger, id, "begin detached unit", err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	p, err := unit.Payments().ByID(execCtx, id)
	if err != nil {
		logFailure(logger, id, "load payment", err)
		return
	}
	prior := p.State
	if err := p.Fail(reason, time.Now()); err != nil {
		logFailure(logger, id, "transition to failed", err)
		return
	}
	if err := unit.Payments().Save(execCtx, p); err != nil {
		logFailure(logger, id, "save payment", err)
		return
	}
	if b, err := unit.Bookings().ByID(execCtx, p.BookingID); err == nil {
		b.MarkPaymentFailed(time.Now())
		if err := unit.Bookings().Save(execCtx, b); err != nil {
			logFailure(logger, id, "save booking", err)
			return
		}
	}
	if err := drainEvents(execCtx, box, enc, p); err != nil {
		logFailure(logger, id, "record events", err)
		return
	}
	if err := unit.Commit(execCtx); err != nil {
		logFailure(logger, id, "commit", err)
		return
	}
	committed = true
	if logger != nil {
		logger.Warn("payment failed on terminal rail rejection",
			"payment_id", id, "prior_state", prior, "reason", reason)
	}
	if notifier != nil {
		notifier.Dispatch(execCtx, policies.Notification{
			Kind:      "payment.failed",
			PaymentID: string(id),
			BookingID: string(p.BookingID),
			Data:      map[string]any{"reason": reason},
		})
	}
}

func logFailure(logger *slog.Logger, id domainpayment.PaymentID, step string, err error) {
	if logger != nil {
		logger.Error("failed-state persistence aborted", "payment_id", id, "step", step, "error", err)
	}
}

// syncBookingPayment applies the payment-status side of a transition to the
// parent booking inside the same unit of work.
func syncBookingPayment(ctx context.Context, unit uow.UnitOfWork, id domainbooking.BookingID, apply func(*domainbooking.Booking)) error {
	b, err := unit.Bookings().ByID(ctx, id)
	if err != nil {
		return err
	}
	apply(b)
	return unit.Bookings().Save(ctx, b)
}

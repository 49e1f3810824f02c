package payments

import (
	"context"
	"log/slog"
	"time"

	"charterpay/internal/app/commands"
	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/middleware"
	"charterpay/internal/app/outbox"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/uow"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

const cancelPaymentKey = "payment.cancel"

type CancelPaymentCommand struct {
	PaymentID       string
	Reason          string
	IdempotencyKeyV string
}

func (c CancelPaymentCommand) Key() string { return cancelPaymentKey }

func (c CancelPaymentCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c CancelPaymentCommand) ResultPrototype() any { return &Snapshot{} }

type CancelPaymentHandler struct {
	UoWFactory uow.UoWFactory
	HoldRail   policies.HoldRail
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Notifier   policies.Dispatcher
	Logger     *slog.Logger
}

// Handle winds a payment down. Before capture the hold is voided and nothing
// was ever owed; after capture the funds go back as a refund. Cancelling a
// payment that already reached a terminal state is a no-op and returns the
// record as is.
func (h *CancelPaymentHandler) Handle(ctx context.Context, cmd CancelPaymentCommand) (*Snapshot, error) {
	unit, execCtx, commit, cleanup, err := handlersupport.BeginUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p, err := unit.Payments().ByID(execCtx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if p.State.Terminal() {
		snap := snapshotOf(p)
		return &snap, nil
	}

	now := time.Now()
	var kind string
	var syncBooking func(*domainbooking.Booking)

	switch p.State {
	case domainpayment.StateCreated, domainpayment.StateAuthorized:
		if p.Rail == domainpayment.RailHoldCapture && p.ExternalReference != "" {
			if err := h.HoldRail.VoidHold(ctx, p.ExternalReference, string(p.ID)+":voided"); err != nil {
				if policies.IsTerminal(err) {
					markPaymentFailed(ctx, h.UoWFactory, p.ID, err.Error(), h.Outbox, h.encoder(), h.Notifier, h.Logger)
				}
				return nil, err
			}
		}
		// Unpaid async orders need no rail call, they expire at the gateway.
		if err := p.Cancel(cmd.Reason, now); err != nil {
			return nil, err
		}
		kind = "payment.cancelled"
		syncBooking = func(b *domainbooking.Booking) { b.MarkPaymentCancelled(now) }

	case domainpayment.StateCaptured:
		if p.Rail == domainpayment.RailHoldCapture {
			if err := h.HoldRail.Refund(ctx, p.ExternalReference, string(p.ID)+":refunded"); err != nil {
				if policies.IsTerminal(err) {
					markPaymentFailed(ctx, h.UoWFactory, p.ID, err.Error(), h.Outbox, h.encoder(), h.Notifier, h.Logger)
				}
				return nil, err
			}
		} else if h.Logger != nil {
			// The order gateway has no refund API. Record the refund on our
			// side and flag the payout for manual handling.
			h.Logger.Warn("async order refund requires manual gateway action",
				"payment_id", p.ID, "order_id", p.ExternalReference)
		}
		if err := p.Refund(now); err != nil {
			return nil, err
		}
		kind = "payment.refunded"
		syncBooking = func(b *domainbooking.Booking) { b.MarkRefunded(now) }

	default:
		return nil, domainpayment.ErrInvalidState
	}

	if err := unit.Payments().Save(execCtx, p); err != nil {
		return nil, err
	}
	if err := syncBookingPayment(execCtx, unit, p.BookingID, syncBooking); err != nil {
		return nil, err
	}
	if err := drainEvents(execCtx, h.Outbox, h.encoder(), p); err != nil {
		return nil, err
	}
	if commit != nil {
		if err := commit(execCtx); err != nil {
			return nil, err
		}
	}

	if h.Notifier != nil {
		data := map[string]any{"reason": cmd.Reason}
		if kind == "payment.refunded" && p.Rail == domainpayment.RailAsyncOrder {
			data["manual_gateway_refund"] = true
		}
		h.Notifier.Dispatch(ctx, policies.Notification{
			Kind:      kind,
			PaymentID: string(p.ID),
			BookingID: string(p.BookingID),
			Data:      data,
		})
	}
	snap := snapshotOf(p)
	return &snap, nil
}

func (h *CancelPaymentHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

var _ commands.Handler[CancelPaymentCommand, *Snapshot] = (*CancelPaymentHandler)(nil)
var _ middleware.IdempotentCommand = CancelPaymentCommand{}

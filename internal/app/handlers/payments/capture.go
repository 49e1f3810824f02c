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

const capturePaymentKey = "payment.capture"

type CapturePaymentCommand struct {
	PaymentID       string
	IdempotencyKeyV string
}

func (c CapturePaymentCommand) Key() string { return capturePaymentKey }

func (c CapturePaymentCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c CapturePaymentCommand) ResultPrototype() any { return &Snapshot{} }

type CapturePaymentHandler struct {
	UoWFactory uow.UoWFactory
	HoldRail   policies.HoldRail
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Notifier   policies.Dispatcher
	Logger     *slog.Logger
}

// Handle converts an authorized hold into captured funds. Async orders settle
// through their gateway callbacks, so capturing one by hand is rejected. The
// state is checked before the rail is called: a repeated capture conflicts
// without charging the rail twice.
func (h *CapturePaymentHandler) Handle(ctx context.Context, cmd CapturePaymentCommand) (*Snapshot, error) {
	unit, execCtx, commit, cleanup, err := handlersupport.BeginUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p, err := unit.Payments().ByID(execCtx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if p.Rail != domainpayment.RailHoldCapture {
		return nil, domainpayment.ErrInvalidState
	}
	if p.State != domainpayment.StateAuthorized {
		return nil, domainpayment.ErrInvalidState
	}

	// The key derives from the payment and target state, so a retry after a
	// lost version race reissues the same capture rather than a second one.
	if err := h.HoldRail.CaptureHold(ctx, p.ExternalReference, string(p.ID)+":captured"); err != nil {
		if policies.IsTerminal(err) {
			markPaymentFailed(ctx, h.UoWFactory, p.ID, err.Error(), h.Outbox, h.encoder(), h.Notifier, h.Logger)
		}
		return nil, err
	}

	now := time.Now()
	if err := p.Capture(now); err != nil {
		return nil, err
	}
	if err := unit.Payments().Save(execCtx, p); err != nil {
		return nil, err
	}
	if err := syncBookingPayment(execCtx, unit, p.BookingID, func(b *domainbooking.Booking) {
		b.MarkPaid(now)
	}); err != nil {
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
		h.Notifier.Dispatch(ctx, policies.Notification{
			Kind:      "payment.captured",
			PaymentID: string(p.ID),
			BookingID: string(p.BookingID),
			Data:      map[string]any{"amount": p.Amount.Amount, "currency": p.Amount.Currency},
		})
	}
	snap := snapshotOf(p)
	return &snap, nil
}

func (h *CapturePaymentHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

var _ commands.Handler[CapturePaymentCommand, *Snapshot] = (*CapturePaymentHandler)(nil)
var _ middleware.IdempotentCommand = CapturePaymentCommand{}

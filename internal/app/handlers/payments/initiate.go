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
	"charterpay/internal/domain/shared/money"
)

const initiatePaymentKey = "payment.initiate"

type InitiatePaymentCommand struct {
	CommandID       string
	BookingID       string
	Amount          int64
	Currency        string
	Rail            string
	ReceiveCurrency string
	IdempotencyKeyV string
}

func (c InitiatePaymentCommand) Key() string { return initiatePaymentKey }

func (c InitiatePaymentCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c InitiatePaymentCommand) ResultPrototype() any { return &Snapshot{} }

// CallbackURLs are handed to the async rail so it can route the customer and
// its status callbacks back to us.
type CallbackURLs struct {
	Callback string
	Success  string
	Cancel   string
}

type InitiatePaymentHandler struct {
	UoWFactory uow.UoWFactory
	HoldRail   policies.HoldRail
	AsyncRail  policies.AsyncOrderRail
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Notifier   policies.Dispatcher
	URLs       CallbackURLs
	Logger     *slog.Logger
}

func (h *InitiatePaymentHandler) Handle(ctx context.Context, cmd InitiatePaymentCommand) (*Snapshot, error) {
	amount, err := money.New(cmd.Amount, cmd.Currency)
	if err != nil {
		return nil, validationErr("amount: %v", err)
	}
	rail, ok := domainpayment.ParseRail(cmd.Rail)
	if !ok {
		return nil, validationErr("unknown rail %q", cmd.Rail)
	}
	if rail == domainpayment.RailAsyncOrder && cmd.ReceiveCurrency == "" {
		return nil, validationErr("receive currency required for async orders")
	}

	unit, execCtx, commit, cleanup, err := handlersupport.BeginUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	b, err := unit.Bookings().ByID(execCtx, domainbooking.BookingID(cmd.BookingID))
	if err != nil {
		return nil, err
	}
	if existing, err := unit.Payments().ActiveByBooking(execCtx, b.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, domainpayment.ErrActivePaymentExists
	}

	p, err := domainpayment.NewBookingPayment(domainpayment.CreateParams{
		ID:              domainpayment.PaymentID(cmd.CommandID),
		BookingID:       b.ID,
		Rail:            rail,
		Amount:          amount,
		ReceiveCurrency: cmd.ReceiveCurrency,
		CreatedAt:       time.Now(),
	})
	if err != nil {
		return nil, validationErr("%v", err)
	}

	handoff, err := h.openOnRail(ctx, p, b, cmd.ReceiveCurrency)
	if err != nil {
		if policies.IsTerminal(err) {
			h.persistRejected(ctx, p, err.Error())
		}
		return nil, err
	}

	// State advances only after the rail confirmed the hold/order exists.
	now := time.Now()
	if err := p.Authorize(handoff.externalRef, now); err != nil {
		return nil, err
	}
	if err := unit.Payments().Save(execCtx, p); err != nil {
		return nil, err
	}
	b.MarkPaymentAuthorized(now)
	if err := unit.Bookings().Save(execCtx, b); err != nil {
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

	snap := snapshotOf(p)
	snap.CustomerHandoff = handoff.customerHandoff
	return &snap, nil
}

type railHandoff struct {
	externalRef     string
	customerHandoff string
}

func (h *InitiatePaymentHandler) openOnRail(ctx context.Context, p *domainpayment.BookingPayment, b *domainbooking.Booking, receiveCurrency string) (railHandoff, error) {
	switch p.Rail {
	case domainpayment.RailHoldCapture:
		opened, err := h.HoldRail.CreateHold(ctx, p.Amount, map[string]string{
			"booking_id":  string(b.ID),
			"booking_ref": b.Reference,
			"payment_id":  string(p.ID),
		})
		if err != nil {
			return railHandoff{}, err
		}
		return railHandoff{externalRef: opened.ExternalID, customerHandoff: opened.CustomerHandoff}, nil
	default:
		opened, err := h.AsyncRail.CreateOrder(ctx, policies.CreateOrderRequest{
			Amount:          p.Amount,
			ReceiveCurrency: receiveCurrency,
			Reference:       b.Reference,
			CallbackURL:     h.URLs.Callback,
			SuccessURL:      h.URLs.Success,
			CancelURL:       h.URLs.Cancel,
		})
		if err != nil {
			return railHandoff{}, err
		}
		return railHandoff{externalRef: opened.OrderID, customerHandoff: opened.PaymentURL}, nil
	}
}

// persistRejected stores the terminally rejected attempt in a detached unit so
// the Failed record survives the rollback of the initiating transaction.
func (h *InitiatePaymentHandler) persistRejected(ctx context.Context, p *domainpayment.BookingPayment, reason string) {
	unit, execCtx, err := handlersupport.BeginDetachedUnit(ctx, h.UoWFactory)
	if err != nil {
		logFailure(h.Logger, p.ID, "begin detached unit", err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	now := time.Now()
	if err := p.Fail(reason, now); err != nil {
		logFailure(h.Logger, p.ID, "transition to failed", err)
		return
	}
	if err := unit.Payments().Save(execCtx, p); err != nil {
		logFailure(h.Logger, p.ID, "save payment", err)
		return
	}
	if err := syncBookingPayment(execCtx, unit, p.BookingID, func(b *domainbooking.Booking) {
		b.MarkPaymentFailed(now)
	}); err != nil {
		logFailure(h.Logger, p.ID, "save booking", err)
		return
	}
	if err := drainEvents(execCtx, h.Outbox, h.encoder(), p); err != nil {
		logFailure(h.Logger, p.ID, "record events", err)
		return
	}
	if err := unit.Commit(execCtx); err != nil {
		logFailure(h.Logger, p.ID, "commit", err)
		return
	}
	committed = true
	if h.Logger != nil {
		h.Logger.Warn("payment rejected by rail at initiation", "payment_id", p.ID, "reason", reason)
	}
	if h.Notifier != nil {
		h.Notifier.Dispatch(execCtx, policies.Notification{
			Kind:      "payment.failed",
			PaymentID: string(p.ID),
			BookingID: string(p.BookingID),
			Data:      map[string]any{"reason": reason},
		})
	}
}

func (h *InitiatePaymentHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

var _ commands.Handler[InitiatePaymentCommand, *Snapshot] = (*InitiatePaymentHandler)(nil)
var _ middleware.IdempotentCommand = InitiatePaymentCommand{}

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
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
)

const adjustPriceKey = "payment.adjust_price"

type AdjustPriceCommand struct {
	PaymentID       string
	NewAmount       int64
	Currency        string
	Note            string
	IdempotencyKeyV string
}

func (c AdjustPriceCommand) Key() string { return adjustPriceKey }

func (c AdjustPriceCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c AdjustPriceCommand) ResultPrototype() any { return &Snapshot{} }

type AdjustPriceHandler struct {
	UoWFactory uow.UoWFactory
	HoldRail   policies.HoldRail
	AsyncRail  policies.AsyncOrderRail
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Notifier   policies.Dispatcher
	URLs       CallbackURLs
	Logger     *slog.Logger
}

func (h *AdjustPriceHandler) Handle(ctx context.Context, cmd AdjustPriceCommand) (*Snapshot, error) {
	newAmount, err := money.New(cmd.NewAmount, cmd.Currency)
	if err != nil {
		return nil, validationErr("new amount: %v", err)
	}

	unit, execCtx, commit, cleanup, err := handlersupport.BeginUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p, err := unit.Payments().ByID(execCtx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if p.State != domainpayment.StateCreated && p.State != domainpayment.StateAuthorized {
		return nil, domainpayment.ErrInvalidState
	}
	if err := p.Amount.SameCurrency(newAmount); err != nil {
		return nil, validationErr("%v", err)
	}

	newRef, err := h.propagateToRail(ctx, execCtx, unit, p, newAmount)
	if err != nil {
		if policies.IsTerminal(err) {
			markPaymentFailed(ctx, h.UoWFactory, p.ID, err.Error(), h.Outbox, h.encoder(), h.Notifier, h.Logger)
		}
		return nil, err
	}

	if err := p.AdjustPrice(newAmount, cmd.Note, newRef, time.Now()); err != nil {
		return nil, err
	}
	if err := unit.Payments().Save(execCtx, p); err != nil {
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
			Kind:      "payment.price_adjusted",
			PaymentID: string(p.ID),
			BookingID: string(p.BookingID),
			Data:      map[string]any{"new_amount": newAmount.Amount, "currency": newAmount.Currency, "note": cmd.Note},
		})
	}
	snap := snapshotOf(p)
	return &snap, nil
}

// propagateToRail pushes the new amount to the rail. The hold rail updates the
// hold in place; the async rail cannot change an open order, so a fresh order
// is issued and the payment tracks it from now on. The abandoned order simply
// expires at the gateway.
func (h *AdjustPriceHandler) propagateToRail(ctx, execCtx context.Context, unit uow.UnitOfWork, p *domainpayment.BookingPayment, newAmount money.Money) (string, error) {
	if p.ExternalReference == "" {
		return "", nil
	}
	switch p.Rail {
	case domainpayment.RailHoldCapture:
		return "", h.HoldRail.UpdateHoldAmount(ctx, p.ExternalReference, newAmount)
	default:
		b, err := unit.Bookings().ByID(execCtx, p.BookingID)
		if err != nil {
			return "", err
		}
		opened, err := h.AsyncRail.CreateOrder(ctx, policies.CreateOrderRequest{
			Amount:          newAmount,
			ReceiveCurrency: p.ReceiveCurrency,
			Reference:       b.Reference,
			CallbackURL:     h.URLs.Callback,
			SuccessURL:      h.URLs.Success,
			CancelURL:       h.URLs.Cancel,
		})
		if err != nil {
			return "", err
		}
		if h.Logger != nil {
			h.Logger.Info("async order reissued for price change",
				"payment_id", p.ID, "old_order", p.ExternalReference, "new_order", opened.OrderID)
		}
		return opened.OrderID, nil
	}
}

func (h *AdjustPriceHandler) encoder() outbox.EventEncoder {
	if h.Encoder != nil {
		return h.Encoder
	}
	return outbox.JSONEventEncoder{}
}

var _ commands.Handler[AdjustPriceCommand, *Snapshot] = (*AdjustPriceHandler)(nil)
var _ middleware.IdempotentCommand = AdjustPriceCommand{}

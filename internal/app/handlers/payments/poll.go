package payments

import (
	"context"
	"log/slog"

	"charterpay/internal/app/commands"
	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/reconcile"
	"charterpay/internal/app/uow"
	domainpayment "charterpay/internal/domain/payment"
)

const pollOrderKey = "payment.poll"

// PollOrderCommand fetches the current gateway status of an async order and
// folds it in through the same path a callback would take. Operators use it
// when a callback seems to have gone missing.
type PollOrderCommand struct {
	PaymentID string
}

func (c PollOrderCommand) Key() string { return pollOrderKey }

type PollOrderHandler struct {
	UoWFactory uow.UoWFactory
	AsyncRail  policies.AsyncOrderRail
	Reconciler *reconcile.Reconciler
	Logger     *slog.Logger
}

func (h *PollOrderHandler) Handle(ctx context.Context, cmd PollOrderCommand) (*Snapshot, error) {
	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	p, err := unit.Payments().ByID(execCtx, domainpayment.PaymentID(cmd.PaymentID))
	if err != nil {
		return nil, err
	}
	if p.Rail != domainpayment.RailAsyncOrder || p.ExternalReference == "" {
		return nil, domainpayment.ErrInvalidState
	}
	orderID := p.ExternalReference

	snap, err := h.AsyncRail.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	applied, err := h.Reconciler.Apply(ctx, reconcile.Event{
		OrderID:         snap.OrderID,
		Status:          snap.Status,
		SettledAmount:   snap.SettledAmount,
		SettledCurrency: snap.SettledCurrency,
	})
	if err != nil {
		return nil, err
	}
	if h.Logger != nil {
		h.Logger.Info("order polled", "payment_id", p.ID, "order_id", orderID, "gateway_status", snap.Status, "applied", applied)
	}

	// Reload so the response reflects whatever the poll just applied.
	fresh, freshCtx, err := handlersupport.BeginDetachedUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fresh.Rollback(freshCtx) }()
	p, err = fresh.Payments().ByID(freshCtx, p.ID)
	if err != nil {
		return nil, err
	}
	out := snapshotOf(p)
	return &out, nil
}

var _ commands.Handler[PollOrderCommand, *Snapshot] = (*PollOrderHandler)(nil)

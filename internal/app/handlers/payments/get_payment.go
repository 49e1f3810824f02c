package payments

import (
	"context"

	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/queries"
	"charterpay/internal/app/uow"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

const (
	getPaymentKey        = "payment.get"
	getBookingPaymentKey = "payment.get_by_booking"
)

type GetPaymentQuery struct {
	PaymentID string
}

func (q GetPaymentQuery) Key() string { return getPaymentKey }

type GetBookingPaymentQuery struct {
	BookingID string
}

func (q GetBookingPaymentQuery) Key() string { return getBookingPaymentKey }

type GetPaymentHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetPaymentHandler) Handle(ctx context.Context, q GetPaymentQuery) (*Snapshot, error) {
	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	p, err := unit.Payments().ByID(execCtx, domainpayment.PaymentID(q.PaymentID))
	if err != nil {
		return nil, err
	}
	snap := snapshotOf(p)
	return &snap, nil
}

// GetBookingPaymentHandler resolves the active payment of a booking.
type GetBookingPaymentHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetBookingPaymentHandler) Handle(ctx context.Context, q GetBookingPaymentQuery) (*Snapshot, error) {
	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, h.UoWFactory)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	p, err := unit.Payments().ActiveByBooking(execCtx, domainbooking.BookingID(q.BookingID))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domainpayment.ErrPaymentNotFound
	}
	snap := snapshotOf(p)
	return &snap, nil
}

var _ queries.Handler[GetPaymentQuery, *Snapshot] = (*GetPaymentHandler)(nil)
var _ queries.Handler[GetBookingPaymentQuery, *Snapshot] = (*GetBookingPaymentHandler)(nil)

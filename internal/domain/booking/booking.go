package booking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBookingNotFound  = errors.New("booking: not found")
	ErrInvalidState     = errors.New("booking: invalid state transition")
	ErrConcurrentUpdate = errors.New("booking: concurrent update detected")
)

type BookingID string

type BookingStatus string

const (
	StatusRequested BookingStatus = "REQUESTED"
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "UNPAID"
	PaymentAuthorized PaymentStatus = "AUTHORIZED"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
	PaymentRefunded   PaymentStatus = "REFUNDED"
)

// Booking is the slice of the booking record the payment orchestrator owns:
// the payment status and the confirmation it drives. Everything else about a
// booking lives with its own service.
type Booking struct {
	ID               BookingID
	Reference        string
	CustomerID       string
	Status           BookingStatus
	PaymentStatus    PaymentStatus
	AutoConfirmOnPay bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Version          int64
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	Save(ctx context.Context, b *Booking) error
}

func (b *Booking) MarkPaymentAuthorized(now time.Time) {
	b.PaymentStatus = PaymentAuthorized
	b.UpdatedAt = now.UTC()
}

// MarkPaid records settled funds and confirms the booking when it is set to
// auto-confirm on payment.
func (b *Booking) MarkPaid(now time.Time) {
	b.PaymentStatus = PaymentPaid
	if b.AutoConfirmOnPay && b.Status == StatusRequested {
		b.Status = StatusConfirmed
	}
	b.UpdatedAt = now.UTC()
}

func (b *Booking) MarkPaymentFailed(now time.Time) {
	b.PaymentStatus = PaymentFailed
	b.UpdatedAt = now.UTC()
}

func (b *Booking) MarkPaymentCancelled(now time.Time) {
	b.PaymentStatus = PaymentCancelled
	b.UpdatedAt = now.UTC()
}

func (b *Booking) MarkRefunded(now time.Time) {
	b.PaymentStatus = PaymentRefunded
	b.UpdatedAt = now.UTC()
}

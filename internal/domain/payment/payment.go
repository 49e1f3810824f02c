package payment

import (
	"context"
	"time"

	"charterpay/internal/domain/booking"
	"charterpay/internal/domain/shared/events"
	"charterpay/internal/domain/shared/money"
)

type PaymentID string

type Rail string

const (
	RailHoldCapture Rail = "HOLD_CAPTURE"
	RailAsyncOrder  Rail = "ASYNC_ORDER"
)

// ParseRail maps the wire value onto a known rail.
func ParseRail(raw string) (Rail, bool) {
	switch Rail(raw) {
	case RailHoldCapture, RailAsyncOrder:
		return Rail(raw), true
	}
	return "", false
}

type State string

const (
	StateCreated    State = "CREATED"
	StateAuthorized State = "AUTHORIZED"
	StateCaptured   State = "CAPTURED"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
	StateRefunded   State = "REFUNDED"
	StateFailed     State = "FAILED"
)

// Terminal states admit no further transition.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateRefunded, StateFailed:
		return true
	}
	return false
}

// AdminAdjustment is one entry of the append-only price change trail.
type AdminAdjustment struct {
	PreviousAmount money.Money
	Note           string
	AdjustedAt     time.Time
}

// SettledFunds records the amount a payment rail reported as actually
// received. It is kept as the reported decimal string: crypto settlements do
// not fit minor-unit integers and this service only records, never converts.
type SettledFunds struct {
	Amount   string
	Currency string
}

// BookingPayment is the monetary commitment against a booking. It is the only
// aggregate of this service; every transition goes through one of the methods
// below so state can never skip or reverse an edge.
type BookingPayment struct {
	ID                PaymentID
	BookingID         booking.BookingID
	Rail              Rail
	ExternalReference string
	// ReceiveCurrency is the settlement currency requested from the async
	// rail at initiation. Empty on the hold rail.
	ReceiveCurrency string
	Amount          money.Money
	State             State
	Settled           *SettledFunds
	CreatedAt         time.Time
	AuthorizedAt      time.Time
	CapturedAt        time.Time
	CompletedAt       time.Time
	CancelledAt       time.Time
	RefundedAt        time.Time
	FailedAt          time.Time
	FailureReason     string
	CancelReason      string
	Adjustments       []AdminAdjustment
	LastExternalStatus string
	Version           int64
	events.EventRecorder
}

type Repository interface {
	ByID(ctx context.Context, id PaymentID) (*BookingPayment, error)
	ByExternalReference(ctx context.Context, ref string) (*BookingPayment, error)
	ActiveByBooking(ctx context.Context, id booking.BookingID) (*BookingPayment, error)
	// AuthorizedBefore lists payments on the given rail that entered the
	// escrow window before the cutoff and are still waiting there.
	AuthorizedBefore(ctx context.Context, rail Rail, cutoff time.Time, limit int) ([]*BookingPayment, error)
	Save(ctx context.Context, p *BookingPayment) error
}

type CreateParams struct {
	ID              PaymentID
	BookingID       booking.BookingID
	Rail            Rail
	Amount          money.Money
	ReceiveCurrency string
	CreatedAt       time.Time
}

// NewBookingPayment validates inputs and starts the lifecycle in Created.
func NewBookingPayment(params CreateParams) (*BookingPayment, error) {
	if params.ID == "" {
		return nil, ErrIDRequired
	}
	if params.BookingID == "" {
		return nil, ErrBookingRequired
	}
	if params.Rail != RailHoldCapture && params.Rail != RailAsyncOrder {
		return nil, ErrUnknownRail
	}
	if params.Amount.Amount <= 0 || len(params.Amount.Currency) != 3 {
		return nil, money.ErrInvalidAmount
	}
	now := params.CreatedAt.UTC()
	p := &BookingPayment{
		ID:              params.ID,
		BookingID:       params.BookingID,
		Rail:            params.Rail,
		Amount:          params.Amount,
		ReceiveCurrency: params.ReceiveCurrency,
		State:           StateCreated,
		CreatedAt:       now,
	}
	p.Record(PaymentInitiated{PaymentID: p.ID, BookingID: p.BookingID, Rail: p.Rail, Amount: p.Amount, At: now})
	return p, nil
}

// Authorize records the external reference handed out by the rail and moves
// the payment into the escrow window.
func (p *BookingPayment) Authorize(externalRef string, now time.Time) error {
	if p.State != StateCreated {
		return ErrInvalidState
	}
	if externalRef == "" {
		return ErrExternalRefRequired
	}
	if p.ExternalReference != "" && p.ExternalReference != externalRef {
		return ErrExternalRefSet
	}
	p.ExternalReference = externalRef
	p.State = StateAuthorized
	p.AuthorizedAt = now.UTC()
	p.Record(PaymentAuthorized{PaymentID: p.ID, BookingID: p.BookingID, ExternalReference: externalRef, At: p.AuthorizedAt})
	return nil
}

// AdjustPrice changes the committed amount while the escrow window is open.
// newExternalRef is set when the rail required a cancel-and-reissue, in which
// case the payment tracks the reissued order from now on.
func (p *BookingPayment) AdjustPrice(newAmount money.Money, note string, newExternalRef string, now time.Time) error {
	if p.State != StateCreated && p.State != StateAuthorized {
		return ErrInvalidState
	}
	if err := p.Amount.SameCurrency(newAmount); err != nil {
		return err
	}
	previous := p.Amount
	at := now.UTC()
	p.Adjustments = append(p.Adjustments, AdminAdjustment{PreviousAmount: previous, Note: note, AdjustedAt: at})
	p.Amount = newAmount
	if newExternalRef != "" {
		p.ExternalReference = newExternalRef
	}
	p.Record(PriceAdjusted{PaymentID: p.ID, BookingID: p.BookingID, PreviousAmount: previous, NewAmount: newAmount, Note: note, At: at})
	return nil
}

// Capture converts the hold into settled funds.
func (p *BookingPayment) Capture(now time.Time) error {
	if p.State != StateAuthorized {
		return ErrInvalidState
	}
	p.State = StateCaptured
	p.CapturedAt = now.UTC()
	p.Record(PaymentCaptured{PaymentID: p.ID, BookingID: p.BookingID, Amount: p.Amount, At: p.CapturedAt})
	return nil
}

// Complete closes a captured payment.
func (p *BookingPayment) Complete(now time.Time) error {
	if p.State != StateCaptured {
		return ErrInvalidState
	}
	p.State = StateCompleted
	p.CompletedAt = now.UTC()
	p.Record(PaymentCompleted{PaymentID: p.ID, BookingID: p.BookingID, At: p.CompletedAt})
	return nil
}

// Cancel releases a hold that was never captured.
func (p *BookingPayment) Cancel(reason string, now time.Time) error {
	if p.State != StateCreated && p.State != StateAuthorized {
		return ErrInvalidState
	}
	p.State = StateCancelled
	p.CancelReason = reason
	p.CancelledAt = now.UTC()
	p.Record(PaymentCancelled{PaymentID: p.ID, BookingID: p.BookingID, Reason: reason, At: p.CancelledAt})
	return nil
}

// Refund returns captured funds.
func (p *BookingPayment) Refund(now time.Time) error {
	if p.State != StateCaptured && p.State != StateCompleted {
		return ErrInvalidState
	}
	p.State = StateRefunded
	p.RefundedAt = now.UTC()
	p.Record(PaymentRefunded{PaymentID: p.ID, BookingID: p.BookingID, Amount: p.Amount, At: p.RefundedAt})
	return nil
}

// Fail records a terminal upstream rejection.
func (p *BookingPayment) Fail(reason string, now time.Time) error {
	if p.State.Terminal() {
		return ErrInvalidState
	}
	p.State = StateFailed
	p.FailureReason = reason
	p.FailedAt = now.UTC()
	p.Record(PaymentFailed{PaymentID: p.ID, BookingID: p.BookingID, Reason: reason, At: p.FailedAt})
	return nil
}

// RecordSettlement stores the rail-reported funds on a positive-terminal status.
func (p *BookingPayment) RecordSettlement(amount, currency string) {
	if amount == "" && currency == "" {
		return
	}
	p.Settled = &SettledFunds{Amount: amount, Currency: currency}
}

// RecordExternalStatus remembers the last callback status that was applied,
// used by the reconciler to reject regressions and duplicates.
func (p *BookingPayment) RecordExternalStatus(status string) {
	p.LastExternalStatus = status
}

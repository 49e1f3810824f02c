package payment

import (
	"time"

	"charterpay/internal/domain/booking"
	"charterpay/internal/domain/shared/money"
)

type PaymentInitiated struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	Rail      Rail              `json:"rail"`
	Amount    money.Money       `json:"amount"`
	At        time.Time         `json:"at"`
}

func (e PaymentInitiated) EventName() string     { return "payment.initiated" }
func (e PaymentInitiated) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentInitiated) OccurredAt() time.Time { return e.At }

type PaymentAuthorized struct {
	PaymentID         PaymentID         `json:"payment_id"`
	BookingID         booking.BookingID `json:"booking_id"`
	ExternalReference string            `json:"external_reference"`
	At                time.Time         `json:"at"`
}

func (e PaymentAuthorized) EventName() string     { return "payment.authorized" }
func (e PaymentAuthorized) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentAuthorized) OccurredAt() time.Time { return e.At }

type PriceAdjusted struct {
	PaymentID      PaymentID         `json:"payment_id"`
	BookingID      booking.BookingID `json:"booking_id"`
	PreviousAmount money.Money       `json:"previous_amount"`
	NewAmount      money.Money       `json:"new_amount"`
	Note           string            `json:"note"`
	At             time.Time         `json:"at"`
}

func (e PriceAdjusted) EventName() string     { return "payment.price_adjusted" }
func (e PriceAdjusted) AggregateID() string   { return string(e.PaymentID) }
func (e PriceAdjusted) OccurredAt() time.Time { return e.At }

type PaymentCaptured struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	Amount    money.Money       `json:"amount"`
	At        time.Time         `json:"at"`
}

func (e PaymentCaptured) EventName() string     { return "payment.captured" }
func (e PaymentCaptured) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentCaptured) OccurredAt() time.Time { return e.At }

type PaymentCompleted struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	At        time.Time         `json:"at"`
}

func (e PaymentCompleted) EventName() string     { return "payment.completed" }
func (e PaymentCompleted) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentCompleted) OccurredAt() time.Time { return e.At }

type PaymentCancelled struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	Reason    string            `json:"reason"`
	At        time.Time         `json:"at"`
}

func (e PaymentCancelled) EventName() string     { return "payment.cancelled" }
func (e PaymentCancelled) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentCancelled) OccurredAt() time.Time { return e.At }

type PaymentRefunded struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	Amount    money.Money       `json:"amount"`
	At        time.Time         `json:"at"`
}

func (e PaymentRefunded) EventName() string     { return "payment.refunded" }
func (e PaymentRefunded) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentRefunded) OccurredAt() time.Time { return e.At }

type PaymentFailed struct {
	PaymentID PaymentID         `json:"payment_id"`
	BookingID booking.BookingID `json:"booking_id"`
	Reason    string            `json:"reason"`
	At        time.Time         `json:"at"`
}

func (e PaymentFailed) EventName() string     { return "payment.failed" }
func (e PaymentFailed) AggregateID() string   { return string(e.PaymentID) }
func (e PaymentFailed) OccurredAt() time.Time { return e.At }

package payment

import "errors"

var (
	ErrIDRequired          = errors.New("payment: id required")
	ErrBookingRequired     = errors.New("payment: booking id required")
	ErrUnknownRail         = errors.New("payment: unknown rail")
	ErrExternalRefRequired = errors.New("payment: external reference required")
	ErrExternalRefSet      = errors.New("payment: external reference already set")

	// ErrInvalidState is the conflict error of the taxonomy: the requested
	// operation is not legal from the payment's current state.
	ErrInvalidState = errors.New("payment: invalid state transition")

	ErrPaymentNotFound = errors.New("payment: not found")

	// ErrActivePaymentExists guards the one-active-payment-per-booking invariant.
	ErrActivePaymentExists = errors.New("payment: booking already has an active payment")

	// ErrConcurrentUpdate is returned by repositories when a save loses the
	// optimistic version check. Callers retry against the fresh record.
	ErrConcurrentUpdate = errors.New("payment: concurrent update detected")
)

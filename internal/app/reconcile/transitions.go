package reconcile

import (
	domainpayment "charterpay/internal/domain/payment"
)

// ExternalStatus is a lifecycle status reported by the async order gateway.
type ExternalStatus string

const (
	StatusPending    ExternalStatus = "pending"
	StatusConfirming ExternalStatus = "confirming"
	StatusPaid       ExternalStatus = "paid"
	StatusInvalid    ExternalStatus = "invalid"
	StatusExpired    ExternalStatus = "expired"
	StatusCanceled   ExternalStatus = "canceled"
	StatusRefunded   ExternalStatus = "refunded"
)

type transition struct {
	target domainpayment.State
	from   []domainpayment.State
}

func (t transition) allowedFrom(s domainpayment.State) bool {
	for _, f := range t.from {
		if f == s {
			return true
		}
	}
	return false
}

// transitions maps each gateway status onto the internal state it drives and
// the states it may legally arrive in. A status whose precondition does not
// hold is stale or duplicated and gets discarded, which keeps the lifecycle
// monotonic under out-of-order delivery.
var transitions = map[ExternalStatus]transition{
	StatusPending: {
		target: domainpayment.StateAuthorized,
		from:   []domainpayment.State{domainpayment.StateCreated},
	},
	StatusConfirming: {
		target: domainpayment.StateAuthorized,
		from:   []domainpayment.State{domainpayment.StateCreated},
	},
	StatusPaid: {
		target: domainpayment.StateCaptured,
		from:   []domainpayment.State{domainpayment.StateCreated, domainpayment.StateAuthorized},
	},
	StatusInvalid: {
		target: domainpayment.StateFailed,
		from:   []domainpayment.State{domainpayment.StateCreated, domainpayment.StateAuthorized},
	},
	StatusExpired: {
		target: domainpayment.StateCancelled,
		from:   []domainpayment.State{domainpayment.StateCreated, domainpayment.StateAuthorized},
	},
	StatusCanceled: {
		target: domainpayment.StateCancelled,
		from:   []domainpayment.State{domainpayment.StateCreated, domainpayment.StateAuthorized},
	},
	StatusRefunded: {
		target: domainpayment.StateRefunded,
		from:   []domainpayment.State{domainpayment.StateCaptured, domainpayment.StateCompleted},
	},
}

// notificationKinds names the outbound notification emitted for each applied
// status, exactly one per applied transition.
var notificationKinds = map[ExternalStatus]string{
	StatusPending:    "payment.authorized",
	StatusConfirming: "payment.authorized",
	StatusPaid:       "payment.captured",
	StatusInvalid:    "payment.failed",
	StatusExpired:    "payment.cancelled",
	StatusCanceled:   "payment.cancelled",
	StatusRefunded:   "payment.refunded",
}

package policies

import "context"

// Notification is a best-effort outbound message about a payment transition.
type Notification struct {
	Kind      string
	PaymentID string
	BookingID string
	Data      map[string]any
}

// Dispatcher delivers notifications fire-and-forget. Implementations must never
// block the caller and must swallow delivery failures (logging them instead).
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

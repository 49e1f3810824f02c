package notify

import (
	"context"
	"log/slog"

	"charterpay/internal/app/policies"
)

// LogDispatcher writes notifications to the log, for local runs without Kafka.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) Dispatch(ctx context.Context, n policies.Notification) {
	if d.Logger == nil {
		return
	}
	d.Logger.Info("notification", "kind", n.Kind, "payment_id", n.PaymentID, "booking_id", n.BookingID, "data", n.Data)
}

var _ policies.Dispatcher = LogDispatcher{}

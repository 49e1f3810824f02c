package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"charterpay/internal/app/policies"
	"charterpay/internal/infra/broker/kafka"
)

// KafkaDispatcher publishes customer and operator notifications to a Kafka
// topic. Dispatch never blocks the caller on broker trouble: failures are
// logged and dropped, notifications are best-effort by contract.
type KafkaDispatcher struct {
	Producer *kafka.Producer
	Topic    string
	Timeout  time.Duration
	Logger   *slog.Logger
}

type notificationMessage struct {
	Kind      string         `json:"kind"`
	PaymentID string         `json:"payment_id"`
	BookingID string         `json:"booking_id"`
	Data      map[string]any `json:"data,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, n policies.Notification) {
	if d == nil || d.Producer == nil {
		return
	}
	payload, err := json.Marshal(notificationMessage{
		Kind:      n.Kind,
		PaymentID: n.PaymentID,
		BookingID: n.BookingID,
		Data:      n.Data,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		if d.Logger != nil {
			d.Logger.Error("notification encode failed", "kind", n.Kind, "payment_id", n.PaymentID, "error", err)
		}
		return
	}
	go func() {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := d.Producer.Publish(sendCtx, d.Topic, n.PaymentID, payload, map[string]string{
			"content-type": "application/json",
		}); err != nil && d.Logger != nil {
			d.Logger.Error("notification publish failed", "kind", n.Kind, "payment_id", n.PaymentID, "error", err)
		}
	}()
}

var _ policies.Dispatcher = (*KafkaDispatcher)(nil)

package reconcile

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/outbox"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/uow"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

var (
	ErrBadSignature     = errors.New("reconcile: signature mismatch")
	ErrMalformedPayload = errors.New("reconcile: malformed payload")
)

// Inbox deduplicates processed callbacks. Seen atomically records the key and
// reports whether it was already there.
type Inbox interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// Event is one settlement status update for an async order, either delivered
// by the gateway callback or fetched by an operator poll. BookingReference is
// optional in the wire format; when present it must match the booking the
// order resolves to.
type Event struct {
	OrderID          string `json:"order_id"`
	BookingReference string `json:"booking_reference,omitempty"`
	Status           string `json:"status"`
	SettledAmount    string `json:"receive_amount,omitempty"`
	SettledCurrency  string `json:"receive_currency,omitempty"`
}

// Reconciler folds gateway-reported order statuses into the payment
// lifecycle. It is the only writer that advances async payments past
// Authorized.
type Reconciler struct {
	UoWFactory uow.UoWFactory
	Inbox      Inbox
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Notifier   policies.Dispatcher
	Archiver   policies.Archiver
	Secret     []byte
	Logger     *slog.Logger
}

// Ingest verifies, decodes and applies a raw callback body. The raw payload
// is archived regardless of whether the event applies, so disputed
// settlements can be replayed later.
func (r *Reconciler) Ingest(ctx context.Context, body []byte, signature string) (bool, error) {
	if err := r.verify(body, signature); err != nil {
		return false, err
	}
	var ev Event
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.OrderID == "" || ev.Status == "" {
		return false, fmt.Errorf("%w: order_id and status are required", ErrMalformedPayload)
	}
	r.archive(ctx, ev, body)
	return r.Apply(ctx, ev)
}

func (r *Reconciler) verify(body []byte, signature string) error {
	mac := hmac.New(sha256.New, r.Secret)
	mac.Write(body)
	want := mac.Sum(nil)
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

func (r *Reconciler) archive(ctx context.Context, ev Event, body []byte) {
	if r.Archiver == nil {
		return
	}
	key := fmt.Sprintf("webhooks/asyncorder/%s/%s-%s-%d.json",
		time.Now().UTC().Format("2006-01-02"), ev.OrderID, ev.Status, time.Now().UnixNano())
	if err := r.Archiver.Archive(context.WithoutCancel(ctx), key, body); err != nil && r.Logger != nil {
		r.Logger.Error("webhook archive failed", "key", key, "error", err)
	}
}

// Apply folds one status update into the payment it references. It reports
// whether a transition was applied; stale, duplicate and unmatched events are
// discarded without error so the gateway can be acknowledged.
func (r *Reconciler) Apply(ctx context.Context, ev Event) (bool, error) {
	status := ExternalStatus(ev.Status)
	tr, known := transitions[status]
	if !known {
		r.discard(ev, "unknown status")
		return false, nil
	}

	unit, execCtx, err := handlersupport.BeginDetachedUnit(ctx, r.UoWFactory)
	if err != nil {
		return false, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = unit.Rollback(execCtx)
		}
	}()

	p, err := unit.Payments().ByExternalReference(execCtx, ev.OrderID)
	if err != nil {
		if errors.Is(err, domainpayment.ErrPaymentNotFound) {
			r.discard(ev, "no payment for order")
			return false, nil
		}
		return false, err
	}
	if !tr.allowedFrom(p.State) {
		r.discard(ev, fmt.Sprintf("not applicable from %s", p.State))
		return false, nil
	}

	b, err := unit.Bookings().ByID(execCtx, p.BookingID)
	if err != nil {
		return false, err
	}
	if ev.BookingReference != "" && ev.BookingReference != b.Reference {
		r.discard(ev, "booking reference mismatch")
		return false, nil
	}

	if seen, err := r.Inbox.Seen(execCtx, ev.OrderID+"|"+ev.Status); err != nil {
		return false, err
	} else if seen {
		r.discard(ev, "already processed")
		return false, nil
	}

	now := time.Now()
	bookingSync, err := r.transition(p, tr.target, ev, b.AutoConfirmOnPay, now)
	if err != nil {
		return false, err
	}
	p.RecordExternalStatus(ev.Status)

	if err := unit.Payments().Save(execCtx, p); err != nil {
		return false, err
	}
	if bookingSync != nil {
		bookingSync(b)
		if err := unit.Bookings().Save(execCtx, b); err != nil {
			return false, err
		}
	}
	pending := p.PendingEvents()
	p.ClearEvents()
	if err := outbox.RecordDomainEvents(execCtx, r.Outbox, r.encoder(), pending); err != nil {
		return false, err
	}
	if err := unit.Commit(execCtx); err != nil {
		return false, err
	}
	committed = true

	if r.Logger != nil {
		r.Logger.Info("settlement status applied",
			"payment_id", p.ID, "order_id", ev.OrderID, "status", ev.Status, "state", p.State)
	}
	if r.Notifier != nil {
		r.Notifier.Dispatch(ctx, policies.Notification{
			Kind:      notificationKinds[status],
			PaymentID: string(p.ID),
			BookingID: string(p.BookingID),
			Data: map[string]any{
				"order_id": ev.OrderID,
				"status":   ev.Status,
			},
		})
	}
	return true, nil
}

// transition applies the target state through the aggregate's own methods and
// returns the matching booking-side update.
func (r *Reconciler) transition(p *domainpayment.BookingPayment, target domainpayment.State, ev Event, autoConfirm bool, now time.Time) (func(*domainbooking.Booking), error) {
	switch target {
	case domainpayment.StateAuthorized:
		if err := p.Authorize(ev.OrderID, now); err != nil {
			return nil, err
		}
		return func(b *domainbooking.Booking) { b.MarkPaymentAuthorized(now) }, nil

	case domainpayment.StateCaptured:
		if p.State == domainpayment.StateCreated {
			if err := p.Authorize(ev.OrderID, now); err != nil {
				return nil, err
			}
		}
		if err := p.Capture(now); err != nil {
			return nil, err
		}
		p.RecordSettlement(ev.SettledAmount, ev.SettledCurrency)
		// Escrow releases straight away only when the booking confirms
		// itself on payment; otherwise the payment waits in Captured.
		if autoConfirm {
			if err := p.Complete(now); err != nil {
				return nil, err
			}
		}
		return func(b *domainbooking.Booking) { b.MarkPaid(now) }, nil

	case domainpayment.StateFailed:
		if err := p.Fail("gateway reported "+ev.Status, now); err != nil {
			return nil, err
		}
		return func(b *domainbooking.Booking) { b.MarkPaymentFailed(now) }, nil

	case domainpayment.StateCancelled:
		if err := p.Cancel("gateway reported "+ev.Status, now); err != nil {
			return nil, err
		}
		return func(b *domainbooking.Booking) { b.MarkPaymentCancelled(now) }, nil

	case domainpayment.StateRefunded:
		if err := p.Refund(now); err != nil {
			return nil, err
		}
		return func(b *domainbooking.Booking) { b.MarkRefunded(now) }, nil
	}
	return nil, domainpayment.ErrInvalidState
}

func (r *Reconciler) discard(ev Event, why string) {
	if r.Logger != nil {
		r.Logger.Debug("settlement status discarded", "order_id", ev.OrderID, "status", ev.Status, "why", why)
	}
}

func (r *Reconciler) encoder() outbox.EventEncoder {
	if r.Encoder != nil {
		return r.Encoder
	}
	return outbox.JSONEventEncoder{}
}

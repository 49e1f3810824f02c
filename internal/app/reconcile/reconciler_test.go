package reconcile_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"charterpay/internal/app/policies"
	"charterpay/internal/app/reconcile"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
	"charterpay/internal/infra/storage/memory"
)

var secret = []byte("callback-secret")

type recordingNotifier struct {
	mu    sync.Mutex
	notes []policies.Notification
}

func (n *recordingNotifier) Dispatch(ctx context.Context, note policies.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type recordingArchiver struct {
	keys []string
}

func (a *recordingArchiver) Archive(ctx context.Context, key string, payload []byte) error {
	a.keys = append(a.keys, key)
	return nil
}

type world struct {
	payments   *memory.PaymentRepository
	bookings   *memory.BookingRepository
	notifier   *recordingNotifier
	archiver   *recordingArchiver
	reconciler *reconcile.Reconciler
}

func newWorld() *world {
	payments := memory.NewPaymentRepository()
	bookings := memory.NewBookingRepository()
	notifier := &recordingNotifier{}
	archiver := &recordingArchiver{}
	return &world{
		payments: payments,
		bookings: bookings,
		notifier: notifier,
		archiver: archiver,
		reconciler: &reconcile.Reconciler{
			UoWFactory: memory.Factory{PaymentRepo: payments, BookingRepo: bookings},
			Inbox:      memory.NewInbox(),
			Outbox:     memory.NewOutbox(),
			Notifier:   notifier,
			Archiver:   archiver,
			Secret:     secret,
		},
	}
}

// seedOrder stores a booking plus an async payment already holding its order
// reference, in the given lifecycle state.
func (w *world) seedOrder(t *testing.T, orderID string, state domainpayment.State) {
	t.Helper()
	b := &domainbooking.Booking{
		ID:               "bk-1",
		Reference:        "CHT-2026-0001",
		Status:           domainbooking.StatusRequested,
		PaymentStatus:    domainbooking.PaymentUnpaid,
		AutoConfirmOnPay: true,
	}
	if err := w.bookings.Save(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	p, err := domainpayment.NewBookingPayment(domainpayment.CreateParams{
		ID:              "pay-1",
		BookingID:       "bk-1",
		Rail:            domainpayment.RailAsyncOrder,
		Amount:          money.Must(250000, "EUR"),
		ReceiveCurrency: "BTC",
		CreatedAt:       time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("build payment: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	switch state {
	case domainpayment.StateCreated:
		p.ExternalReference = orderID
	case domainpayment.StateAuthorized:
		mustTransition(t, p.Authorize(orderID, past))
	case domainpayment.StateCompleted:
		mustTransition(t, p.Authorize(orderID, past))
		mustTransition(t, p.Capture(past))
		mustTransition(t, p.Complete(past))
	default:
		t.Fatalf("unsupported seed state %s", state)
	}
	p.ClearEvents()
	if err := w.payments.Save(context.Background(), p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func mustTransition(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func (w *world) state(t *testing.T) domainpayment.State {
	t.Helper()
	p, err := w.payments.ByID(context.Background(), "pay-1")
	if err != nil {
		t.Fatal(err)
	}
	return p.State
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestReconciler_Ingest(t *testing.T) {
	t.Run("paid callback settles the payment end to end", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		body := []byte(`{"order_id":"order-1","booking_reference":"CHT-2026-0001","status":"paid","receive_amount":"0.0831","receive_currency":"BTC"}`)
		applied, err := w.reconciler.Ingest(context.Background(), body, sign(body))
		if err != nil {
			t.Fatalf("Ingest: %v", err)
		}
		if !applied {
			t.Fatal("callback was not applied")
		}

		p, err := w.payments.ByID(context.Background(), "pay-1")
		if err != nil {
			t.Fatal(err)
		}
		if p.State != domainpayment.StateCompleted {
			t.Errorf("state = %s, want COMPLETED", p.State)
		}
		if p.Settled == nil || p.Settled.Amount != "0.0831" || p.Settled.Currency != "BTC" {
			t.Errorf("settled = %+v", p.Settled)
		}
		if p.LastExternalStatus != "paid" {
			t.Errorf("last external status = %s", p.LastExternalStatus)
		}

		b, err := w.bookings.ByID(context.Background(), "bk-1")
		if err != nil {
			t.Fatal(err)
		}
		if b.PaymentStatus != domainbooking.PaymentPaid || b.Status != domainbooking.StatusConfirmed {
			t.Errorf("booking = %s/%s, want CONFIRMED/PAID", b.Status, b.PaymentStatus)
		}
		if w.notifier.count() != 1 {
			t.Errorf("notifications = %d, want 1", w.notifier.count())
		}
		if len(w.archiver.keys) != 1 {
			t.Errorf("archived payloads = %d, want 1", len(w.archiver.keys))
		}
	})

	t.Run("rejects a forged signature", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		body := []byte(`{"order_id":"order-1","status":"paid"}`)
		_, err := w.reconciler.Ingest(context.Background(), body, "deadbeef")
		if !errors.Is(err, reconcile.ErrBadSignature) {
			t.Fatalf("err = %v, want ErrBadSignature", err)
		}
		if w.state(t) != domainpayment.StateAuthorized {
			t.Error("state changed on a forged callback")
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		w := newWorld()
		for _, body := range [][]byte{
			[]byte(`not json`),
			[]byte(`{"order_id":"order-1","status":"paid","surprise":true}`),
			[]byte(`{"status":"paid"}`),
			[]byte(`{"order_id":"order-1"}`),
		} {
			if _, err := w.reconciler.Ingest(context.Background(), body, sign(body)); !errors.Is(err, reconcile.ErrMalformedPayload) {
				t.Errorf("body %s: err = %v, want ErrMalformedPayload", body, err)
			}
		}
	})
}

func TestReconciler_Apply(t *testing.T) {
	t.Run("stale status after settlement is discarded", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "paid"})
		if err != nil || !applied {
			t.Fatalf("paid: applied=%v err=%v", applied, err)
		}
		applied, err = w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "pending"})
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if applied {
			t.Error("stale pending status was applied")
		}
		if w.state(t) != domainpayment.StateCompleted {
			t.Errorf("state = %s, want COMPLETED", w.state(t))
		}
		if w.notifier.count() != 1 {
			t.Errorf("notifications = %d, want 1", w.notifier.count())
		}
	})

	t.Run("duplicate delivery applies once", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateCreated)

		first, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "pending"})
		if err != nil || !first {
			t.Fatalf("first: applied=%v err=%v", first, err)
		}
		second, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "pending"})
		if err != nil {
			t.Fatalf("second: %v", err)
		}
		if second {
			t.Error("duplicate was applied")
		}
		if w.notifier.count() != 1 {
			t.Errorf("notifications = %d, want 1", w.notifier.count())
		}
	})

	t.Run("paid straight from created authorizes and settles in one step", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateCreated)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{
			OrderID: "order-1", Status: "paid", SettledAmount: "0.0831", SettledCurrency: "BTC",
		})
		if err != nil || !applied {
			t.Fatalf("applied=%v err=%v", applied, err)
		}
		if w.state(t) != domainpayment.StateCompleted {
			t.Errorf("state = %s, want COMPLETED", w.state(t))
		}
	})

	t.Run("booking reference mismatch is discarded", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{
			OrderID: "order-1", BookingReference: "CHT-2026-9999", Status: "paid",
		})
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if applied {
			t.Error("event with a foreign booking reference was applied")
		}
		if w.state(t) != domainpayment.StateAuthorized {
			t.Errorf("state = %s, want AUTHORIZED", w.state(t))
		}

		// The mismatch must not burn the dedupe key for the real event.
		applied, err = w.reconciler.Apply(context.Background(), reconcile.Event{
			OrderID: "order-1", BookingReference: "CHT-2026-0001", Status: "paid",
		})
		if err != nil || !applied {
			t.Fatalf("matching event: applied=%v err=%v", applied, err)
		}
	})

	t.Run("paid without auto-confirm stays captured", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)
		b, _ := w.bookings.ByID(context.Background(), "bk-1")
		b.AutoConfirmOnPay = false
		if err := w.bookings.Save(context.Background(), b); err != nil {
			t.Fatalf("reseed booking: %v", err)
		}

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{
			OrderID: "order-1", Status: "paid", SettledAmount: "0.0831", SettledCurrency: "BTC",
		})
		if err != nil || !applied {
			t.Fatalf("applied=%v err=%v", applied, err)
		}
		if w.state(t) != domainpayment.StateCaptured {
			t.Errorf("state = %s, want CAPTURED", w.state(t))
		}
		got, _ := w.bookings.ByID(context.Background(), "bk-1")
		if got.Status != domainbooking.StatusRequested {
			t.Errorf("booking status = %s, want REQUESTED", got.Status)
		}
	})

	t.Run("expired order cancels the payment", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "expired"})
		if err != nil || !applied {
			t.Fatalf("applied=%v err=%v", applied, err)
		}
		if w.state(t) != domainpayment.StateCancelled {
			t.Errorf("state = %s, want CANCELLED", w.state(t))
		}
		b, _ := w.bookings.ByID(context.Background(), "bk-1")
		if b.PaymentStatus != domainbooking.PaymentCancelled {
			t.Errorf("booking payment status = %s, want CANCELLED", b.PaymentStatus)
		}
	})

	t.Run("invalid order fails the payment", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "invalid"})
		if err != nil || !applied {
			t.Fatalf("applied=%v err=%v", applied, err)
		}
		if w.state(t) != domainpayment.StateFailed {
			t.Errorf("state = %s, want FAILED", w.state(t))
		}
	})

	t.Run("refund arrives after completion", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateCompleted)

		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "refunded"})
		if err != nil || !applied {
			t.Fatalf("applied=%v err=%v", applied, err)
		}
		if w.state(t) != domainpayment.StateRefunded {
			t.Errorf("state = %s, want REFUNDED", w.state(t))
		}
	})

	t.Run("unknown order is acknowledged and dropped", func(t *testing.T) {
		w := newWorld()
		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-x", Status: "paid"})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if applied {
			t.Error("event for unknown order was applied")
		}
	})

	t.Run("unknown status is acknowledged and dropped", func(t *testing.T) {
		w := newWorld()
		w.seedOrder(t, "order-1", domainpayment.StateAuthorized)
		applied, err := w.reconciler.Apply(context.Background(), reconcile.Event{OrderID: "order-1", Status: "sending"})
		if err != nil {
			t.Fatalf("err = %v", err)
		}
		if applied {
			t.Error("unknown status was applied")
		}
		if w.state(t) != domainpayment.StateAuthorized {
			t.Error("state changed on unknown status")
		}
	})
}

type sweepRail struct {
	snapshot policies.OrderSnapshot
}

func (r *sweepRail) CreateOrder(ctx context.Context, req policies.CreateOrderRequest) (policies.OrderOpened, error) {
	return policies.OrderOpened{}, fmt.Errorf("not used")
}

func (r *sweepRail) GetOrder(ctx context.Context, orderID string) (policies.OrderSnapshot, error) {
	snap := r.snapshot
	snap.OrderID = orderID
	return snap, nil
}

func TestSweeper(t *testing.T) {
	w := newWorld()
	w.seedOrder(t, "order-1", domainpayment.StateAuthorized)

	sweeper := &reconcile.Sweeper{
		UoWFactory: memory.Factory{PaymentRepo: w.payments, BookingRepo: w.bookings},
		Rail:       &sweepRail{snapshot: policies.OrderSnapshot{Status: "paid", SettledAmount: "0.0831", SettledCurrency: "BTC"}},
		Reconciler: w.reconciler,
		Interval:   5 * time.Millisecond,
		MaxAge:     10 * time.Minute,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sweeper.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.state(t) == domainpayment.StateCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("payment never reconciled by sweep, state = %s", w.state(t))
}

package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"charterpay/internal/app/policies"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
)

func newCaptureHandler(f *fixture) *CapturePaymentHandler {
	return &CapturePaymentHandler{
		UoWFactory: f.factory,
		HoldRail:   f.hold,
		Outbox:     f.box,
		Notifier:   f.notifier,
	}
}

func TestCapturePayment(t *testing.T) {
	t.Run("captures an authorized hold and confirms the booking", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		h := newCaptureHandler(f)

		snap, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "CAPTURED" {
			t.Errorf("state = %s, want CAPTURED", snap.State)
		}
		if f.hold.captures != 1 {
			t.Errorf("hold captures = %d, want 1", f.hold.captures)
		}
		b, err := f.bookings.ByID(context.Background(), "bk-1")
		if err != nil {
			t.Fatal(err)
		}
		if b.PaymentStatus != domainbooking.PaymentPaid {
			t.Errorf("booking payment status = %s, want PAID", b.PaymentStatus)
		}
		if b.Status != domainbooking.StatusConfirmed {
			t.Errorf("booking status = %s, want CONFIRMED", b.Status)
		}
		wantKinds(t, f.notifier, "payment.captured")
		names := f.outboxEventNames()
		if len(names) != 1 || names[0] != "payment.captured" {
			t.Errorf("outbox events = %v", names)
		}
	})

	t.Run("repeat capture conflicts without touching the rail again", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		h := newCaptureHandler(f)

		if _, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"}); err != nil {
			t.Fatalf("first capture: %v", err)
		}
		_, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if !errors.Is(err, domainpayment.ErrInvalidState) {
			t.Fatalf("second capture err = %v, want ErrInvalidState", err)
		}
		if f.hold.captures != 1 {
			t.Errorf("hold captures = %d, want 1", f.hold.captures)
		}
	})

	t.Run("capture retried after a lost version race reuses the rail key", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		h := newCaptureHandler(f)

		// A price adjustment commits while the capture call is in flight,
		// so the handler's save loses the version check.
		f.hold.onCapture = func() {
			f.hold.onCapture = nil
			p, err := f.payments.ByID(context.Background(), "pay-1")
			if err != nil {
				t.Fatal(err)
			}
			if err := p.AdjustPrice(money.Must(300000, "EUR"), "seasonal rate", "", time.Now()); err != nil {
				t.Fatal(err)
			}
			p.ClearEvents()
			if err := f.payments.Save(context.Background(), p); err != nil {
				t.Fatal(err)
			}
		}

		_, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if !errors.Is(err, domainpayment.ErrConcurrentUpdate) {
			t.Fatalf("racing capture err = %v, want ErrConcurrentUpdate", err)
		}
		if _, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"}); err != nil {
			t.Fatalf("retried capture: %v", err)
		}
		// Both attempts reach the rail, but with one derived key the
		// processor folds them into a single charge.
		if len(f.hold.captureKeys) != 2 {
			t.Fatalf("capture keys = %v, want two entries", f.hold.captureKeys)
		}
		if f.hold.captureKeys[0] != "pay-1:captured" || f.hold.captureKeys[1] != "pay-1:captured" {
			t.Errorf("capture keys = %v, want pay-1:captured twice", f.hold.captureKeys)
		}
		if got := f.paymentState(t, "pay-1"); got != domainpayment.StateCaptured {
			t.Errorf("payment state = %s, want CAPTURED", got)
		}
	})

	t.Run("rejects capture of an async order", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailAsyncOrder, "order-1"))
		h := newCaptureHandler(f)

		_, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if !errors.Is(err, domainpayment.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
		if f.hold.captures != 0 {
			t.Errorf("hold captures = %d, want 0", f.hold.captures)
		}
	})

	t.Run("terminal rail rejection fails the payment", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		f.hold.captureErr = &policies.RejectedError{Code: "hold_expired"}
		h := newCaptureHandler(f)

		_, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if !policies.IsTerminal(err) {
			t.Fatalf("err = %v, want terminal", err)
		}
		if got := f.paymentState(t, "pay-1"); got != domainpayment.StateFailed {
			t.Errorf("payment state = %s, want FAILED", got)
		}
		if got := f.bookingPaymentStatus(t, "bk-1"); got != domainbooking.PaymentFailed {
			t.Errorf("booking payment status = %s, want FAILED", got)
		}
		wantKinds(t, f.notifier, "payment.failed")
	})

	t.Run("transient rail failure leaves the payment authorized", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		f.hold.captureErr = policies.ErrRailUnavailable
		h := newCaptureHandler(f)

		_, err := h.Handle(context.Background(), CapturePaymentCommand{PaymentID: "pay-1"})
		if !policies.IsTransient(err) {
			t.Fatalf("err = %v, want transient", err)
		}
		if got := f.paymentState(t, "pay-1"); got != domainpayment.StateAuthorized {
			t.Errorf("payment state = %s, want AUTHORIZED", got)
		}
		wantKinds(t, f.notifier)
	})
}

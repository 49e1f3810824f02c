package payments

import (
	"context"
	"testing"
	"time"

	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

func newCancelHandler(f *fixture) *CancelPaymentHandler {
	return &CancelPaymentHandler{
		UoWFactory: f.factory,
		HoldRail:   f.hold,
		Outbox:     f.box,
		Notifier:   f.notifier,
	}
}

func TestCancelPayment(t *testing.T) {
	t.Run("voids an authorized hold", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1"))
		h := newCancelHandler(f)

		snap, err := h.Handle(context.Background(), CancelPaymentCommand{PaymentID: "pay-1", Reason: "guest withdrew"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "CANCELLED" {
			t.Errorf("state = %s, want CANCELLED", snap.State)
		}
		if f.hold.voids != 1 {
			t.Errorf("hold voids = %d, want 1", f.hold.voids)
		}
		if len(f.hold.voidKeys) != 1 || f.hold.voidKeys[0] != "pay-1:voided" {
			t.Errorf("void keys = %v, want [pay-1:voided]", f.hold.voidKeys)
		}
		if got := f.bookingPaymentStatus(t, "bk-1"); got != domainbooking.PaymentCancelled {
			t.Errorf("booking payment status = %s, want CANCELLED", got)
		}
		wantKinds(t, f.notifier, "payment.cancelled")
	})

	t.Run("cancelling an unpaid async order skips the rail", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		f.seedPayment(t, authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailAsyncOrder, "order-1"))
		h := newCancelHandler(f)

		snap, err := h.Handle(context.Background(), CancelPaymentCommand{PaymentID: "pay-1"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "CANCELLED" {
			t.Errorf("state = %s, want CANCELLED", snap.State)
		}
		if f.hold.voids != 0 || f.hold.refunds != 0 {
			t.Errorf("hold rail was called: voids=%d refunds=%d", f.hold.voids, f.hold.refunds)
		}
	})

	t.Run("cancelling a captured hold refunds it", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		p := authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1")
		if err := p.Capture(time.Now()); err != nil {
			t.Fatal(err)
		}
		f.seedPayment(t, p)
		h := newCancelHandler(f)

		snap, err := h.Handle(context.Background(), CancelPaymentCommand{PaymentID: "pay-1", Reason: "charter cancelled"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "REFUNDED" {
			t.Errorf("state = %s, want REFUNDED", snap.State)
		}
		if f.hold.refunds != 1 {
			t.Errorf("hold refunds = %d, want 1", f.hold.refunds)
		}
		if len(f.hold.refundKeys) != 1 || f.hold.refundKeys[0] != "pay-1:refunded" {
			t.Errorf("refund keys = %v, want [pay-1:refunded]", f.hold.refundKeys)
		}
		if got := f.bookingPaymentStatus(t, "bk-1"); got != domainbooking.PaymentRefunded {
			t.Errorf("booking payment status = %s, want REFUNDED", got)
		}
		wantKinds(t, f.notifier, "payment.refunded")
		if _, ok := f.notifier.notes[0].Data["manual_gateway_refund"]; ok {
			t.Error("hold refund should not carry the manual flag")
		}
	})

	t.Run("cancelling a captured async order flags a manual refund", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		p := authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailAsyncOrder, "order-1")
		if err := p.Capture(time.Now()); err != nil {
			t.Fatal(err)
		}
		f.seedPayment(t, p)
		h := newCancelHandler(f)

		snap, err := h.Handle(context.Background(), CancelPaymentCommand{PaymentID: "pay-1", Reason: "charter cancelled"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "REFUNDED" {
			t.Errorf("state = %s, want REFUNDED", snap.State)
		}
		if f.hold.refunds != 0 {
			t.Errorf("hold refunds = %d, want 0", f.hold.refunds)
		}
		wantKinds(t, f.notifier, "payment.refunded")
		if flagged, _ := f.notifier.notes[0].Data["manual_gateway_refund"].(bool); !flagged {
			t.Error("async refund should carry manual_gateway_refund")
		}
	})

	t.Run("terminal payment is a no-op", func(t *testing.T) {
		f := newFixture()
		f.seedBooking(t, "bk-1", "CHT-2026-0001", true)
		p := authorizedPayment(t, "pay-1", "bk-1", domainpayment.RailHoldCapture, "hold-1")
		if err := p.Cancel("already gone", time.Now()); err != nil {
			t.Fatal(err)
		}
		f.seedPayment(t, p)
		h := newCancelHandler(f)

		snap, err := h.Handle(context.Background(), CancelPaymentCommand{PaymentID: "pay-1"})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		if snap.State != "CANCELLED" {
			t.Errorf("state = %s, want CANCELLED", snap.State)
		}
		if f.hold.voids != 0 {
			t.Errorf("hold voids = %d, want 0", f.hold.voids)
		}
		wantKinds(t, f.notifier)
	})
}

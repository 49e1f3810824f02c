package payments

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"charterpay/internal/app/policies"
	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
	"charterpay/internal/domain/shared/money"
	"charterpay/internal/infra/storage/memory"
)

type fakeHoldRail struct {
	creates  int
	updates  int
	captures int
	voids    int
	refunds  int

	captureKeys []string
	voidKeys    []string
	refundKeys  []string

	createErr  error
	updateErr  error
	captureErr error
	voidErr    error
	refundErr  error

	// onCapture runs while the capture call is in flight, before it returns.
	onCapture func()
}

func (f *fakeHoldRail) CreateHold(ctx context.Context, amount money.Money, metadata map[string]string) (policies.HoldOpened, error) {
	f.creates++
	if f.createErr != nil {
		return policies.HoldOpened{}, f.createErr
	}
	return policies.HoldOpened{ExternalID: fmt.Sprintf("hold-%d", f.creates), CustomerHandoff: "https://pay.example/hold"}, nil
}

func (f *fakeHoldRail) UpdateHoldAmount(ctx context.Context, externalID string, amount money.Money) error {
	f.updates++
	return f.updateErr
}

func (f *fakeHoldRail) CaptureHold(ctx context.Context, externalID, idempotencyKey string) error {
	f.captures++
	f.captureKeys = append(f.captureKeys, idempotencyKey)
	if f.onCapture != nil {
		f.onCapture()
	}
	return f.captureErr
}

func (f *fakeHoldRail) VoidHold(ctx context.Context, externalID, idempotencyKey string) error {
	f.voids++
	f.voidKeys = append(f.voidKeys, idempotencyKey)
	return f.voidErr
}

func (f *fakeHoldRail) Refund(ctx context.Context, externalID, idempotencyKey string) error {
	f.refunds++
	f.refundKeys = append(f.refundKeys, idempotencyKey)
	return f.refundErr
}

type fakeAsyncRail struct {
	creates   int
	createErr error
	snapshot  policies.OrderSnapshot
	getErr    error
}

func (f *fakeAsyncRail) CreateOrder(ctx context.Context, req policies.CreateOrderRequest) (policies.OrderOpened, error) {
	f.creates++
	if f.createErr != nil {
		return policies.OrderOpened{}, f.createErr
	}
	return policies.OrderOpened{
		OrderID:    fmt.Sprintf("order-%d", f.creates),
		PaymentURL: "https://pay.example/order",
		ExpiresAt:  time.Now().Add(20 * time.Minute),
	}, nil
}

func (f *fakeAsyncRail) GetOrder(ctx context.Context, orderID string) (policies.OrderSnapshot, error) {
	if f.getErr != nil {
		return policies.OrderSnapshot{}, f.getErr
	}
	snap := f.snapshot
	if snap.OrderID == "" {
		snap.OrderID = orderID
	}
	return snap, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []policies.Notification
}

func (n *recordingNotifier) Dispatch(ctx context.Context, note policies.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notes))
	for _, note := range n.notes {
		out = append(out, note.Kind)
	}
	return out
}

// fixture wires the in-memory storage stack the way main does, with fake
// rails in place of HTTP clients.
type fixture struct {
	payments *memory.PaymentRepository
	bookings *memory.BookingRepository
	factory  memory.Factory
	box      *memory.Outbox
	notifier *recordingNotifier
	hold     *fakeHoldRail
	async    *fakeAsyncRail
}

func newFixture() *fixture {
	payments := memory.NewPaymentRepository()
	bookings := memory.NewBookingRepository()
	return &fixture{
		payments: payments,
		bookings: bookings,
		factory:  memory.Factory{PaymentRepo: payments, BookingRepo: bookings},
		box:      memory.NewOutbox(),
		notifier: &recordingNotifier{},
		hold:     &fakeHoldRail{},
		async:    &fakeAsyncRail{},
	}
}

func (f *fixture) seedBooking(t *testing.T, id, ref string, autoConfirm bool) {
	t.Helper()
	b := &domainbooking.Booking{
		ID:               domainbooking.BookingID(id),
		Reference:        ref,
		CustomerID:       "cust-1",
		Status:           domainbooking.StatusRequested,
		PaymentStatus:    domainbooking.PaymentUnpaid,
		AutoConfirmOnPay: autoConfirm,
		CreatedAt:        time.Now().UTC(),
	}
	if err := f.bookings.Save(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func (f *fixture) seedPayment(t *testing.T, p *domainpayment.BookingPayment) {
	t.Helper()
	p.ClearEvents()
	if err := f.payments.Save(context.Background(), p); err != nil {
		t.Fatalf("seed payment: %v", err)
	}
}

func (f *fixture) paymentState(t *testing.T, id string) domainpayment.State {
	t.Helper()
	p, err := f.payments.ByID(context.Background(), domainpayment.PaymentID(id))
	if err != nil {
		t.Fatalf("load payment %s: %v", id, err)
	}
	return p.State
}

func (f *fixture) bookingPaymentStatus(t *testing.T, id string) domainbooking.PaymentStatus {
	t.Helper()
	b, err := f.bookings.ByID(context.Background(), domainbooking.BookingID(id))
	if err != nil {
		t.Fatalf("load booking %s: %v", id, err)
	}
	return b.PaymentStatus
}

func (f *fixture) outboxEventNames() []string {
	recs := f.box.Records()
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Name)
	}
	return out
}

// authorizedPayment builds an aggregate sitting in the escrow window.
func authorizedPayment(t *testing.T, id, bookingID string, rail domainpayment.Rail, ref string) *domainpayment.BookingPayment {
	t.Helper()
	p, err := domainpayment.NewBookingPayment(domainpayment.CreateParams{
		ID:              domainpayment.PaymentID(id),
		BookingID:       domainbooking.BookingID(bookingID),
		Rail:            rail,
		Amount:          money.Must(250000, "EUR"),
		ReceiveCurrency: receiveCurrencyFor(rail),
		CreatedAt:       time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("build payment: %v", err)
	}
	if err := p.Authorize(ref, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("authorize payment: %v", err)
	}
	return p
}

func receiveCurrencyFor(rail domainpayment.Rail) string {
	if rail == domainpayment.RailAsyncOrder {
		return "BTC"
	}
	return ""
}

func wantKinds(t *testing.T, n *recordingNotifier, want ...string) {
	t.Helper()
	got := n.kinds()
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

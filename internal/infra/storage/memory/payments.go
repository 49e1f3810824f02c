package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	domainbooking "charterpay/internal/domain/booking"
	domainpayment "charterpay/internal/domain/payment"
)

// PaymentRepository is an in-memory implementation with the same optimistic
// versioning contract as the Mongo repository. Aggregates are copied on the
// way in and out so callers never share mutable state with the store.
type PaymentRepository struct {
	mu    sync.RWMutex
	items map[domainpayment.PaymentID]*domainpayment.BookingPayment
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{items: make(map[domainpayment.PaymentID]*domainpayment.BookingPayment)}
}

func (r *PaymentRepository) ByID(ctx context.Context, id domainpayment.PaymentID) (*domainpayment.BookingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, domainpayment.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (r *PaymentRepository) ByExternalReference(ctx context.Context, ref string) (*domainpayment.BookingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.ExternalReference == ref && ref != "" {
			return clonePayment(p), nil
		}
	}
	return nil, domainpayment.ErrPaymentNotFound
}

func (r *PaymentRepository) ActiveByBooking(ctx context.Context, id domainbooking.BookingID) (*domainpayment.BookingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.items {
		if p.BookingID == id && !p.State.Terminal() {
			return clonePayment(p), nil
		}
	}
	return nil, nil
}

func (r *PaymentRepository) AuthorizedBefore(ctx context.Context, rail domainpayment.Rail, cutoff time.Time, limit int) ([]*domainpayment.BookingPayment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*domainpayment.BookingPayment
	for _, p := range r.items {
		if p.Rail != rail || p.State != domainpayment.StateAuthorized {
			continue
		}
		if p.AuthorizedAt.IsZero() || !p.AuthorizedAt.Before(cutoff) {
			continue
		}
		out = append(out, clonePayment(p))
		if len(out) >= limit {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AuthorizedAt.Before(out[j].AuthorizedAt) })
	return out, nil
}

func (r *PaymentRepository) Save(ctx context.Context, p *domainpayment.BookingPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.items[p.ID]
	if exists && current.Version != p.Version {
		return domainpayment.ErrConcurrentUpdate
	}
	if !exists && p.Version != 0 {
		return domainpayment.ErrConcurrentUpdate
	}
	stored := clonePayment(p)
	stored.Version = p.Version + 1
	r.items[p.ID] = stored
	p.Version = stored.Version
	return nil
}

func clonePayment(p *domainpayment.BookingPayment) *domainpayment.BookingPayment {
	cp := *p
	cp.ClearEvents()
	cp.Adjustments = append([]domainpayment.AdminAdjustment(nil), p.Adjustments...)
	if p.Settled != nil {
		settled := *p.Settled
		cp.Settled = &settled
	}
	return &cp
}

var _ domainpayment.Repository = (*PaymentRepository)(nil)

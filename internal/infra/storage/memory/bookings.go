package memory

import (
	"context"
	"sync"

	domainbooking "charterpay/internal/domain/booking"
)

// BookingRepository holds bookings in memory for tests and local runs.
type BookingRepository struct {
	mu    sync.RWMutex
	items map[domainbooking.BookingID]*domainbooking.Booking
}

func NewBookingRepository() *BookingRepository {
	return &BookingRepository{items: make(map[domainbooking.BookingID]*domainbooking.Booking)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[id]
	if !ok {
		return nil, domainbooking.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.items[b.ID]
	if exists && current.Version != b.Version {
		return domainbooking.ErrConcurrentUpdate
	}
	if !exists && b.Version != 0 {
		return domainbooking.ErrConcurrentUpdate
	}
	cp := *b
	cp.Version = b.Version + 1
	r.items[b.ID] = &cp
	b.Version = cp.Version
	return nil
}

var _ domainbooking.Repository = (*BookingRepository)(nil)

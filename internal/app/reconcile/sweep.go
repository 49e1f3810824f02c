package reconcile

import (
	"context"
	"log/slog"
	"time"

	handlersupport "charterpay/internal/app/handlers/support"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/uow"
	domainpayment "charterpay/internal/domain/payment"
)

// Sweeper periodically re-polls the gateway for async payments that sat in
// the escrow window longer than MaxAge. It closes the gap left by lost
// callbacks without waiting for an operator.
type Sweeper struct {
	UoWFactory uow.UoWFactory
	Rail       policies.AsyncOrderRail
	Reconciler *Reconciler
	Interval   time.Duration
	MaxAge     time.Duration
	Limit      int
	Logger     *slog.Logger
}

func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	maxAge := s.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	cutoff := time.Now().Add(-maxAge)

	unit, execCtx, cleanup, err := handlersupport.BeginReadOnlyUnit(ctx, s.UoWFactory)
	if err != nil {
		s.logError("sweep begin failed", err)
		return
	}
	stale, err := unit.Payments().AuthorizedBefore(execCtx, domainpayment.RailAsyncOrder, cutoff, s.Limit)
	if cleanup != nil {
		cleanup()
	}
	if err != nil {
		s.logError("sweep listing failed", err)
		return
	}

	for _, p := range stale {
		if ctx.Err() != nil {
			return
		}
		snap, err := s.Rail.GetOrder(ctx, p.ExternalReference)
		if err != nil {
			s.logError("sweep poll failed", err, "payment_id", p.ID, "order_id", p.ExternalReference)
			continue
		}
		applied, err := s.Reconciler.Apply(ctx, Event{
			OrderID:         snap.OrderID,
			Status:          snap.Status,
			SettledAmount:   snap.SettledAmount,
			SettledCurrency: snap.SettledCurrency,
		})
		if err != nil {
			s.logError("sweep apply failed", err, "payment_id", p.ID)
			continue
		}
		if applied && s.Logger != nil {
			s.Logger.Info("stale payment reconciled by sweep", "payment_id", p.ID, "order_id", p.ExternalReference, "status", snap.Status)
		}
	}
}

func (s *Sweeper) logError(msg string, err error, args ...any) {
	if s.Logger == nil {
		return
	}
	s.Logger.Error(msg, append([]any{"error", err}, args...)...)
}

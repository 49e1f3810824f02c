package support

import (
	"context"

	"charterpay/internal/app/uow"
)

// BeginUnit reuses a unit of work from context (placed there by the
// transaction middleware) or starts a managed one. The returned commit func is
// nil when the unit is owned by the middleware; cleanup must always be
// deferred.
func BeginUnit(ctx context.Context, factory uow.UoWFactory) (uow.UnitOfWork, context.Context, func(context.Context) error, func(), error) {
	unit, ok := uow.FromContext(ctx)
	if ok {
		return unit, ctx, nil, func() {}, nil
	}
	if factory == nil {
		return nil, ctx, nil, nil, uow.ErrUnitOfWorkMissing
	}
	newUnit, err := factory.Begin(ctx, uow.TxOptions{})
	if err != nil {
		return nil, ctx, nil, nil, err
	}
	execCtx := injectUnit(ctx, newUnit)
	committed := false
	commit := func(c context.Context) error {
		if err := newUnit.Commit(c); err != nil {
			return err
		}
		committed = true
		return nil
	}
	cleanup := func() {
		if !committed {
			_ = newUnit.Rollback(execCtx)
		}
	}
	return newUnit, execCtx, commit, cleanup, nil
}

// BeginReadOnlyUnit is BeginUnit for queries; the unit is always rolled back.
func BeginReadOnlyUnit(ctx context.Context, factory uow.UoWFactory) (uow.UnitOfWork, context.Context, func(), error) {
	unit, ok := uow.FromContext(ctx)
	if ok {
		return unit, ctx, nil, nil
	}
	if factory == nil {
		return nil, ctx, nil, uow.ErrUnitOfWorkMissing
	}
	newUnit, err := factory.Begin(ctx, uow.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, ctx, nil, err
	}
	execCtx := injectUnit(ctx, newUnit)
	cleanup := func() {
		_ = newUnit.Rollback(execCtx)
	}
	return newUnit, execCtx, cleanup, nil
}

// BeginDetachedUnit starts a unit of work outside any ambient transaction.
// Used to persist state that must survive the rollback of the calling
// operation, e.g. marking a payment Failed after a terminal rail rejection.
// The unit is also detached from the caller's cancellation: a caller timing
// out must not lose the write.
func BeginDetachedUnit(ctx context.Context, factory uow.UoWFactory) (uow.UnitOfWork, context.Context, error) {
	if factory == nil {
		return nil, ctx, uow.ErrUnitOfWorkMissing
	}
	base := context.WithoutCancel(ctx)
	unit, err := factory.Begin(base, uow.TxOptions{})
	if err != nil {
		return nil, ctx, err
	}
	return unit, injectUnit(base, unit), nil
}

func injectUnit(ctx context.Context, unit uow.UnitOfWork) context.Context {
	execCtx := ctx
	if injector, ok := unit.(interface {
		InjectContext(context.Context) context.Context
	}); ok {
		execCtx = injector.InjectContext(ctx)
	}
	return uow.ContextWithUnitOfWork(execCtx, unit)
}

package application

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

// Reconcile 重试一次补偿失败留下的释放。预占已不存在（被释放、过期或已消费）视为完成。
// 持有者的订单仍在 PENDING 时说明后来又结账成功了，此时不能释放。
func (s *CheckoutService) Reconcile(ctx context.Context, evt domain.InventoryEvent) error {
	ctx, span := s.tracer.Start(ctx, "app.Reconcile", trace.WithAttributes(
		attribute.String("holder", evt.HolderRef),
		attribute.String("stock_unit", evt.StockUnit.Key()),
	))
	defer span.End()

	if evt.Type != domain.EventCompensationFailed {
		return nil
	}
	if evt.HolderRef == "" {
		return fmt.Errorf("%w: reconciliation event without holder", domain.ErrInvalidCheckout)
	}
	if err := evt.StockUnit.Validate(); err != nil {
		return err
	}

	order, err := s.orders.FindByHolder(ctx, evt.HolderRef)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
	case err != nil:
		span.RecordError(err)
		return err
	case order.State != domain.OrderCancelled:
		span.AddEvent("holder has a live order, skipping release")
		logger.Ctx(ctx).Info().Str("holder", evt.HolderRef).Str("order", order.OrderRef).Msg("reconciliation skipped, holder owns a live order")
		return nil
	}

	err = s.locks.WithLock(ctx, evt.StockUnit.LockKey(), s.opts.Lock, func(ctx context.Context) error {
		_, err := s.ledger.Release(ctx, evt.StockUnit, evt.HolderRef)
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Str("holder", evt.HolderRef).Str("stock_unit", evt.StockUnit.Key()).Msg("✅ reservation reconciled")
	return nil
}

package saga

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"nexus-stock/internal/service/inventory/domain"
)

// ReplayGuardHandler 同一持有者已有未取消的订单时直接返回该订单，不再重复预占。
// 消息重复投递时保证幂等。
type ReplayGuardHandler struct {
	NextHandler
}

func (h *ReplayGuardHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.ReplayGuard")
	defer span.End()

	existing, err := checkoutCtx.Orders.FindByHolder(ctx, checkoutCtx.HolderRef)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return h.executeNext(checkoutCtx)
	case err != nil:
		span.RecordError(err)
		return err
	case existing.State == domain.OrderCancelled:
		return h.executeNext(checkoutCtx)
	}

	span.SetAttributes(attribute.String("order.ref", existing.OrderRef))
	span.AddEvent("existing order found, skipping reservation")
	checkoutCtx.Order = existing
	checkoutCtx.Replayed = true
	return nil
}

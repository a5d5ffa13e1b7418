package saga

import (
	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

// NotificationHandler 发布结账成功事件，发布失败不影响结果。
type NotificationHandler struct {
	NextHandler
}

func (h *NotificationHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.Notify")
	defer span.End()

	if checkoutCtx.Events != nil && checkoutCtx.Order != nil {
		events := make([]domain.InventoryEvent, 0, len(checkoutCtx.Order.Items))
		for _, item := range checkoutCtx.Order.Items {
			events = append(events, domain.InventoryEvent{
				Type:      domain.EventCheckoutCommitted,
				StockUnit: item.StockUnit,
				HolderRef: checkoutCtx.HolderRef,
				OrderRef:  checkoutCtx.Order.OrderRef,
				Quantity:  item.Quantity,
				At:        checkoutCtx.Order.CreatedAt,
			})
		}
		if err := checkoutCtx.Events.Publish(ctx, events...); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Warn().Err(err).Str("order", checkoutCtx.Order.OrderRef).Msg("failed to publish checkout committed events")
		}
	}
	return h.executeNext(checkoutCtx)
}

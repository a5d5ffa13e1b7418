package saga

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nexus-stock/internal/service/inventory/domain"
)

// PersistOrderHandler 所有库存都预占成功后写入订单记录。
type PersistOrderHandler struct {
	NextHandler
}

func (h *PersistOrderHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.PersistOrder")
	defer span.End()

	now := checkoutCtx.Now()
	order := &domain.Order{
		OrderRef:  checkoutCtx.NewOrderRef(),
		HolderRef: checkoutCtx.HolderRef,
		Items:     append([]domain.CheckoutLineItem(nil), checkoutCtx.Items...),
		State:     domain.OrderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("order.ref", order.OrderRef))

	if err := checkoutCtx.Orders.Save(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist order")
		return err
	}
	checkoutCtx.Order = order
	return h.executeNext(checkoutCtx)
}

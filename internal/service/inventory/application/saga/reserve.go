package saga

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

// ReservationHandler 按顺序逐个加锁并预占，每成功一项注册一条释放补偿。
type ReservationHandler struct {
	NextHandler
}

func (h *ReservationHandler) Handle(checkoutCtx *CheckoutContext) error {
	ctx, span := checkoutCtx.Tracer.Start(checkoutCtx.Ctx, "saga.Reserve")
	defer span.End()
	span.SetAttributes(attribute.Int("items", len(checkoutCtx.Items)))

	for i := range checkoutCtx.Items {
		item := checkoutCtx.Items[i]
		if err := ctx.Err(); err != nil {
			checkoutCtx.FailedItem = &item
			span.RecordError(err)
			return err
		}
		if err := h.reserveOne(ctx, checkoutCtx, item); err != nil {
			checkoutCtx.FailedItem = &item
			span.RecordError(err)
			span.SetStatus(codes.Error, "reservation failed")
			return err
		}
	}

	span.AddEvent("all items reserved")
	return h.executeNext(checkoutCtx)
}

func (h *ReservationHandler) reserveOne(ctx context.Context, checkoutCtx *CheckoutContext, item domain.CheckoutLineItem) error {
	lock, err := checkoutCtx.Locks.Acquire(ctx, item.StockUnit.LockKey(), checkoutCtx.LockOptions)
	if err != nil {
		return err
	}

	_, reserveErr := checkoutCtx.Ledger.Reserve(ctx, item.StockUnit, item.Quantity, checkoutCtx.HolderRef, checkoutCtx.ReservationTTL)

	// 释放锁不受结账超时影响
	if relErr := checkoutCtx.Locks.Release(context.WithoutCancel(ctx), lock); relErr != nil {
		logger.Ctx(ctx).Warn().Err(relErr).Str("stock_unit", item.StockUnit.Key()).Msg("lock expired before release")
	}
	if reserveErr != nil {
		return reserveErr
	}

	checkoutCtx.Reserved = append(checkoutCtx.Reserved, item)
	holder := checkoutCtx.HolderRef
	checkoutCtx.AddCompensation(item, func(compCtx context.Context) error {
		compCtx, compSpan := checkoutCtx.Tracer.Start(compCtx, "saga.compensation.Release")
		defer compSpan.End()
		compSpan.SetAttributes(attribute.String("stock_unit", item.StockUnit.Key()), attribute.String("holder", holder))

		_, err := checkoutCtx.Ledger.Release(compCtx, item.StockUnit, holder)
		if errors.Is(err, domain.ErrReservationNotFound) {
			// 预占已经不再 active（过期或已被清扫），目标状态已经达到
			logger.Ctx(compCtx).Warn().Str("stock_unit", item.StockUnit.Key()).Str("holder", holder).Msg("reservation already inactive during compensation")
			return nil
		}
		if err != nil {
			compSpan.RecordError(err)
			compSpan.SetStatus(codes.Error, "release failed")
			return fmt.Errorf("release %s for %s: %w", item.StockUnit, holder, err)
		}
		return nil
	})
	return nil
}

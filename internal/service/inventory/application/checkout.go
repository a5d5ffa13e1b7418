package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/service/inventory/application/saga"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/domain/port"
)

// CheckoutOptions 结账编排的参数。
type CheckoutOptions struct {
	Lock           domain.LockOptions
	ReservationTTL time.Duration
	// Timeout 一次结账（加锁 + 预占 + 落单）的总时限。
	Timeout time.Duration
	// CompensationTimeout 补偿使用独立的时限，不受结账超时影响。
	CompensationTimeout time.Duration
	Now                 func() time.Time
}

// CheckoutService 多库存单元结账编排：按序加锁预占，失败时逆序补偿。
type CheckoutService struct {
	locks  *LockCoordinator
	ledger *Ledger
	orders domain.OrderRepository
	events port.EventPublisher
	tracer trace.Tracer
	opts   CheckoutOptions

	newOrderRef func() string
}

func NewCheckoutService(locks *LockCoordinator, ledger *Ledger, orders domain.OrderRepository, events port.EventPublisher, tracer trace.Tracer, opts CheckoutOptions) *CheckoutService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CompensationTimeout <= 0 {
		opts.CompensationTimeout = 10 * time.Second
	}
	return &CheckoutService{
		locks:       locks,
		ledger:      ledger,
		orders:      orders,
		events:      events,
		tracer:      tracer,
		opts:        opts,
		newOrderRef: func() string { return "ord-" + uuid.NewString() },
	}
}

// OrderByUser 为 holderRef 结账。返回的结果一定是 COMMITTED 或带原因的 ABORTED。
// error 只在请求非法，或补偿未能释放全部预占（ErrPartialCommitFailure）时返回；
// 后一种情况同时返回 ABORTED 结果。
func (s *CheckoutService) OrderByUser(ctx context.Context, holderRef string, items []domain.CheckoutLineItem) (*CheckoutResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "app.OrderByUser", trace.WithAttributes(attribute.String("holder", holderRef)))
	defer span.End()

	if holderRef == "" {
		return nil, fmt.Errorf("%w: holder reference is required", domain.ErrInvalidCheckout)
	}
	normalized, err := domain.NormalizeLineItems(items)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("items", len(normalized)))

	processingCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	checkoutCtx := &saga.CheckoutContext{
		Ctx:            processingCtx,
		Tracer:         s.tracer,
		HolderRef:      holderRef,
		Items:          normalized,
		Locks:          s.locks,
		Ledger:         s.ledger,
		Orders:         s.orders,
		Events:         s.events,
		LockOptions:    s.opts.Lock,
		ReservationTTL: s.opts.ReservationTTL,
		NewOrderRef:    s.newOrderRef,
		Now:            s.opts.Now,
	}

	defer func() { metrics.CheckoutDuration.Observe(time.Since(start).Seconds()) }()

	// 预占按 (库存单元, 持有者) 记账，同一持有者的结账必须串行，锁覆盖查重到补偿结束
	holderLock, chainErr := s.locks.Acquire(processingCtx, domain.HolderLockKey(holderRef), s.holderLockOptions())
	if chainErr == nil {
		defer func() {
			if err := s.locks.Release(context.WithoutCancel(ctx), holderLock); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("holder", holderRef).Msg("holder lock expired before checkout finished")
			}
		}()
		chainErr = s.buildChain().Handle(checkoutCtx)
	}

	if chainErr == nil {
		metrics.Checkouts.WithLabelValues(string(CheckoutCommitted), "").Inc()
		if checkoutCtx.Replayed {
			span.AddEvent("replayed existing order")
		}
		logger.Ctx(ctx).Info().Str("holder", holderRef).Str("order", checkoutCtx.Order.OrderRef).Bool("replayed", checkoutCtx.Replayed).Msg("checkout committed")
		return &CheckoutResult{
			Status:    CheckoutCommitted,
			HolderRef: holderRef,
			OrderRef:  checkoutCtx.Order.OrderRef,
			Items:     checkoutCtx.Order.Items,
			Replayed:  checkoutCtx.Replayed,
		}, nil
	}

	reason := AbortReasonFor(chainErr)
	result := &CheckoutResult{
		Status:     CheckoutAborted,
		HolderRef:  holderRef,
		Reason:     reason,
		FailedItem: checkoutCtx.FailedItem,
		Message:    chainErr.Error(),
	}
	metrics.Checkouts.WithLabelValues(string(CheckoutAborted), string(reason)).Inc()
	span.SetAttributes(attribute.String("abort.reason", string(reason)))
	span.RecordError(chainErr)

	event := logger.Ctx(ctx).Info()
	if reason == AbortInternal {
		event = logger.Ctx(ctx).Error()
		span.SetStatus(codes.Error, "checkout failed")
	}
	event.Err(chainErr).Str("holder", holderRef).Str("reason", string(reason)).Int("compensations", checkoutCtx.PendingCompensations()).Msg("checkout aborted, compensating")

	// 补偿使用脱离结账超时的上下文，只保留链路信息
	compCtx, compCancel := context.WithTimeout(
		trace.ContextWithRemoteSpanContext(context.Background(), span.SpanContext()),
		s.opts.CompensationTimeout,
	)
	defer compCancel()
	failures := checkoutCtx.TriggerCompensation(compCtx)

	s.publishAbort(compCtx, result)
	if len(failures) == 0 {
		return result, nil
	}
	return result, s.escalate(compCtx, span, holderRef, failures)
}

// holderLockOptions 持有者锁的 TTL 要覆盖整次结账加补偿，重试参数沿用库存单元锁。
func (s *CheckoutService) holderLockOptions() domain.LockOptions {
	opts := s.opts.Lock
	if ttl := s.opts.Timeout + s.opts.CompensationTimeout; ttl > opts.TTL {
		opts.TTL = ttl
	}
	return opts
}

func (s *CheckoutService) buildChain() saga.Handler {
	chain := new(saga.ReplayGuardHandler)
	chain.
		SetNext(new(saga.ReservationHandler)).
		SetNext(new(saga.PersistOrderHandler)).
		SetNext(new(saga.NotificationHandler))
	return chain
}

func (s *CheckoutService) publishAbort(ctx context.Context, result *CheckoutResult) {
	if s.events == nil {
		return
	}
	evt := domain.InventoryEvent{
		Type:      domain.EventCheckoutAborted,
		HolderRef: result.HolderRef,
		Reason:    string(result.Reason),
		At:        s.opts.Now(),
	}
	if result.FailedItem != nil {
		evt.StockUnit = result.FailedItem.StockUnit
		evt.Quantity = result.FailedItem.Quantity
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("holder", result.HolderRef).Msg("failed to publish checkout aborted event")
	}
}

// escalate 补偿失败：严重错误日志、计数，并投递到对账队列由 reconciler 重试。
func (s *CheckoutService) escalate(ctx context.Context, span trace.Span, holderRef string, failures []saga.CompensationFailure) error {
	errs := make([]error, 0, len(failures))
	events := make([]domain.InventoryEvent, 0, len(failures))
	for _, f := range failures {
		metrics.CompensationFailures.Inc()
		errs = append(errs, f.Err)
		logger.Ctx(ctx).Error().Err(f.Err).
			Bool("critical", true).
			Str("holder", holderRef).
			Str("stock_unit", f.Item.StockUnit.Key()).
			Int64("quantity", f.Item.Quantity).
			Msg("🚨 CRITICAL: reservation left active after compensation, needs reconciliation")
		events = append(events, domain.InventoryEvent{
			Type:      domain.EventCompensationFailed,
			StockUnit: f.Item.StockUnit,
			HolderRef: holderRef,
			Quantity:  f.Item.Quantity,
			Reason:    f.Err.Error(),
			At:        s.opts.Now(),
		})
	}
	span.SetAttributes(attribute.Bool("critical.error", true))
	span.SetStatus(codes.Error, "partial commit failure")

	if s.events != nil {
		if err := s.events.Publish(ctx, events...); err != nil {
			logger.Ctx(ctx).Error().Err(err).Bool("critical", true).Str("holder", holderRef).Msg("failed to enqueue reconciliation events")
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrPartialCommitFailure, errors.Join(errs...))
}

// ConfirmOrder 支付完成后消费订单的全部预占并把订单标记为 CONFIRMED。
// 已消费的行会被跳过，重复调用是安全的。
func (s *CheckoutService) ConfirmOrder(ctx context.Context, holderRef string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.ConfirmOrder", trace.WithAttributes(attribute.String("holder", holderRef)))
	defer span.End()

	order, err := s.orders.FindByHolder(ctx, holderRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch order.State {
	case domain.OrderConfirmed:
		return order, nil
	case domain.OrderCancelled:
		return nil, fmt.Errorf("%w: order %s is cancelled", domain.ErrInvalidCheckout, order.OrderRef)
	}

	var errs []error
	for _, item := range sortedItems(order.Items) {
		err := s.locks.WithLock(ctx, item.StockUnit.LockKey(), s.opts.Lock, func(ctx context.Context) error {
			_, err := s.ledger.Consume(ctx, item.StockUnit, holderRef)
			if errors.Is(err, domain.ErrReservationNotFound) && s.settledAs(ctx, item.StockUnit, holderRef, domain.ReservationConsumed) {
				return nil
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
			logger.Ctx(ctx).Error().Err(err).Str("order", order.OrderRef).Str("stock_unit", item.StockUnit.Key()).Msg("failed to consume reservation on confirm")
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm incomplete")
		return nil, err
	}

	if err := s.orders.UpdateState(ctx, order.OrderRef, domain.OrderConfirmed); err != nil {
		span.RecordError(err)
		return nil, err
	}
	order.State = domain.OrderConfirmed
	return order, nil
}

// CancelOrder 释放订单的全部预占并把订单标记为 CANCELLED。已失效的预占视为已释放。
func (s *CheckoutService) CancelOrder(ctx context.Context, holderRef string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder", trace.WithAttributes(attribute.String("holder", holderRef)))
	defer span.End()

	order, err := s.orders.FindByHolder(ctx, holderRef)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	switch order.State {
	case domain.OrderCancelled:
		return order, nil
	case domain.OrderConfirmed:
		return nil, fmt.Errorf("%w: order %s is already confirmed", domain.ErrInvalidCheckout, order.OrderRef)
	}

	// 确认中途失败的订单部分行已经售出，不能再取消，只能重试确认
	items := sortedItems(order.Items)
	for _, item := range items {
		if s.settledAs(ctx, item.StockUnit, holderRef, domain.ReservationConsumed) {
			err := fmt.Errorf("%w: order %s is partially confirmed on %s, retry confirm", domain.ErrInvalidCheckout, order.OrderRef, item.StockUnit)
			span.RecordError(err)
			return nil, err
		}
	}

	var errs []error
	for _, item := range items {
		err := s.locks.WithLock(ctx, item.StockUnit.LockKey(), s.opts.Lock, func(ctx context.Context) error {
			_, err := s.ledger.Release(ctx, item.StockUnit, holderRef)
			if errors.Is(err, domain.ErrReservationNotFound) {
				if s.settledAs(ctx, item.StockUnit, holderRef, domain.ReservationConsumed) {
					return fmt.Errorf("%w: %s was consumed while cancelling", domain.ErrInvalidCheckout, item.StockUnit)
				}
				return nil
			}
			return err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		span.RecordError(err)
		return nil, err
	}

	if err := s.orders.UpdateState(ctx, order.OrderRef, domain.OrderCancelled); err != nil {
		return nil, err
	}
	order.State = domain.OrderCancelled
	return order, nil
}

func (s *CheckoutService) settledAs(ctx context.Context, id domain.StockUnitID, holderRef string, status domain.ReservationStatus) bool {
	u, err := s.ledger.Inspect(ctx, id)
	if err != nil {
		return false
	}
	r, ok := u.LatestReservation(holderRef)
	return ok && r.Status == status
}

// CheckoutReview 只读的可用性预览，不加锁、不写入。
func (s *CheckoutService) CheckoutReview(ctx context.Context, items []domain.CheckoutLineItem) (*ReviewResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.CheckoutReview")
	defer span.End()

	normalized, err := domain.NormalizeLineItems(items)
	if err != nil {
		return nil, err
	}

	result := &ReviewResult{AllAvailable: true}
	for _, item := range normalized {
		line := ReviewLine{Item: item}
		u, err := s.ledger.Inspect(ctx, item.StockUnit)
		switch {
		case errors.Is(err, domain.ErrStockUnitNotFound):
			line.Status = "unknown"
		case err != nil:
			span.RecordError(err)
			return nil, err
		default:
			line.Available = u.AvailableStock
			line.Status = string(u.Status)
			line.Sufficient = u.Status == domain.UnitActive && u.AvailableStock >= item.Quantity
		}
		if !line.Sufficient {
			result.AllAvailable = false
		}
		result.Items = append(result.Items, line)
	}
	return result, nil
}

func sortedItems(items []domain.CheckoutLineItem) []domain.CheckoutLineItem {
	out, err := domain.NormalizeLineItems(items)
	if err != nil {
		return items
	}
	return out
}

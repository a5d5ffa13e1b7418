package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/domain/port"
)

// LedgerOptions 账本的可调参数。
type LedgerOptions struct {
	// CASRetries 条件写冲突时整体重试的次数上限。
	CASRetries int
	// PurgeAfter 终态预占保留多久后从列表中删除，<=0 表示不删除。
	PurgeAfter time.Duration
	Now        func() time.Time
}

// Ledger 库存账本。每个操作先惰性清扫过期预占，再以单文档条件写提交。
// 调用方负责持有对应库存单元的锁；条件写保证即使锁失效也不会丢失更新。
type Ledger struct {
	repo   domain.StockUnitRepository
	events port.EventPublisher
	alerts port.StockAlertRule
	tracer trace.Tracer
	opts   LedgerOptions
}

func NewLedger(repo domain.StockUnitRepository, events port.EventPublisher, alerts port.StockAlertRule, tracer trace.Tracer, opts LedgerOptions) *Ledger {
	if opts.CASRetries < 1 {
		opts.CASRetries = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{repo: repo, events: events, alerts: alerts, tracer: tracer, opts: opts}
}

// mutation 对库存单元副本的修改，返回需要发布的事件。
type mutation func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error)

// apply 读取 -> 修改副本 -> 校验不变量 -> 按版本条件写，版本冲突时整体重试。
// fn 返回错误时不写入任何内容；fn 为 nil 表示只做清扫，没有变化时不写入。
// 返回写入后的库存单元和本次被降级的过期预占。
func (l *Ledger) apply(ctx context.Context, op string, id domain.StockUnitID, fn mutation) (*domain.StockUnit, []domain.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("stock_unit", id.Key())))
	defer span.End()

	for attempt := 1; attempt <= l.opts.CASRetries; attempt++ {
		current, err := l.repo.Get(ctx, id)
		if err != nil {
			return nil, nil, l.fail(span, op, err)
		}

		now := l.opts.Now()
		next := current.Clone()
		expired := next.SweepExpired(now)

		var events []domain.InventoryEvent
		if fn != nil {
			events, err = fn(next, now)
			if err != nil {
				return nil, nil, l.fail(span, op, err)
			}
		}
		purged := next.Purge(now, l.opts.PurgeAfter)
		if fn == nil && len(expired) == 0 && purged == 0 {
			return current, nil, nil
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		if err := next.CheckInvariants(); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("stock_unit", id.Key()).Str("op", op).Msg("🚨 refusing write that breaks stock invariants")
			return nil, nil, l.fail(span, op, err)
		}

		err = l.repo.CompareAndSwap(ctx, next, current.Version)
		if errors.Is(err, domain.ErrVersionConflict) {
			metrics.LedgerConflicts.Inc()
			span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
			continue
		}
		if err != nil {
			return nil, nil, l.fail(span, op, err)
		}

		metrics.LedgerOperations.WithLabelValues(op, "ok").Inc()
		if len(expired) > 0 {
			metrics.ReservationsExpired.Add(float64(len(expired)))
			for _, r := range expired {
				events = append(events, domain.NewStockEvent(domain.EventExpired, next, r.HolderRef, r.Quantity, now))
			}
		}
		l.afterWrite(ctx, next, events)
		return next, expired, nil
	}

	err := fmt.Errorf("%w: %s gave up after %d attempts", domain.ErrVersionConflict, id, l.opts.CASRetries)
	return nil, nil, l.fail(span, op, err)
}

func (l *Ledger) fail(span trace.Span, op string, err error) error {
	result := "error"
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		result = "insufficient"
	case errors.Is(err, domain.ErrReservationNotFound):
		result = "not_found"
	case errors.Is(err, domain.ErrStockUnitNotFound):
		result = "unknown_unit"
	}
	metrics.LedgerOperations.WithLabelValues(op, result).Inc()
	span.RecordError(err)
	if result == "error" {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// afterWrite 发布事件并评估低库存规则，失败只记日志。
func (l *Ledger) afterWrite(ctx context.Context, u *domain.StockUnit, events []domain.InventoryEvent) {
	if l.alerts != nil {
		low, err := l.alerts.Evaluate(u.Snapshot())
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("stock_unit", u.ID.Key()).Msg("low stock rule evaluation failed")
		} else if low {
			evt := domain.NewStockEvent(domain.EventLowStock, u, "", 0, u.UpdatedAt)
			evt.Reason = fmt.Sprintf("available %d, reorder level %d", u.AvailableStock, u.ReorderLevel)
			events = append(events, evt)
		}
	}
	if l.events == nil || len(events) == 0 {
		return
	}
	if err := l.events.Publish(ctx, events...); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("stock_unit", u.ID.Key()).Int("events", len(events)).Msg("failed to publish inventory events")
	}
}

// Reserve 为 holderRef 预占 qty 件，有效期 ttl。可用库存不足时返回 ErrInsufficientStock 且不写入。
func (l *Ledger) Reserve(ctx context.Context, id domain.StockUnitID, qty int64, holderRef string, ttl time.Duration) (domain.Reservation, error) {
	var out domain.Reservation
	_, _, err := l.apply(ctx, "reserve", id, func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error) {
		r, err := u.Reserve(holderRef, qty, ttl, now)
		if err != nil {
			return nil, err
		}
		out = r
		return []domain.InventoryEvent{domain.NewStockEvent(domain.EventReserved, u, holderRef, qty, now)}, nil
	})
	return out, err
}

// Consume 把 holderRef 的有效预占转为已售。
func (l *Ledger) Consume(ctx context.Context, id domain.StockUnitID, holderRef string) (domain.Reservation, error) {
	var out domain.Reservation
	_, _, err := l.apply(ctx, "consume", id, func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error) {
		r, err := u.Consume(holderRef, now)
		if err != nil {
			return nil, err
		}
		out = r
		return []domain.InventoryEvent{domain.NewStockEvent(domain.EventConsumed, u, holderRef, r.Quantity, now)}, nil
	})
	return out, err
}

// Release 放弃 holderRef 的有效预占。
func (l *Ledger) Release(ctx context.Context, id domain.StockUnitID, holderRef string) (domain.Reservation, error) {
	var out domain.Reservation
	_, _, err := l.apply(ctx, "release", id, func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error) {
		r, err := u.Release(holderRef, now)
		if err != nil {
			return nil, err
		}
		out = r
		return []domain.InventoryEvent{domain.NewStockEvent(domain.EventReleased, u, holderRef, r.Quantity, now)}, nil
	})
	return out, err
}

// SweepExpired 幂等地降级过期预占，没有需要处理的内容时不写入。
func (l *Ledger) SweepExpired(ctx context.Context, id domain.StockUnitID) ([]domain.Reservation, error) {
	_, expired, err := l.apply(ctx, "sweep", id, nil)
	return expired, err
}

// Provision 创建新的库存单元。已存在时返回 ErrStockUnitExists。
func (l *Ledger) Provision(ctx context.Context, unit *domain.StockUnit) (*domain.StockUnit, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.provision", trace.WithAttributes(attribute.String("stock_unit", unit.ID.Key())))
	defer span.End()

	if err := unit.CheckInvariants(); err != nil {
		return nil, l.fail(span, "provision", err)
	}
	if err := l.repo.Insert(ctx, unit); err != nil {
		return nil, l.fail(span, "provision", err)
	}
	metrics.LedgerOperations.WithLabelValues("provision", "ok").Inc()
	l.afterWrite(ctx, unit, []domain.InventoryEvent{domain.NewStockEvent(domain.EventStockIn, unit, "", unit.TotalStock, unit.CreatedAt)})
	return unit, nil
}

// AdjustTotal 调整在库数量。movement 区分入库和人工调整。
func (l *Ledger) AdjustTotal(ctx context.Context, id domain.StockUnitID, delta int64, movement domain.MovementType, reason string) (*domain.StockUnit, error) {
	evtType := domain.EventAdjusted
	if movement == domain.MovementIn {
		evtType = domain.EventStockIn
	}
	u, _, err := l.apply(ctx, "adjust", id, func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error) {
		if err := u.AdjustTotal(delta, movement, reason, now); err != nil {
			return nil, err
		}
		evt := domain.NewStockEvent(evtType, u, "", delta, now)
		evt.Reason = reason
		return []domain.InventoryEvent{evt}, nil
	})
	return u, err
}

// UpdateAttributes 修改状态、阈值等非计数字段。
func (l *Ledger) UpdateAttributes(ctx context.Context, id domain.StockUnitID, change func(u *domain.StockUnit, now time.Time) error) (*domain.StockUnit, error) {
	u, _, err := l.apply(ctx, "update", id, func(u *domain.StockUnit, now time.Time) ([]domain.InventoryEvent, error) {
		if err := change(u, now); err != nil {
			return nil, err
		}
		evt := domain.NewStockEvent(domain.EventStatusChanged, u, "", 0, now)
		evt.Reason = string(u.Status)
		return []domain.InventoryEvent{evt}, nil
	})
	return u, err
}

// Inspect 返回惰性清扫后的只读视图，不写入。
func (l *Ledger) Inspect(ctx context.Context, id domain.StockUnitID) (*domain.StockUnit, error) {
	u, err := l.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.View(l.opts.Now()), nil
}

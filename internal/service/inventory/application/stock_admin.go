package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

// StockAdminService 入库、盘点调整和状态变更，全部在库存单元锁内执行。
type StockAdminService struct {
	locks    *LockCoordinator
	ledger   *Ledger
	lockOpts domain.LockOptions
	tracer   trace.Tracer
	now      func() time.Time
}

func NewStockAdminService(locks *LockCoordinator, ledger *Ledger, lockOpts domain.LockOptions, tracer trace.Tracer, now func() time.Time) *StockAdminService {
	if now == nil {
		now = time.Now
	}
	return &StockAdminService{locks: locks, ledger: ledger, lockOpts: lockOpts, tracer: tracer, now: now}
}

// StockIn 入库：库存单元不存在时创建，存在时增加在库数量。
func (s *StockAdminService) StockIn(ctx context.Context, req StockInRequest) (*domain.StockUnit, error) {
	ctx, span := s.tracer.Start(ctx, "admin.StockIn", trace.WithAttributes(
		attribute.String("stock_unit", req.StockUnit.Key()),
		attribute.Int64("quantity", req.Quantity),
	))
	defer span.End()

	if err := req.StockUnit.Validate(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, req.Quantity)
	}

	var out *domain.StockUnit
	err := s.locks.WithLock(ctx, req.StockUnit.LockKey(), s.lockOpts, func(ctx context.Context) error {
		u, err := s.ledger.AdjustTotal(ctx, req.StockUnit, req.Quantity, domain.MovementIn, "stock in")
		if !errors.Is(err, domain.ErrStockUnitNotFound) {
			out = u
			return err
		}

		unit, err := domain.NewStockUnit(req.StockUnit, req.Quantity, s.now())
		if err != nil {
			return err
		}
		unit.WarehouseName = req.WarehouseName
		unit.Location = req.Location
		unit.MinStockLevel = req.MinStockLevel
		unit.MaxStockLevel = req.MaxStockLevel
		unit.ReorderLevel = req.ReorderLevel
		out, err = s.ledger.Provision(ctx, unit)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("stock_unit", req.StockUnit.Key()).Int64("quantity", req.Quantity).Int64("total", out.TotalStock).Msg("stock in")
	return out, nil
}

// AdjustStock 盘点调整，结果低于当前预占量时拒绝。
func (s *StockAdminService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*domain.StockUnit, error) {
	ctx, span := s.tracer.Start(ctx, "admin.AdjustStock", trace.WithAttributes(
		attribute.String("stock_unit", req.StockUnit.Key()),
		attribute.Int64("delta", req.Delta),
	))
	defer span.End()

	movement := domain.MovementAdjustment
	if req.Delta < 0 {
		movement = domain.MovementOut
	}
	var out *domain.StockUnit
	err := s.locks.WithLock(ctx, req.StockUnit.LockKey(), s.lockOpts, func(ctx context.Context) error {
		u, err := s.ledger.AdjustTotal(ctx, req.StockUnit, req.Delta, movement, req.Reason)
		out = u
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// SetStatus 停用或冻结的库存单元不再接受新的预占。
func (s *StockAdminService) SetStatus(ctx context.Context, req SetStatusRequest) (*domain.StockUnit, error) {
	ctx, span := s.tracer.Start(ctx, "admin.SetStatus", trace.WithAttributes(
		attribute.String("stock_unit", req.StockUnit.Key()),
		attribute.String("status", string(req.Status)),
	))
	defer span.End()

	var out *domain.StockUnit
	err := s.locks.WithLock(ctx, req.StockUnit.LockKey(), s.lockOpts, func(ctx context.Context) error {
		u, err := s.ledger.UpdateAttributes(ctx, req.StockUnit, func(u *domain.StockUnit, now time.Time) error {
			return u.SetStatus(req.Status, req.Reason, now)
		})
		out = u
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// Inspect 查询库存单元当前视图。
func (s *StockAdminService) Inspect(ctx context.Context, id domain.StockUnitID) (*domain.StockUnit, error) {
	return s.ledger.Inspect(ctx, id)
}

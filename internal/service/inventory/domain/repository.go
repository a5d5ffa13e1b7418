package domain

import (
	"context"
	"time"
)

// StockUnitRepository 库存单元的持久化。所有写入都是针对单个文档的条件写。
type StockUnitRepository interface {
	Get(ctx context.Context, id StockUnitID) (*StockUnit, error)
	// Insert 库存单元已存在时返回 ErrStockUnitExists。
	Insert(ctx context.Context, unit *StockUnit) error
	// CompareAndSwap 仅当存储中的 version 等于 expectedVersion 时整体替换，否则返回 ErrVersionConflict。
	CompareAndSwap(ctx context.Context, unit *StockUnit, expectedVersion int64) error
	// FindWithExpiredReservations 返回持有 expires_at <= now 的 active 预占的库存单元。
	FindWithExpiredReservations(ctx context.Context, now time.Time, limit int) ([]StockUnitID, error)
}

// OrderRepository 订单记录的持久化（外部协作方）。
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByHolder(ctx context.Context, holderRef string) (*Order, error)
	UpdateState(ctx context.Context, orderRef string, state OrderState) error
}

package port

import (
	"context"

	"nexus-stock/internal/service/inventory/domain"
)

// EventPublisher 发布库存事件。调用方把发布失败当作可忽略的错误记录日志。
type EventPublisher interface {
	Publish(ctx context.Context, events ...domain.InventoryEvent) error
}

// StockAlertRule 判断一次写入后的库存单元是否需要低库存告警。
type StockAlertRule interface {
	Evaluate(snapshot domain.StockSnapshot) (bool, error)
}

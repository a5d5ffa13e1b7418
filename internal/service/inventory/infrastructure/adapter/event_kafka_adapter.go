package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/mq"
	"nexus-stock/internal/service/inventory/domain"
)

// EventKafkaAdapter 实现了 port.EventPublisher 接口。
// 普通库存事件写入事件 topic，补偿失败写入对账 topic。
type EventKafkaAdapter struct {
	events         *kafka.Writer
	reconciliation *kafka.Writer
}

func NewEventKafkaAdapter(events, reconciliation *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{events: events, reconciliation: reconciliation}
}

// Publish 按 topic 分组后批量写入，key 为库存单元 Key 保证同一单元的事件有序。
func (a *EventKafkaAdapter) Publish(ctx context.Context, events ...domain.InventoryEvent) error {
	var regular, recon []kafka.Message
	for _, evt := range events {
		value, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to marshal inventory event: %w", err)
		}
		msg := kafka.Message{Key: []byte(evt.PartitionKey()), Value: value}
		mq.InjectTraceContext(ctx, &msg.Headers)
		if evt.Type == domain.EventCompensationFailed {
			recon = append(recon, msg)
		} else {
			regular = append(regular, msg)
		}
	}

	var errs []error
	if len(regular) > 0 {
		errs = append(errs, a.events.WriteMessages(ctx, regular...))
	}
	if len(recon) > 0 {
		errs = append(errs, a.reconciliation.WriteMessages(ctx, recon...))
	}
	return errors.Join(errs...)
}

// Close 关闭底层的 Kafka writer。
func (a *EventKafkaAdapter) Close() error {
	return errors.Join(a.events.Close(), a.reconciliation.Close())
}

package interfaces

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
)

// reconciler 是 *application.CheckoutService 的对账能力
type reconciler interface {
	Reconcile(ctx context.Context, evt domain.InventoryEvent) error
}

// ReconciliationConsumer 重试补偿失败遗留的预占释放，多次失败后移交死信队列等待人工处理。
type ReconciliationConsumer struct {
	reader   messageReader
	svc      reconciler
	failures failureSink
	attempts int
	backoff  time.Duration
}

func NewReconciliationConsumer(reader messageReader, svc reconciler, failures failureSink) *ReconciliationConsumer {
	return &ReconciliationConsumer{reader: reader, svc: svc, failures: failures, attempts: 5, backoff: 500 * time.Millisecond}
}

// SetRetry 调整单条消息的重试次数和首次退避
func (c *ReconciliationConsumer) SetRetry(attempts int, backoff time.Duration) {
	if attempts > 0 {
		c.attempts = attempts
	}
	c.backoff = backoff
}

func (c *ReconciliationConsumer) Run(ctx context.Context) {
	consumeLoop(ctx, c.reader, c.failures, c.processMessage)
}

func (c *ReconciliationConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var evt domain.InventoryEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return err
	}

	delay := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err = c.svc.Reconcile(ctx, evt); err == nil {
			return nil
		}
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("holder", evt.HolderRef).Str("stock_unit", evt.StockUnit.Key()).Msg("reconciliation attempt failed")
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

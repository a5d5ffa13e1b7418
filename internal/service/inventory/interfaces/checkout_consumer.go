package interfaces

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

// CheckoutConsumer 消费结账请求 topic，驱动结账编排。
// ABORTED 是正常业务结果；只有无法处理的消息才进入死信队列。
type CheckoutConsumer struct {
	reader   messageReader
	checkout *application.CheckoutService
	failures failureSink
}

func NewCheckoutConsumer(reader messageReader, checkout *application.CheckoutService, failures failureSink) *CheckoutConsumer {
	return &CheckoutConsumer{reader: reader, checkout: checkout, failures: failures}
}

// Run 阻塞直到 ctx 取消
func (c *CheckoutConsumer) Run(ctx context.Context) {
	consumeLoop(ctx, c.reader, c.failures, c.processMessage)
}

func (c *CheckoutConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var req application.CheckoutRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return err
	}
	if req.HolderRef == "" {
		req.HolderRef = string(msg.Key)
	}

	result, err := c.checkout.OrderByUser(ctx, req.HolderRef, req.Items)
	if errors.Is(err, domain.ErrPartialCommitFailure) {
		// 已经投递到对账队列，这里不再重复移交
		return nil
	}
	if err != nil {
		return err
	}
	logger.Ctx(ctx).Info().
		Str("holder", result.HolderRef).
		Str("status", string(result.Status)).
		Str("reason", string(result.Reason)).
		Str("order", result.OrderRef).
		Msg("checkout request processed")
	return nil
}

package interfaces

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/pkg/mq"
	"nexus-stock/internal/service/inventory/domain"
)

// DltConsumer 读回死信队列，按来源计数并输出需要人工处理的信息。
// 死信只记录不重放，每条消息都直接提交。
type DltConsumer struct {
	reader messageReader
}

func NewDltConsumer(reader messageReader) *DltConsumer {
	return &DltConsumer{reader: reader}
}

func (a *DltConsumer) Run(ctx context.Context) {
	consumeLoop(ctx, a.reader, nil, func(ctx context.Context, msg kafka.Message) error {
		dl := mq.ParseDeadLetter(msg)
		metrics.DeadLetters.WithLabelValues(dl.OriginalTopic).Inc()
		deadLetterLog(ctx, dl, msg).Msg("🚨 CRITICAL: dead letter received")
		return nil
	})
}

// deadLetterLog 补偿失败事件进了死信说明预占只能等过期回收，把单元和持有者单独列出来。
func deadLetterLog(ctx context.Context, dl mq.DeadLetter, msg kafka.Message) *zerolog.Event {
	e := logger.Ctx(ctx).Error().
		Str("original_topic", dl.OriginalTopic).
		Int("original_partition", dl.OriginalPartition).
		Int64("original_offset", dl.OriginalOffset).
		Str("error_type", dl.ErrorType).
		Str("error", dl.ErrorMessage).
		Str("key", string(msg.Key))

	var evt domain.InventoryEvent
	if json.Unmarshal(msg.Value, &evt) == nil && evt.Type == domain.EventCompensationFailed {
		return e.Str("stock_unit", evt.StockUnit.Key()).
			Str("holder", evt.HolderRef).
			Int64("quantity", evt.Quantity).
			Bool("manual_release", true)
	}
	return e.Str("value", string(msg.Value))
}

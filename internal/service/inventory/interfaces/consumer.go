package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/mq"
)

// messageReader 是 *kafka.Reader 用到的子集
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// failureSink 处理失败的消息交给它，通常是 *mq.FailureHandler
type failureSink interface {
	Handle(ctx context.Context, msg kafka.Message, procErr error)
}

// consumeLoop 拉取 -> 恢复链路 -> 处理 -> 失败移交 -> 提交，直到 ctx 取消。
func consumeLoop(ctx context.Context, reader messageReader, failures failureSink, process func(ctx context.Context, msg kafka.Message) error) {
	topic := reader.Config().Topic
	logger.Ctx(ctx).Info().Str("topic", topic).Msg("✅ Kafka consumer started")
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("topic", topic).Msg("failed to close reader")
		}
		logger.Ctx(ctx).Info().Str("topic", topic).Msg("🛑 Kafka consumer stopped")
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("could not read message, retrying")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if procErr := process(msgCtx, msg); procErr != nil && failures != nil {
			failures.Handle(msgCtx, msg, procErr)
		}

		// 无论成功或失败（已移交），都提交 offset
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Ctx(ctx).Error().Err(err).Str("topic", topic).Msg("failed to commit message")
		}
	}
}

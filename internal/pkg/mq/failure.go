package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"nexus-stock/internal/pkg/logger"
)

// 死信消息头，记录消息来源和失败原因。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 把处理失败的消息转发到死信队列。
type FailureHandler struct {
	dltWriter *kafka.Writer
}

func NewFailureHandler(dltWriter *kafka.Writer) *FailureHandler {
	return &FailureHandler{dltWriter: dltWriter}
}

// Handle 写入 DLT；写入失败只记录日志，由调用方决定是否提交 offset。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, procErr error) {
	if h == nil || h.dltWriter == nil {
		logger.Ctx(ctx).Error().Err(procErr).Str("topic", msg.Topic).Msg("no DLT writer configured, dropping failed message")
		return
	}

	dltMsg := kafka.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: DeadLetterHeaders(msg, procErr),
	}
	InjectTraceContext(ctx, &dltMsg.Headers)

	if err := h.dltWriter.WriteMessages(ctx, dltMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Int64("original_offset", msg.Offset).
			Msg("🚨 failed to forward message to DLT")
		return
	}
	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Str("dlt_topic", h.dltWriter.Topic).
		Err(procErr).
		Msg("message forwarded to DLT")
}

// DeadLetterHeaders 在原消息头基础上追加来源和异常信息。
func DeadLetterHeaders(msg kafka.Message, procErr error) []kafka.Header {
	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", procErr))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(errString(procErr))},
	)
	return headers
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// DeadLetter 从死信消息头还原的来源信息
type DeadLetter struct {
	OriginalTopic     string
	OriginalPartition int
	OriginalOffset    int64
	ErrorType         string
	ErrorMessage      string
}

// ParseDeadLetter 解析 DeadLetterHeaders 写入的头。缺失或非数字的位置信息记为 -1。
func ParseDeadLetter(msg kafka.Message) DeadLetter {
	dl := DeadLetter{OriginalPartition: -1, OriginalOffset: -1}
	for _, h := range msg.Headers {
		v := string(h.Value)
		switch h.Key {
		case HeaderOriginalTopic:
			dl.OriginalTopic = v
		case HeaderOriginalPartition:
			if p, err := strconv.Atoi(v); err == nil {
				dl.OriginalPartition = p
			}
		case HeaderOriginalOffset:
			if o, err := strconv.ParseInt(v, 10, 64); err == nil {
				dl.OriginalOffset = o
			}
		case HeaderExceptionFqcn:
			dl.ErrorType = v
		case HeaderExceptionMessage:
			dl.ErrorMessage = v
		}
	}
	return dl
}

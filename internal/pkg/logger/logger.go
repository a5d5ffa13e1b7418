// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 初始化全局 zerolog 实例，所有服务启动时调用一次。
func Init(serviceName, level string) {
	InitWithWriter(os.Stdout, serviceName, level)
}

// InitWithWriter 允许测试把日志重定向到自定义 writer。
func InitWithWriter(w io.Writer, serviceName, level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 返回带有 trace_id / span_id 的 logger，用于把日志和链路关联起来。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := log.Logger
	if ctx == nil {
		return &l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &l
	}
	l = l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &l
}

package application

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/domain/port"
)

// LockCoordinator 基于协调存储的 TTL 互斥锁。
// 等待只发生在两次尝试之间的定时器上，不做忙等。
type LockCoordinator struct {
	store    port.LockStore
	tracer   trace.Tracer
	newToken func() string
	now      func() time.Time
}

func NewLockCoordinator(store port.LockStore, tracer trace.Tracer) *LockCoordinator {
	return &LockCoordinator{
		store:    store,
		tracer:   tracer,
		newToken: func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

// Acquire 最多尝试 opts.MaxRetries 次，全部失败返回 ErrLockTimeout；ctx 先结束时返回 ctx.Err()。
func (c *LockCoordinator) Acquire(ctx context.Context, key string, opts domain.LockOptions) (*domain.Lock, error) {
	ctx, span := c.tracer.Start(ctx, "lock.Acquire", trace.WithAttributes(
		attribute.String("lock.key", key),
		attribute.Int64("lock.ttl_ms", opts.TTL.Milliseconds()),
		attribute.Int("lock.max_retries", opts.MaxRetries),
	))
	defer span.End()

	if opts.TTL <= 0 || opts.MaxRetries < 1 {
		err := fmt.Errorf("invalid lock options: ttl=%s retries=%d", opts.TTL, opts.MaxRetries)
		span.RecordError(err)
		return nil, err
	}

	token := c.newToken()
	start := time.Now()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		ok, err := c.store.SetIfAbsent(ctx, key, token, opts.TTL)
		if err != nil {
			metrics.LockAcquisitions.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "lock store unavailable")
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			metrics.LockAcquisitions.WithLabelValues("acquired").Inc()
			metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
			span.SetAttributes(attribute.Int("lock.attempts", attempt))
			return &domain.Lock{ResourceKey: key, Token: token, TTL: opts.TTL, AcquiredAt: c.now()}, nil
		}
		if attempt == opts.MaxRetries {
			break
		}

		if timer == nil {
			timer = time.NewTimer(opts.RetryDelay)
		} else {
			timer.Reset(opts.RetryDelay)
		}
		select {
		case <-ctx.Done():
			metrics.LockAcquisitions.WithLabelValues("cancelled").Inc()
			span.RecordError(ctx.Err())
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	metrics.LockAcquisitions.WithLabelValues("timeout").Inc()
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	span.AddEvent("lock timeout")
	logger.Ctx(ctx).Info().Str("key", key).Int("attempts", opts.MaxRetries).Msg("lock acquisition timed out")
	return nil, fmt.Errorf("%w: %s after %d attempts", domain.ErrLockTimeout, key, opts.MaxRetries)
}

// Release 原子地比较 token 后删除。锁已过期或已被他人持有时返回 ErrLockNotHeld，不会误删。
func (c *LockCoordinator) Release(ctx context.Context, lock *domain.Lock) error {
	if lock == nil {
		return domain.ErrLockNotHeld
	}
	ctx, span := c.tracer.Start(ctx, "lock.Release", trace.WithAttributes(attribute.String("lock.key", lock.ResourceKey)))
	defer span.End()

	deleted, err := c.store.CompareAndDelete(ctx, lock.ResourceKey, lock.Token)
	if err != nil {
		metrics.LockReleases.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock store unavailable")
		return fmt.Errorf("release %s: %w", lock.ResourceKey, err)
	}
	if !deleted {
		metrics.LockReleases.WithLabelValues("not_held").Inc()
		span.AddEvent("lock not held")
		return fmt.Errorf("%w: %s", domain.ErrLockNotHeld, lock.ResourceKey)
	}
	metrics.LockReleases.WithLabelValues("released").Inc()
	return nil
}

// WithLock 在持有 key 的锁期间执行 fn，结束后释放。释放失败只记录日志。
func (c *LockCoordinator) WithLock(ctx context.Context, key string, opts domain.LockOptions, fn func(ctx context.Context) error) error {
	lock, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := c.Release(context.WithoutCancel(ctx), lock); relErr != nil {
			logger.Ctx(ctx).Warn().Err(relErr).Str("key", key).Msg("lock was not held at release, it expired during the critical section")
		}
	}()
	return fn(ctx)
}

package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/service/inventory/domain"
)

type SweeperOptions struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
	Now         func() time.Time
}

// ExpirySweeper 后台周期性回收过期预占。正确性不依赖它：每次账本操作都会先惰性清扫。
type ExpirySweeper struct {
	repo   domain.StockUnitRepository
	ledger *Ledger
	tracer trace.Tracer
	opts   SweeperOptions
}

func NewExpirySweeper(repo domain.StockUnitRepository, ledger *Ledger, tracer trace.Tracer, opts SweeperOptions) *ExpirySweeper {
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ExpirySweeper{repo: repo, ledger: ledger, tracer: tracer, opts: opts}
}

// SweepReport 一次清扫的统计。
type SweepReport struct {
	Units   int `json:"units"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// Run 按固定间隔清扫，直到 ctx 取消。
func (s *ExpirySweeper) Run(ctx context.Context) {
	logger.Ctx(ctx).Info().Dur("interval", s.opts.Interval).Int("batch", s.opts.BatchSize).Msg("✅ expiry sweeper started")
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("sweep pass failed")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 expiry sweeper stopped")
			return
		}
	}
}

// SweepOnce 处理一批持有过期预占的库存单元。单元之间并发，单个失败不影响其他单元。
func (s *ExpirySweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	ctx, span := s.tracer.Start(ctx, "sweeper.SweepOnce")
	defer span.End()

	ids, err := s.repo.FindWithExpiredReservations(ctx, s.opts.Now(), s.opts.BatchSize)
	if err != nil {
		metrics.SweepPasses.WithLabelValues("error").Inc()
		span.RecordError(err)
		return SweepReport{}, err
	}

	var expired, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			swept, err := s.ledger.SweepExpired(gctx, id)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed.Add(1)
				logger.Ctx(gctx).Warn().Err(err).Str("stock_unit", id.Key()).Msg("failed to sweep stock unit")
				return nil
			}
			expired.Add(int64(len(swept)))
			return nil
		})
	}
	waitErr := g.Wait()

	report := SweepReport{Units: len(ids), Expired: int(expired.Load()), Failed: int(failed.Load())}
	span.SetAttributes(
		attribute.Int("sweep.units", report.Units),
		attribute.Int("sweep.expired", report.Expired),
		attribute.Int("sweep.failed", report.Failed),
	)
	if waitErr != nil {
		metrics.SweepPasses.WithLabelValues("cancelled").Inc()
		return report, waitErr
	}
	metrics.SweepPasses.WithLabelValues("ok").Inc()
	if report.Expired > 0 {
		logger.Ctx(ctx).Info().Int("units", report.Units).Int("expired", report.Expired).Msg("expired reservations reclaimed")
	}
	return report, nil
}

// SweepUnit 立即清扫指定库存单元，供管理接口使用。
func (s *ExpirySweeper) SweepUnit(ctx context.Context, id domain.StockUnitID) (SweepReport, error) {
	swept, err := s.ledger.SweepExpired(ctx, id)
	if err != nil {
		return SweepReport{}, err
	}
	return SweepReport{Units: 1, Expired: len(swept)}, nil
}

package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/domain"
)

func TestSweepOnceReclaimsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []domain.StockUnitID{unitA, unitB, unitC} {
		h.seed(t, id, 5)
	}
	_, err := h.ledger.Reserve(ctx, unitA, 2, "old", time.Minute)
	require.NoError(t, err)
	_, err = h.ledger.Reserve(ctx, unitB, 1, "old", time.Minute)
	require.NoError(t, err)
	_, err = h.ledger.Reserve(ctx, unitC, 1, "fresh", time.Hour)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	report, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Units: 2, Expired: 2}, report)

	assert.Equal(t, int64(5), h.unit(t, unitA).AvailableStock)
	assert.Equal(t, int64(5), h.unit(t, unitB).AvailableStock)
	assert.Equal(t, int64(1), h.unit(t, unitC).ReservedStock)
	assert.Len(t, h.events.OfType(domain.EventExpired), 2)

	report, err = h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)
}

func TestSweepOnceRespectsBatchSize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sweeper = NewExpirySweeper(h.repo, h.ledger, h.ledger.tracer, SweeperOptions{BatchSize: 1, Now: h.clock.Now})
	h.seed(t, unitA, 1)
	h.seed(t, unitB, 1)
	for _, id := range []domain.StockUnitID{unitA, unitB} {
		_, err := h.ledger.Reserve(ctx, id, 1, "old", time.Minute)
		require.NoError(t, err)
	}
	h.clock.Advance(time.Hour)

	report, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Units)
	report, err = h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Units)
	report, err = h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Units)
}

func TestSweepFailureOnOneUnitDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 1)
	h.seed(t, unitB, 1)
	for _, id := range []domain.StockUnitID{unitA, unitB} {
		_, err := h.ledger.Reserve(ctx, id, 1, "old", time.Minute)
		require.NoError(t, err)
	}
	h.clock.Advance(time.Hour)

	// unitA 的每次条件写都冲突
	var hook func(id domain.StockUnitID)
	hook = func(id domain.StockUnitID) {
		if id != unitA {
			return
		}
		h.repo.BeforeSwap = nil
		defer func() { h.repo.BeforeSwap = hook }()
		u, _ := h.repo.Get(ctx, id)
		expected := u.Version
		u.Version++
		_ = h.repo.CompareAndSwap(ctx, u, expected)
	}
	h.repo.BeforeSwap = hook
	h.sweeper = NewExpirySweeper(h.repo, h.ledger, h.ledger.tracer, SweeperOptions{Concurrency: 1, Now: h.clock.Now})

	report, err := h.sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Units: 2, Expired: 1, Failed: 1}, report)
	assert.Equal(t, int64(1), h.unit(t, unitB).AvailableStock)
}

func TestSweepUnit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 3)
	_, err := h.ledger.Reserve(ctx, unitA, 3, "old", time.Minute)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)

	report, err := h.sweeper.SweepUnit(ctx, unitA)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	_, err = h.sweeper.SweepUnit(ctx, unitB)
	assert.ErrorIs(t, err, domain.ErrStockUnitNotFound)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.sweeper = NewExpirySweeper(h.repo, h.ledger, h.ledger.tracer, SweeperOptions{Interval: 5 * time.Millisecond, Now: h.clock.Now})
	h.seed(t, unitA, 1)
	_, err := h.ledger.Reserve(context.Background(), unitA, 1, "old", time.Minute)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return h.unit(t, unitA).AvailableStock == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

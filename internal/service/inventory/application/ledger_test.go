package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"nexus-stock/internal/service/inventory/domain"
)

func TestLedgerReserveConsumeRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 10)

	_, err := h.ledger.Reserve(ctx, unitA, 4, "order-1", time.Minute)
	require.NoError(t, err)
	_, err = h.ledger.Reserve(ctx, unitA, 2, "cart-2", time.Minute)
	require.NoError(t, err)

	u := h.unit(t, unitA)
	assert.Equal(t, int64(6), u.ReservedStock)
	assert.Equal(t, int64(4), u.AvailableStock)
	assert.Equal(t, int64(2), u.Version)

	r, err := h.ledger.Consume(ctx, unitA, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Quantity)
	_, err = h.ledger.Release(ctx, unitA, "cart-2")
	require.NoError(t, err)

	u = h.unit(t, unitA)
	assert.Equal(t, int64(6), u.TotalStock)
	assert.Equal(t, int64(4), u.SoldStock)
	assert.Equal(t, int64(6), u.AvailableStock)
	assert.Equal(t, int64(0), u.ReservedStock)

	assert.Len(t, h.events.OfType(domain.EventReserved), 2)
	assert.Len(t, h.events.OfType(domain.EventConsumed), 1)
	assert.Len(t, h.events.OfType(domain.EventReleased), 1)
}

func TestLedgerFailedReserveWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.seed(t, unitA, 1)

	_, err := h.ledger.Reserve(context.Background(), unitA, 2, "cart", time.Minute)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, int64(0), h.unit(t, unitA).Version)
	assert.Empty(t, h.events.Events())

	_, err = h.ledger.Reserve(context.Background(), unitB, 1, "cart", time.Minute)
	assert.ErrorIs(t, err, domain.ErrStockUnitNotFound)
}

func TestLedgerSelfHealsExpiredReservations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 3)

	_, err := h.ledger.Reserve(ctx, unitA, 3, "abandoned", time.Minute)
	require.NoError(t, err)
	_, err = h.ledger.Reserve(ctx, unitA, 1, "late", time.Minute)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	// 没有清扫器运行，下一次操作自己回收过期预占
	h.clock.Advance(time.Minute)
	_, err = h.ledger.Reserve(ctx, unitA, 3, "late", time.Minute)
	require.NoError(t, err)

	expired := h.events.OfType(domain.EventExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "abandoned", expired[0].HolderRef)
	assert.Equal(t, int64(3), expired[0].Quantity)
}

func TestLedgerSweepWithoutChangesDoesNotWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 3)
	_, err := h.ledger.Reserve(ctx, unitA, 1, "cart", time.Minute)
	require.NoError(t, err)

	swept, err := h.ledger.SweepExpired(ctx, unitA)
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.Equal(t, int64(1), h.unit(t, unitA).Version)

	h.clock.Advance(2 * time.Minute)
	swept, err = h.ledger.SweepExpired(ctx, unitA)
	require.NoError(t, err)
	assert.Len(t, swept, 1)
	assert.Equal(t, int64(2), h.unit(t, unitA).Version)

	swept, err = h.ledger.SweepExpired(ctx, unitA)
	require.NoError(t, err)
	assert.Empty(t, swept)
	assert.Equal(t, int64(2), h.unit(t, unitA).Version)
}

func TestLedgerRetriesOnVersionConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 5)

	var interfered atomic.Bool
	h.repo.BeforeSwap = func(id domain.StockUnitID) {
		if !interfered.CompareAndSwap(false, true) {
			return
		}
		// 另一个写入者抢先占走 3 件
		u, err := h.repo.Get(ctx, id)
		require.NoError(t, err)
		_, err = u.Reserve("other", 3, time.Minute, h.clock.Now())
		require.NoError(t, err)
		expected := u.Version
		u.Version++
		require.NoError(t, h.repo.CompareAndSwap(ctx, u, expected))
	}

	_, err := h.ledger.Reserve(ctx, unitA, 3, "mine", time.Minute)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock, "retry must re-read and see the competing claim")

	u := h.unit(t, unitA)
	assert.Equal(t, int64(3), u.ReservedStock)
	assert.NoError(t, u.CheckInvariants())
}

func TestLedgerGivesUpAfterBoundedConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 5)

	conflicts := 0
	h.repo.BeforeSwap = func(id domain.StockUnitID) {
		conflicts++
		hook := h.repo.BeforeSwap
		h.repo.BeforeSwap = nil
		u, _ := h.repo.Get(ctx, id)
		expected := u.Version
		u.Version++
		_ = h.repo.CompareAndSwap(ctx, u, expected)
		h.repo.BeforeSwap = hook
	}

	_, err := h.ledger.Reserve(ctx, unitA, 1, "cart", time.Minute)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
	assert.Equal(t, 5, conflicts)
}

func TestLedgerNoOversellUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	h.seed(t, unitA, 10)
	opts := domain.LockOptions{TTL: time.Minute, MaxRetries: 100000, RetryDelay: 50 * time.Microsecond}

	var ok, insufficient atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := "cart-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
			err := h.locks.WithLock(context.Background(), unitA.LockKey(), opts, func(ctx context.Context) error {
				_, err := h.ledger.Reserve(ctx, unitA, 1, holder, time.Minute)
				return err
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(40), insufficient.Load())
	u := h.unit(t, unitA)
	assert.Equal(t, int64(10), u.ReservedStock)
	assert.Equal(t, int64(0), u.AvailableStock)
	assert.NoError(t, u.CheckInvariants())
}

func TestLedgerCASAloneNeverOversells(t *testing.T) {
	h := newHarness(t)
	h.seed(t, unitA, 5)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := "h" + string(rune('A'+i))
			if _, err := h.ledger.Reserve(context.Background(), unitA, 1, holder, time.Minute); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	u := h.unit(t, unitA)
	assert.LessOrEqual(t, ok.Load(), int32(5))
	assert.Equal(t, int64(ok.Load()), u.ReservedStock)
	assert.NoError(t, u.CheckInvariants())
}

type stubAlert struct{ low bool }

func (s stubAlert) Evaluate(domain.StockSnapshot) (bool, error) { return s.low, nil }

func TestLedgerEmitsLowStockEvent(t *testing.T) {
	h := newHarness(t)
	h.ledger = NewLedger(h.repo, h.events, stubAlert{low: true}, noop.NewTracerProvider().Tracer("test"), LedgerOptions{Now: h.clock.Now})
	h.seed(t, unitA, 2)

	_, err := h.ledger.Reserve(context.Background(), unitA, 1, "cart", time.Minute)
	require.NoError(t, err)
	low := h.events.OfType(domain.EventLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, int64(1), low[0].Available)
}

func TestLedgerInspectIsReadOnly(t *testing.T) {
	h := newHarness(t)
	h.seed(t, unitA, 2)
	_, err := h.ledger.Reserve(context.Background(), unitA, 2, "cart", time.Minute)
	require.NoError(t, err)
	h.clock.Advance(time.Hour)

	v, err := h.ledger.Inspect(context.Background(), unitA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.AvailableStock)
	assert.Equal(t, int64(1), h.unit(t, unitA).Version)
	assert.Equal(t, domain.ReservationActive, h.unit(t, unitA).Reservations[0].Status)
}

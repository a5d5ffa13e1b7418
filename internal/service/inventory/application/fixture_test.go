package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/infrastructure/memory"
)

var (
	unitA = domain.StockUnitID{ProductID: "p1", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}
	unitB = domain.StockUnitID{ProductID: "p2", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}
	unitC = domain.StockUnitID{ProductID: "p3", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var testLockOptions = domain.LockOptions{TTL: 3 * time.Second, MaxRetries: 5, RetryDelay: time.Millisecond}

// harness 全部使用内存实现和可控时钟
type harness struct {
	clock     *fakeClock
	lockStore *memory.LockStore
	repo      *memory.StockUnitRepository
	orders    *memory.OrderRepository
	events    *memory.EventRecorder

	locks    *LockCoordinator
	ledger   *Ledger
	checkout *CheckoutService
	admin    *StockAdminService
	sweeper  *ExpirySweeper
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	h := &harness{
		clock:  newFakeClock(),
		repo:   memory.NewStockUnitRepository(),
		orders: memory.NewOrderRepository(),
		events: memory.NewEventRecorder(),
	}
	h.lockStore = memory.NewLockStore(h.clock.Now)
	h.locks = NewLockCoordinator(h.lockStore, tracer)
	h.locks.now = h.clock.Now
	h.ledger = NewLedger(h.repo, h.events, nil, tracer, LedgerOptions{CASRetries: 5, PurgeAfter: 24 * time.Hour, Now: h.clock.Now})
	h.checkout = NewCheckoutService(h.locks, h.ledger, h.orders, h.events, tracer, CheckoutOptions{
		Lock:           testLockOptions,
		ReservationTTL: 15 * time.Minute,
		Timeout:        5 * time.Second,
		Now:            h.clock.Now,
	})
	h.admin = NewStockAdminService(h.locks, h.ledger, testLockOptions, tracer, h.clock.Now)
	h.sweeper = NewExpirySweeper(h.repo, h.ledger, tracer, SweeperOptions{Interval: time.Hour, BatchSize: 10, Concurrency: 4, Now: h.clock.Now})
	return h
}

func (h *harness) seed(t *testing.T, id domain.StockUnitID, total int64) {
	t.Helper()
	u, err := domain.NewStockUnit(id, total, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.repo.Insert(context.Background(), u))
}

func (h *harness) unit(t *testing.T, id domain.StockUnitID) *domain.StockUnit {
	t.Helper()
	u, err := h.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

func line(id domain.StockUnitID, qty int64) domain.CheckoutLineItem {
	return domain.CheckoutLineItem{StockUnit: id, Quantity: qty}
}

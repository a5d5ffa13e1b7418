package saga

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/domain/port"
)

// Locker 是 Saga 需要的加锁能力。
type Locker interface {
	Acquire(ctx context.Context, key string, opts domain.LockOptions) (*domain.Lock, error)
	Release(ctx context.Context, lock *domain.Lock) error
}

// StockLedger 是 Saga 需要的账本能力。
type StockLedger interface {
	Reserve(ctx context.Context, id domain.StockUnitID, qty int64, holderRef string, ttl time.Duration) (domain.Reservation, error)
	Release(ctx context.Context, id domain.StockUnitID, holderRef string) (domain.Reservation, error)
}

// CheckoutContext 在责任链中传递的结账上下文。
type CheckoutContext struct {
	Ctx       context.Context
	Tracer    trace.Tracer
	HolderRef string
	// Items 已合并、已按 Key 排序，就是加锁顺序。
	Items []domain.CheckoutLineItem

	Locks          Locker
	Ledger         StockLedger
	Orders         domain.OrderRepository
	Events         port.EventPublisher
	LockOptions    domain.LockOptions
	ReservationTTL time.Duration
	NewOrderRef    func() string
	Now            func() time.Time

	// 执行结果
	Reserved   []domain.CheckoutLineItem
	FailedItem *domain.CheckoutLineItem
	Order      *domain.Order
	Replayed   bool

	compensations []compensation
	compLock      sync.Mutex
}

type compensation struct {
	item domain.CheckoutLineItem
	run  func(ctx context.Context) error
}

// CompensationFailure 一条未能执行成功的补偿。
type CompensationFailure struct {
	Item domain.CheckoutLineItem
	Err  error
}

// AddCompensation 后注册的先执行。
func (c *CheckoutContext) AddCompensation(item domain.CheckoutLineItem, comp func(ctx context.Context) error) {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	c.compensations = append([]compensation{{item: item, run: comp}}, c.compensations...)
}

// TriggerCompensation 依次执行全部补偿，单条失败不影响后续，返回所有失败项。
func (c *CheckoutContext) TriggerCompensation(ctx context.Context) []CompensationFailure {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	logger.Ctx(ctx).Info().Str("holder", c.HolderRef).Int("count", len(c.compensations)).Msg("executing compensation functions")

	var failures []CompensationFailure
	for _, comp := range c.compensations {
		if err := comp.run(ctx); err != nil {
			failures = append(failures, CompensationFailure{Item: comp.item, Err: err})
		}
	}
	c.compensations = nil
	return failures
}

func (c *CheckoutContext) PendingCompensations() int {
	c.compLock.Lock()
	defer c.compLock.Unlock()
	return len(c.compensations)
}

type Handler interface {
	SetNext(handler Handler) Handler
	Handle(checkoutCtx *CheckoutContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(checkoutCtx *CheckoutContext) error {
	if h.next != nil {
		return h.next.Handle(checkoutCtx)
	}
	return nil
}

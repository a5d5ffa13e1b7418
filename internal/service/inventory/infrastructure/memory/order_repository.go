package memory

import (
	"context"
	"fmt"
	"sync"

	"nexus-stock/internal/service/inventory/domain"
)

type OrderRepository struct {
	mu       sync.RWMutex
	byHolder map[string]*domain.Order
	byRef    map[string]string

	// FailSave 非 nil 时 Save 直接返回该错误，用于测试补偿路径。
	FailSave error
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		byHolder: make(map[string]*domain.Order),
		byRef:    make(map[string]string),
	}
}

// Save 只允许替换已取消的订单，持有者已有未取消订单时返回 ErrOrderExists。
func (r *OrderRepository) Save(_ context.Context, order *domain.Order) error {
	if r.FailSave != nil {
		return r.FailSave
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byHolder[order.HolderRef]; ok {
		if !existing.Replaceable() {
			return fmt.Errorf("%w: %s holds %s", domain.ErrOrderExists, order.HolderRef, existing.OrderRef)
		}
		delete(r.byRef, existing.OrderRef)
	}
	copied := *order
	copied.Items = append([]domain.CheckoutLineItem(nil), order.Items...)
	r.byHolder[order.HolderRef] = &copied
	r.byRef[order.OrderRef] = order.HolderRef
	return nil
}

func (r *OrderRepository) FindByHolder(_ context.Context, holderRef string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byHolder[holderRef]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	copied := *o
	copied.Items = append([]domain.CheckoutLineItem(nil), o.Items...)
	return &copied, nil
}

func (r *OrderRepository) UpdateState(_ context.Context, orderRef string, state domain.OrderState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	holder, ok := r.byRef[orderRef]
	if !ok {
		return domain.ErrOrderNotFound
	}
	r.byHolder[holder].State = state
	return nil
}

func (r *OrderRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byHolder)
}

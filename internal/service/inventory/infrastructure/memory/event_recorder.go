package memory

import (
	"context"
	"sync"

	"nexus-stock/internal/service/inventory/domain"
)

// EventRecorder 记录所有发布的事件，测试中代替 Kafka。
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.InventoryEvent
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Publish(_ context.Context, events ...domain.InventoryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

func (r *EventRecorder) Events() []domain.InventoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.InventoryEvent(nil), r.events...)
}

// OfType 按类型过滤已记录的事件。
func (r *EventRecorder) OfType(t domain.EventType) []domain.InventoryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.InventoryEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

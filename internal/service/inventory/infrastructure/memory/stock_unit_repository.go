package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"nexus-stock/internal/service/inventory/domain"
)

// StockUnitRepository 进程内实现，用于测试和单机开发。
// 存取都做深拷贝，调用方拿到的对象与存储互不影响。
type StockUnitRepository struct {
	mu    sync.RWMutex
	units map[string]*domain.StockUnit

	// BeforeSwap 测试钩子，在比较版本之前调用，可用来模拟并发写入。
	BeforeSwap func(id domain.StockUnitID)
}

func NewStockUnitRepository() *StockUnitRepository {
	return &StockUnitRepository{units: make(map[string]*domain.StockUnit)}
}

func (r *StockUnitRepository) Get(_ context.Context, id domain.StockUnitID) (*domain.StockUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.units[id.Key()]
	if !ok {
		return nil, domain.ErrStockUnitNotFound
	}
	return u.Clone(), nil
}

func (r *StockUnitRepository) Insert(_ context.Context, unit *domain.StockUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := unit.ID.Key()
	if _, ok := r.units[key]; ok {
		return domain.ErrStockUnitExists
	}
	r.units[key] = unit.Clone()
	return nil
}

func (r *StockUnitRepository) CompareAndSwap(_ context.Context, unit *domain.StockUnit, expectedVersion int64) error {
	if r.BeforeSwap != nil {
		r.BeforeSwap(unit.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.units[unit.ID.Key()]
	if !ok {
		return domain.ErrStockUnitNotFound
	}
	if current.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	r.units[unit.ID.Key()] = unit.Clone()
	return nil
}

func (r *StockUnitRepository) FindWithExpiredReservations(_ context.Context, now time.Time, limit int) ([]domain.StockUnitID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []domain.StockUnitID
	for _, u := range r.units {
		for _, res := range u.Reservations {
			if res.IsExpired(now) {
				ids = append(ids, u.ID)
				break
			}
		}
	}
	domain.SortStockUnitIDs(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Keys 测试辅助，返回所有库存单元 Key。
func (r *StockUnitRepository) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.units))
	for k := range r.units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

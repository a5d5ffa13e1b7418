package domain

import (
	"fmt"
	"sort"
	"strings"
)

const keySeparator = ":"

// StockUnitID 唯一标识一个可售库存单元：商品 + SKU + 店铺 + 仓库。
type StockUnitID struct {
	ProductID   string `json:"productId"`
	SkuID       string `json:"skuId"`
	ShopID      string `json:"shopId"`
	WarehouseID string `json:"warehouseId,omitempty"`
}

// Key 稳定的字符串形式，同时作为文档 _id 和加锁顺序。
func (id StockUnitID) Key() string {
	return strings.Join([]string{id.ProductID, id.SkuID, id.ShopID, id.WarehouseID}, keySeparator)
}

func (id StockUnitID) String() string { return id.Key() }

// LockKey 分布式锁的资源 key，hash tag 保证集群模式下落在同一个 slot。
func (id StockUnitID) LockKey() string {
	return fmt.Sprintf("lock:stock:{%s}", id.Key())
}

func (id StockUnitID) Validate() error {
	if id.ProductID == "" || id.SkuID == "" || id.ShopID == "" {
		return fmt.Errorf("%w: product, sku and shop are required", ErrInvalidStockUnitID)
	}
	for _, part := range []string{id.ProductID, id.SkuID, id.ShopID, id.WarehouseID} {
		if strings.Contains(part, keySeparator) {
			return fmt.Errorf("%w: %q must not contain %q", ErrInvalidStockUnitID, part, keySeparator)
		}
	}
	return nil
}

// ParseStockUnitKey 是 Key 的逆操作。
func ParseStockUnitKey(key string) (StockUnitID, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 4 {
		return StockUnitID{}, fmt.Errorf("%w: malformed key %q", ErrInvalidStockUnitID, key)
	}
	id := StockUnitID{ProductID: parts[0], SkuID: parts[1], ShopID: parts[2], WarehouseID: parts[3]}
	if err := id.Validate(); err != nil {
		return StockUnitID{}, err
	}
	return id, nil
}

// SortStockUnitIDs 按 Key 字典序排序，所有多单元操作都按这个顺序加锁。
func SortStockUnitIDs(ids []StockUnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Key() < ids[j].Key() })
}

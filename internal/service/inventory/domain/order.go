package domain

import (
	"fmt"
	"math"
	"time"
)

// CheckoutLineItem 结账请求中的一行。
type CheckoutLineItem struct {
	StockUnit StockUnitID `json:"stockUnit"`
	Quantity  int64       `json:"quantity"`
}

// NormalizeLineItems 校验、合并同一库存单元的数量，并按 Key 排序。
// 返回的顺序就是加锁顺序。
func NormalizeLineItems(items []CheckoutLineItem) ([]CheckoutLineItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no line items", ErrInvalidCheckout)
	}
	merged := make(map[string]*CheckoutLineItem, len(items))
	ids := make([]StockUnitID, 0, len(items))
	for _, item := range items {
		if err := item.StockUnit.Validate(); err != nil {
			return nil, err
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s quantity %d", ErrInvalidQuantity, item.StockUnit, item.Quantity)
		}
		key := item.StockUnit.Key()
		if existing, ok := merged[key]; ok {
			if existing.Quantity > math.MaxInt64-item.Quantity {
				return nil, fmt.Errorf("%w: %s merged quantity overflows", ErrInvalidQuantity, item.StockUnit)
			}
			existing.Quantity += item.Quantity
			continue
		}
		copied := item
		merged[key] = &copied
		ids = append(ids, item.StockUnit)
	}
	SortStockUnitIDs(ids)
	out := make([]CheckoutLineItem, 0, len(ids))
	for _, id := range ids {
		out = append(out, *merged[id.Key()])
	}
	return out, nil
}

type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderConfirmed OrderState = "CONFIRMED"
	OrderCancelled OrderState = "CANCELLED"
)

// Order 结账成功后落库的订单记录，库存仍处于预占状态，等待确认或取消。
type Order struct {
	OrderRef  string             `json:"orderRef"`
	HolderRef string             `json:"holderRef"`
	Items     []CheckoutLineItem `json:"items"`
	State     OrderState         `json:"state"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Replaceable 只有已取消的订单可以被同一持有者的新结账替换。
func (o *Order) Replaceable() bool {
	return o.State == OrderCancelled
}

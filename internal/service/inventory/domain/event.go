package domain

import "time"

type EventType string

const (
	EventStockIn            EventType = "stock_in"
	EventAdjusted           EventType = "adjusted"
	EventStatusChanged      EventType = "status_changed"
	EventReserved           EventType = "reserved"
	EventReleased           EventType = "released"
	EventConsumed           EventType = "consumed"
	EventExpired            EventType = "expired"
	EventLowStock           EventType = "low_stock"
	EventCheckoutCommitted  EventType = "checkout_committed"
	EventCheckoutAborted    EventType = "checkout_aborted"
	EventCompensationFailed EventType = "compensation_failed"
)

// InventoryEvent 库存变动事件，按库存单元 Key 分区保证顺序。
type InventoryEvent struct {
	Type      EventType   `json:"type"`
	StockUnit StockUnitID `json:"stockUnit"`
	HolderRef string      `json:"holderRef,omitempty"`
	OrderRef  string      `json:"orderRef,omitempty"`
	Quantity  int64       `json:"quantity,omitempty"`
	Total     int64       `json:"total"`
	Available int64       `json:"available"`
	Reserved  int64       `json:"reserved"`
	Sold      int64       `json:"sold"`
	Reason    string      `json:"reason,omitempty"`
	At        time.Time   `json:"at"`
}

// NewStockEvent 用库存单元当前计数填充事件。
func NewStockEvent(t EventType, u *StockUnit, holderRef string, qty int64, at time.Time) InventoryEvent {
	return InventoryEvent{
		Type:      t,
		StockUnit: u.ID,
		HolderRef: holderRef,
		Quantity:  qty,
		Total:     u.TotalStock,
		Available: u.AvailableStock,
		Reserved:  u.ReservedStock,
		Sold:      u.SoldStock,
		At:        at,
	}
}

// PartitionKey 事件的 kafka key。
func (e InventoryEvent) PartitionKey() string {
	if e.StockUnit.ProductID == "" {
		return e.HolderRef
	}
	return e.StockUnit.Key()
}

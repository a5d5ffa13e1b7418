package infrastructure

import (
	"time"

	"nexus-stock/internal/service/inventory/domain"
)

// stockUnitDocument 对应 stock_units 集合中的一个文档，_id 为库存单元 Key。
type stockUnitDocument struct {
	ID            string `bson:"_id"`
	ProductID     string `bson:"product_id"`
	SkuID         string `bson:"sku_id"`
	ShopID        string `bson:"shop_id"`
	WarehouseID   string `bson:"warehouse_id,omitempty"`
	WarehouseName string `bson:"warehouse_name,omitempty"`
	Location      string `bson:"location,omitempty"`

	TotalStock     int64 `bson:"total_stock"`
	AvailableStock int64 `bson:"available_stock"`
	ReservedStock  int64 `bson:"reserved_stock"`
	SoldStock      int64 `bson:"sold_stock"`

	Reservations []reservationDocument `bson:"reservations"`

	MinStockLevel int64 `bson:"min_stock_level"`
	MaxStockLevel int64 `bson:"max_stock_level"`
	ReorderLevel  int64 `bson:"reorder_level"`

	LastMovement *movementDocument `bson:"last_movement,omitempty"`
	Status       string            `bson:"status"`
	Version      int64             `bson:"version"`
	CreatedAt    time.Time         `bson:"created_at"`
	UpdatedAt    time.Time         `bson:"updated_at"`
}

type reservationDocument struct {
	HolderRef  string     `bson:"holder_ref"`
	Quantity   int64      `bson:"quantity"`
	ReservedAt time.Time  `bson:"reserved_at"`
	ExpiresAt  time.Time  `bson:"expires_at"`
	Status     string     `bson:"status"`
	SettledAt  *time.Time `bson:"settled_at,omitempty"`
}

type movementDocument struct {
	Type     string    `bson:"type"`
	Quantity int64     `bson:"quantity"`
	Reason   string    `bson:"reason,omitempty"`
	At       time.Time `bson:"at"`
}

// toStockUnitDocument 将领域模型转换为文档。mongo 只保存到毫秒，时间统一截断为 UTC 毫秒。
func toStockUnitDocument(u *domain.StockUnit) *stockUnitDocument {
	doc := &stockUnitDocument{
		ID:             u.ID.Key(),
		ProductID:      u.ID.ProductID,
		SkuID:          u.ID.SkuID,
		ShopID:         u.ID.ShopID,
		WarehouseID:    u.ID.WarehouseID,
		WarehouseName:  u.WarehouseName,
		Location:       u.Location,
		TotalStock:     u.TotalStock,
		AvailableStock: u.AvailableStock,
		ReservedStock:  u.ReservedStock,
		SoldStock:      u.SoldStock,
		Reservations:   make([]reservationDocument, 0, len(u.Reservations)),
		MinStockLevel:  u.MinStockLevel,
		MaxStockLevel:  u.MaxStockLevel,
		ReorderLevel:   u.ReorderLevel,
		Status:         string(u.Status),
		Version:        u.Version,
		CreatedAt:      millis(u.CreatedAt),
		UpdatedAt:      millis(u.UpdatedAt),
	}
	for _, r := range u.Reservations {
		rd := reservationDocument{
			HolderRef:  r.HolderRef,
			Quantity:   r.Quantity,
			ReservedAt: millis(r.ReservedAt),
			ExpiresAt:  millis(r.ExpiresAt),
			Status:     string(r.Status),
		}
		if r.SettledAt != nil {
			t := millis(*r.SettledAt)
			rd.SettledAt = &t
		}
		doc.Reservations = append(doc.Reservations, rd)
	}
	if m := u.LastMovement; m != nil {
		doc.LastMovement = &movementDocument{Type: string(m.Type), Quantity: m.Quantity, Reason: m.Reason, At: millis(m.At)}
	}
	return doc
}

func toDomainStockUnit(doc *stockUnitDocument) *domain.StockUnit {
	u := &domain.StockUnit{
		ID: domain.StockUnitID{
			ProductID:   doc.ProductID,
			SkuID:       doc.SkuID,
			ShopID:      doc.ShopID,
			WarehouseID: doc.WarehouseID,
		},
		WarehouseName:  doc.WarehouseName,
		Location:       doc.Location,
		TotalStock:     doc.TotalStock,
		AvailableStock: doc.AvailableStock,
		ReservedStock:  doc.ReservedStock,
		SoldStock:      doc.SoldStock,
		MinStockLevel:  doc.MinStockLevel,
		MaxStockLevel:  doc.MaxStockLevel,
		ReorderLevel:   doc.ReorderLevel,
		Status:         domain.UnitStatus(doc.Status),
		Version:        doc.Version,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for _, rd := range doc.Reservations {
		u.Reservations = append(u.Reservations, domain.Reservation{
			HolderRef:  rd.HolderRef,
			Quantity:   rd.Quantity,
			ReservedAt: rd.ReservedAt,
			ExpiresAt:  rd.ExpiresAt,
			Status:     domain.ReservationStatus(rd.Status),
			SettledAt:  rd.SettledAt,
		})
	}
	if m := doc.LastMovement; m != nil {
		u.LastMovement = &domain.Movement{Type: domain.MovementType(m.Type), Quantity: m.Quantity, Reason: m.Reason, At: m.At}
	}
	return u
}

func millis(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

package infrastructure

import (
	"gorm.io/gorm"
)

// OrderModel 对应数据库中的 checkout_order 表，每个持有者最多一条。
type OrderModel struct {
	gorm.Model
	OrderRef  string `gorm:"size:64;uniqueIndex"`
	HolderRef string `gorm:"size:128;uniqueIndex"`
	State     string `gorm:"size:16;index"`
	// 关联关系
	Items []OrderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName 指定 GORM 应该使用的表名
func (OrderModel) TableName() string {
	return "checkout_order"
}

// OrderItemModel 对应 checkout_order_item 表。
type OrderItemModel struct {
	ID          uint   `gorm:"primaryKey"`
	OrderID     uint   `gorm:"index"`
	ProductID   string `gorm:"size:64"`
	SkuID       string `gorm:"size:64"`
	ShopID      string `gorm:"size:64"`
	WarehouseID string `gorm:"size:64"`
	Quantity    int64
}

func (OrderItemModel) TableName() string {
	return "checkout_order_item"
}

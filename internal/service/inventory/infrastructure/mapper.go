package infrastructure

import (
	"nexus-stock/internal/service/inventory/domain"
)

// ToDomainOrder 将数据库模型转换为领域模型
func ToDomainOrder(model *OrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	order := &domain.Order{
		OrderRef:  model.OrderRef,
		HolderRef: model.HolderRef,
		State:     domain.OrderState(model.State),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
		Items:     make([]domain.CheckoutLineItem, 0, len(model.Items)),
	}
	for _, it := range model.Items {
		order.Items = append(order.Items, domain.CheckoutLineItem{
			StockUnit: domain.StockUnitID{
				ProductID:   it.ProductID,
				SkuID:       it.SkuID,
				ShopID:      it.ShopID,
				WarehouseID: it.WarehouseID,
			},
			Quantity: it.Quantity,
		})
	}
	return order
}

// FromDomainOrder 将领域模型转换为数据库模型，用于插入
func FromDomainOrder(order *domain.Order) *OrderModel {
	if order == nil {
		return nil
	}
	model := &OrderModel{
		OrderRef:  order.OrderRef,
		HolderRef: order.HolderRef,
		State:     string(order.State),
		Items:     make([]OrderItemModel, 0, len(order.Items)),
	}
	model.CreatedAt = order.CreatedAt
	model.UpdatedAt = order.UpdatedAt
	for _, it := range order.Items {
		model.Items = append(model.Items, OrderItemModel{
			ProductID:   it.StockUnit.ProductID,
			SkuID:       it.StockUnit.SkuID,
			ShopID:      it.StockUnit.ShopID,
			WarehouseID: it.StockUnit.WarehouseID,
			Quantity:    it.Quantity,
		})
	}
	return model
}

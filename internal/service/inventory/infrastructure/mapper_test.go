package infrastructure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/domain"
)

func TestOrderModelMapping(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	order := &domain.Order{
		OrderRef:  "ord-1",
		HolderRef: "cart-1",
		State:     domain.OrderPending,
		CreatedAt: created,
		UpdatedAt: created,
		Items: []domain.CheckoutLineItem{
			{StockUnit: domain.StockUnitID{ProductID: "p1", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}, Quantity: 2},
			{StockUnit: domain.StockUnitID{ProductID: "p2", SkuID: "s1", ShopID: "shop1"}, Quantity: 1},
		},
	}

	model := FromDomainOrder(order)
	require.Len(t, model.Items, 2)
	assert.Equal(t, "PENDING", model.State)
	assert.Equal(t, "w1", model.Items[0].WarehouseID)

	assert.Equal(t, order, ToDomainOrder(model))
	assert.Nil(t, ToDomainOrder(nil))
	assert.Nil(t, FromDomainOrder(nil))
}

func TestMySQLOptionsDSN(t *testing.T) {
	dsn := MySQLOptions{Addr: "db:3306", User: "inv", Password: "p@ss:word", Database: "orders"}.DSN()
	assert.Contains(t, dsn, "inv:p@ss:word@tcp(db:3306)/orders?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

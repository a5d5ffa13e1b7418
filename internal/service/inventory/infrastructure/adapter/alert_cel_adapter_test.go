package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/domain"
)

func TestAlertCELAdapter(t *testing.T) {
	rule, err := NewAlertCELAdapter("reorder_level > 0 && available_stock <= reorder_level")
	require.NoError(t, err)

	cases := []struct {
		name string
		snap domain.StockSnapshot
		want bool
	}{
		{"above reorder level", domain.StockSnapshot{AvailableStock: 10, ReorderLevel: 5}, false},
		{"at reorder level", domain.StockSnapshot{AvailableStock: 5, ReorderLevel: 5}, true},
		{"no reorder level", domain.StockSnapshot{AvailableStock: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			low, err := rule.Evaluate(tc.snap)
			require.NoError(t, err)
			assert.Equal(t, tc.want, low)
		})
	}
}

func TestAlertCELAdapterUsesStockUnitFields(t *testing.T) {
	rule, err := NewAlertCELAdapter(`shop_id == "flagship" && available_stock < 3`)
	require.NoError(t, err)

	low, err := rule.Evaluate(domain.StockSnapshot{StockUnit: domain.StockUnitID{ShopID: "flagship"}, AvailableStock: 2})
	require.NoError(t, err)
	assert.True(t, low)

	low, err = rule.Evaluate(domain.StockSnapshot{StockUnit: domain.StockUnitID{ShopID: "outlet"}, AvailableStock: 2})
	require.NoError(t, err)
	assert.False(t, low)
}

func TestAlertCELAdapterRejectsBadRules(t *testing.T) {
	_, err := NewAlertCELAdapter("available_stock <=")
	assert.Error(t, err)

	_, err = NewAlertCELAdapter("available_stock + 1")
	assert.ErrorContains(t, err, "must return bool")

	_, err = NewAlertCELAdapter("unknown_var > 1")
	assert.Error(t, err)
}

package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/domain"
)

func compensationFailed(id domain.StockUnitID, holder string, qty int64) domain.InventoryEvent {
	return domain.InventoryEvent{Type: domain.EventCompensationFailed, StockUnit: id, HolderRef: holder, Quantity: qty}
}

func TestReconcileReleasesLeftoverReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 5)
	_, err := h.ledger.Reserve(ctx, unitA, 2, "cart-1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, h.checkout.Reconcile(ctx, compensationFailed(unitA, "cart-1", 2)))
	assert.Zero(t, h.unit(t, unitA).ReservedStock)

	// 重复投递
	require.NoError(t, h.checkout.Reconcile(ctx, compensationFailed(unitA, "cart-1", 2)))
	assert.Len(t, h.events.OfType(domain.EventReleased), 1)
}

func TestReconcileSkipsHolderWithLiveOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, unitA, 5)
	_, err := h.checkout.OrderByUser(ctx, "cart-1", []domain.CheckoutLineItem{line(unitA, 2)})
	require.NoError(t, err)

	require.NoError(t, h.checkout.Reconcile(ctx, compensationFailed(unitA, "cart-1", 2)))
	assert.Equal(t, int64(2), h.unit(t, unitA).ReservedStock)

	_, err = h.checkout.CancelOrder(ctx, "cart-1")
	require.NoError(t, err)
	require.NoError(t, h.checkout.Reconcile(ctx, compensationFailed(unitA, "cart-1", 2)))
}

func TestReconcileIgnoresOtherEventsAndRejectsBadOnes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.NoError(t, h.checkout.Reconcile(ctx, domain.InventoryEvent{Type: domain.EventReserved}))
	assert.ErrorIs(t, h.checkout.Reconcile(ctx, compensationFailed(unitA, "", 1)), domain.ErrInvalidCheckout)
	assert.ErrorIs(t, h.checkout.Reconcile(ctx, compensationFailed(domain.StockUnitID{}, "cart", 1)), domain.ErrInvalidStockUnitID)
}

func TestReconcileReportsLedgerErrors(t *testing.T) {
	h := newHarness(t)
	err := h.checkout.Reconcile(context.Background(), compensationFailed(unitA, "cart-1", 1))
	assert.ErrorIs(t, err, domain.ErrStockUnitNotFound)
}

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/service/inventory/domain"
)

func TestOrderRepositoryRefusesToOverwriteLiveOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(ctx, &domain.Order{OrderRef: "ord-1", HolderRef: "cart-1", State: domain.OrderPending}))

	err := repo.Save(ctx, &domain.Order{OrderRef: "ord-2", HolderRef: "cart-1", State: domain.OrderPending})
	assert.ErrorIs(t, err, domain.ErrOrderExists)

	require.NoError(t, repo.UpdateState(ctx, "ord-1", domain.OrderConfirmed))
	err = repo.Save(ctx, &domain.Order{OrderRef: "ord-2", HolderRef: "cart-1", State: domain.OrderPending})
	assert.ErrorIs(t, err, domain.ErrOrderExists)

	got, err := repo.FindByHolder(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", got.OrderRef)
}

func TestOrderRepositoryReplacesCancelledOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	require.NoError(t, repo.Save(ctx, &domain.Order{OrderRef: "ord-1", HolderRef: "cart-1", State: domain.OrderPending}))
	require.NoError(t, repo.UpdateState(ctx, "ord-1", domain.OrderCancelled))

	require.NoError(t, repo.Save(ctx, &domain.Order{OrderRef: "ord-2", HolderRef: "cart-1", State: domain.OrderPending}))
	got, err := repo.FindByHolder(ctx, "cart-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-2", got.OrderRef)
	assert.ErrorIs(t, repo.UpdateState(ctx, "ord-1", domain.OrderConfirmed), domain.ErrOrderNotFound)
	assert.Equal(t, 1, repo.Count())
}

package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-stock/internal/pkg/metrics"
	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
)

func jsonMessage(t *testing.T, key string, v interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(v)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(key), Value: value}
}

func TestCheckoutConsumer(t *testing.T) {
	svc := newServices(t)
	svc.seed(t, testUnit, 2)
	items := []domain.CheckoutLineItem{{StockUnit: testUnit, Quantity: 1}}

	reader := newFakeReader("checkout-requests",
		jsonMessage(t, "cart-1", application.CheckoutRequest{Items: items}),
		jsonMessage(t, "", application.CheckoutRequest{HolderRef: "cart-2", Items: items}),
		jsonMessage(t, "cart-3", application.CheckoutRequest{Items: items}),
		kafka.Message{Key: []byte("cart-4"), Value: []byte("{oops")},
		jsonMessage(t, "", application.CheckoutRequest{Items: items}),
	)
	sink := &recordingSink{}
	runUntilCommitted(t, reader, 5, NewCheckoutConsumer(reader, svc.checkout, sink).Run)

	assert.Equal(t, 2, svc.orders.Count())
	for _, holder := range []string{"cart-1", "cart-2"} {
		_, err := svc.orders.FindByHolder(context.Background(), holder)
		assert.NoError(t, err, holder)
	}
	// cart-3 库存不足是正常的 ABORTED，不进死信
	failed := sink.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, int64(3), failed[0].msg.Offset)
	assert.ErrorIs(t, failed[1].err, domain.ErrInvalidCheckout)
	assert.True(t, reader.Closed())
}

type flakyReconciler struct {
	failures int
	calls    atomic.Int32
}

func (f *flakyReconciler) Reconcile(context.Context, domain.InventoryEvent) error {
	if int(f.calls.Add(1)) <= f.failures {
		return errors.New("lock store unavailable")
	}
	return nil
}

func TestReconciliationConsumerRetries(t *testing.T) {
	evt := domain.InventoryEvent{Type: domain.EventCompensationFailed, StockUnit: testUnit, HolderRef: "cart-1", Quantity: 1}
	rec := &flakyReconciler{failures: 2}
	reader := newFakeReader("inventory-reconciliation", jsonMessage(t, testUnit.Key(), evt))
	sink := &recordingSink{}

	c := NewReconciliationConsumer(reader, rec, sink)
	c.SetRetry(3, time.Millisecond)
	runUntilCommitted(t, reader, 1, c.Run)

	assert.Equal(t, int32(3), rec.calls.Load())
	assert.Empty(t, sink.Failed())
}

func TestReconciliationConsumerGivesUp(t *testing.T) {
	evt := domain.InventoryEvent{Type: domain.EventCompensationFailed, StockUnit: testUnit, HolderRef: "cart-1", Quantity: 1}
	rec := &flakyReconciler{failures: 100}
	reader := newFakeReader("inventory-reconciliation", jsonMessage(t, testUnit.Key(), evt))
	sink := &recordingSink{}

	c := NewReconciliationConsumer(reader, rec, sink)
	c.SetRetry(4, time.Millisecond)
	runUntilCommitted(t, reader, 1, c.Run)

	assert.Equal(t, int32(4), rec.calls.Load())
	require.Len(t, sink.Failed(), 1)
}

func TestReconciliationConsumerReleasesLeftover(t *testing.T) {
	svc := newServices(t)
	svc.seed(t, testUnit, 2)
	_, err := svc.checkout.OrderByUser(context.Background(), "cart-1", []domain.CheckoutLineItem{{StockUnit: testUnit, Quantity: 2}})
	require.NoError(t, err)
	_, err = svc.checkout.CancelOrder(context.Background(), "cart-1")
	require.NoError(t, err)

	evt := domain.InventoryEvent{Type: domain.EventCompensationFailed, StockUnit: testUnit, HolderRef: "cart-1", Quantity: 2}
	reader := newFakeReader("inventory-reconciliation", jsonMessage(t, testUnit.Key(), evt))
	sink := &recordingSink{}
	runUntilCommitted(t, reader, 1, NewReconciliationConsumer(reader, svc.checkout, sink).Run)
	assert.Empty(t, sink.Failed())
}

func TestDltConsumerCommitsEverything(t *testing.T) {
	msg := kafka.Message{Key: []byte("cart-4"), Value: []byte("{oops")}
	msg.Headers = []kafka.Header{{Key: "x-original-topic", Value: []byte("checkout-requests")}}
	counter := metrics.DeadLetters.WithLabelValues("checkout-requests")
	before := testutil.ToFloat64(counter)

	reader := newFakeReader("checkout-requests-dlt", msg, msg)
	runUntilCommitted(t, reader, 2, NewDltConsumer(reader).Run)
	assert.True(t, reader.Closed())
	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

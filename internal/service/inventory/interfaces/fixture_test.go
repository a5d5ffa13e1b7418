package interfaces

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace/noop"

	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/infrastructure/memory"
)

var testUnit = domain.StockUnitID{ProductID: "p1", SkuID: "s1", ShopID: "shop1", WarehouseID: "w1"}

type services struct {
	lockStore *memory.LockStore
	repo      *memory.StockUnitRepository
	orders    *memory.OrderRepository
	events    *memory.EventRecorder
	checkout  *application.CheckoutService
	admin     *application.StockAdminService
	sweeper   *application.ExpirySweeper
}

func newServices(t *testing.T) *services {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	s := &services{
		lockStore: memory.NewLockStore(nil),
		repo:      memory.NewStockUnitRepository(),
		orders:    memory.NewOrderRepository(),
		events:    memory.NewEventRecorder(),
	}
	lockOpts := domain.LockOptions{TTL: time.Second, MaxRetries: 3, RetryDelay: time.Millisecond}
	locks := application.NewLockCoordinator(s.lockStore, tracer)
	ledger := application.NewLedger(s.repo, s.events, nil, tracer, application.LedgerOptions{})
	s.checkout = application.NewCheckoutService(locks, ledger, s.orders, s.events, tracer, application.CheckoutOptions{
		Lock:           lockOpts,
		ReservationTTL: time.Minute,
		Timeout:        time.Second,
	})
	s.admin = application.NewStockAdminService(locks, ledger, lockOpts, tracer, nil)
	s.sweeper = application.NewExpirySweeper(s.repo, ledger, tracer, application.SweeperOptions{Interval: time.Hour})
	return s
}

func (s *services) seed(t *testing.T, id domain.StockUnitID, total int64) {
	t.Helper()
	u, err := domain.NewStockUnit(id, total, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.repo.Insert(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

// fakeReader 按顺序吐出预先放入的消息，取完后阻塞到 ctx 结束
type fakeReader struct {
	topic string
	msgs  chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
	closed    bool
}

func newFakeReader(topic string, msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{topic: topic, msgs: make(chan kafka.Message, len(msgs))}
	for i, m := range msgs {
		m.Topic = topic
		m.Offset = int64(i)
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig { return kafka.ReaderConfig{Topic: r.topic} }

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) Committed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

func (r *fakeReader) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type failedMessage struct {
	msg kafka.Message
	err error
}

type recordingSink struct {
	mu     sync.Mutex
	failed []failedMessage
}

func (s *recordingSink) Handle(_ context.Context, msg kafka.Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failedMessage{msg: msg, err: err})
}

func (s *recordingSink) Failed() []failedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]failedMessage(nil), s.failed...)
}

// runUntilCommitted 运行消费循环直到提交了 n 条消息
func runUntilCommitted(t *testing.T, reader *fakeReader, n int, run func(ctx context.Context)) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		run(ctx)
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for reader.Committed() < n {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("only %d of %d messages committed", reader.Committed(), n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

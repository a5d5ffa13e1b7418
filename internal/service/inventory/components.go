package inventory

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"nexus-stock/internal/pkg/bootstrap"
	"nexus-stock/internal/pkg/httpclient"
	"nexus-stock/internal/pkg/logger"
	"nexus-stock/internal/pkg/mq"
	"nexus-stock/internal/pkg/nacos"
	"nexus-stock/internal/pkg/redis"
	"nexus-stock/internal/service/inventory/application"
	"nexus-stock/internal/service/inventory/domain"
	"nexus-stock/internal/service/inventory/domain/port"
	"nexus-stock/internal/service/inventory/infrastructure"
	"nexus-stock/internal/service/inventory/infrastructure/adapter"
	"nexus-stock/internal/service/inventory/infrastructure/memory"
	"nexus-stock/internal/zookeeper"
)

// OrderServiceName 外部订单服务在 Nacos 中的名字
const OrderServiceName = "order-service"

// Components 按配置装配好的库存服务依赖，cmd 下各进程共用。
type Components struct {
	Config    *bootstrap.Config
	LockStore port.LockStore
	Stock     domain.StockUnitRepository
	Orders    domain.OrderRepository
	Events    port.EventPublisher

	Locks    *application.LockCoordinator
	Ledger   *application.Ledger
	Checkout *application.CheckoutService
	Admin    *application.StockAdminService
	Sweeper  *application.ExpirySweeper

	closers []func(ctx context.Context) error
}

// Close 按装配的逆序释放连接
func (c *Components) Close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("failed to close component")
		}
	}
}

func (c *Components) onClose(fn func(ctx context.Context) error) {
	c.closers = append(c.closers, fn)
}

// LockOptions 当前配置下的加锁参数
func LockOptions(cfg *bootstrap.Config) domain.LockOptions {
	return domain.LockOptions{
		TTL:        cfg.Inventory.LockTTL,
		MaxRetries: cfg.Inventory.LockMaxRetries,
		RetryDelay: cfg.Inventory.LockRetryDelay,
	}
}

// InstanceMetadata 注册到 Nacos 的实例元数据，调用方据此区分锁后端和存储。
func InstanceMetadata(cfg *bootstrap.Config) map[string]string {
	return map[string]string{
		"lock_backend": cfg.Inventory.LockBackend,
		"store_driver": cfg.Inventory.StoreDriver,
		"order_sink":   cfg.Inventory.OrderSink,
	}
}

// Build 根据 lock_backend / store_driver / order_sink 选择实现并组装应用服务。
// naming 只在 order_sink=http 且未配置固定地址时使用，可以为 nil。
func Build(ctx context.Context, serviceName string, cfg *bootstrap.Config, naming *nacos.Client) (*Components, error) {
	c := &Components{Config: cfg}
	tracer := otel.Tracer(serviceName)
	inv := cfg.Inventory

	fail := func(err error) (*Components, error) {
		c.Close(ctx)
		return nil, err
	}

	switch inv.LockBackend {
	case "redis":
		client, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			return fail(err)
		}
		c.onClose(func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx); err != nil {
			return fail(fmt.Errorf("redis: ping: %w", err))
		}
		store, err := adapter.NewLockRedisAdapter(client, cfg.Infra.Redis.ReleaseScript)
		if err != nil {
			return fail(err)
		}
		c.LockStore = store
	case "zookeeper":
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return fail(err)
		}
		c.onClose(func(context.Context) error { conn.Close(); return nil })
		store, err := zookeeper.NewLockStore(conn)
		if err != nil {
			return fail(err)
		}
		c.LockStore = store
	default:
		c.LockStore = memory.NewLockStore(nil)
	}

	switch inv.StoreDriver {
	case "mongo":
		client, err := infrastructure.Connect(ctx, cfg.Infra.Mongo.URI)
		if err != nil {
			return fail(err)
		}
		c.onClose(client.Disconnect)
		repo := infrastructure.NewMongoStockUnitRepository(client.Database(cfg.Infra.Mongo.Database))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return fail(err)
		}
		c.Stock = repo
	default:
		c.Stock = memory.NewStockUnitRepository()
	}

	switch inv.OrderSink {
	case "mysql":
		db, err := infrastructure.OpenMySQL(infrastructure.MySQLOptions{
			Addr:     cfg.Infra.MySQL.Addr,
			User:     cfg.Infra.MySQL.User,
			Password: cfg.Infra.MySQL.Password,
			Database: cfg.Infra.MySQL.Database,
		})
		if err != nil {
			return fail(err)
		}
		if sqlDB, err := db.DB(); err == nil {
			c.onClose(func(context.Context) error { return sqlDB.Close() })
		}
		c.Orders = infrastructure.NewGormOrderRepository(db)
	case "http":
		baseURL := adapter.StaticURL(inv.OrderServiceURL)
		if inv.OrderServiceURL == "" {
			if naming == nil {
				return fail(fmt.Errorf("order_sink=http needs order_service_url or nacos discovery"))
			}
			baseURL = func() (string, error) { return naming.ServiceURL(OrderServiceName) }
		}
		c.Orders = adapter.NewOrderHTTPAdapter(httpclient.NewClient(tracer), baseURL)
	default:
		c.Orders = memory.NewOrderRepository()
	}

	if len(cfg.Infra.Kafka.Brokers) > 0 {
		publisher := adapter.NewEventKafkaAdapter(
			mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, inv.Topics.Events),
			mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, inv.Topics.Reconciliation),
		)
		c.onClose(func(context.Context) error { return publisher.Close() })
		c.Events = publisher
	}

	var alerts port.StockAlertRule
	if inv.LowStockRule != "" {
		rule, err := adapter.NewAlertCELAdapter(inv.LowStockRule)
		if err != nil {
			return fail(err)
		}
		alerts = rule
	}

	c.Locks = application.NewLockCoordinator(c.LockStore, tracer)
	c.Ledger = application.NewLedger(c.Stock, c.Events, alerts, tracer, application.LedgerOptions{
		CASRetries: inv.CASRetries,
		PurgeAfter: inv.PurgeAfter,
	})
	c.Checkout = application.NewCheckoutService(c.Locks, c.Ledger, c.Orders, c.Events, tracer, application.CheckoutOptions{
		Lock:           LockOptions(cfg),
		ReservationTTL: inv.ReservationTTL,
		Timeout:        inv.CheckoutTimeout,
	})
	c.Admin = application.NewStockAdminService(c.Locks, c.Ledger, LockOptions(cfg), tracer, nil)
	c.Sweeper = application.NewExpirySweeper(c.Stock, c.Ledger, tracer, application.SweeperOptions{
		Interval:    inv.SweepInterval,
		BatchSize:   inv.SweepBatch,
		Concurrency: inv.SweepConcurrency,
	})
	return c, nil
}

// Reader 以 serviceName 作为消费组创建 reader
func Reader(cfg *bootstrap.Config, topic, group string) *kafka.Reader {
	return mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, topic, group)
}

// DLTHandler 写到 topic 的死信处理器
func DLTHandler(cfg *bootstrap.Config, topic string) (*mq.FailureHandler, func() error) {
	writer := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, topic)
	return mq.NewFailureHandler(writer), writer.Close
}

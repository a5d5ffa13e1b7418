// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// 锁 TTL 必须远小于预占 TTL：锁只保护一次读改写，预占要覆盖整个支付窗口。
const minReservationToLockTTLRatio = 10

type Config struct {
	App       AppConfig       `yaml:"app"`
	Infra     InfraConfig     `yaml:"infra"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"`
	// ReleaseScript 释放锁的 Lua 脚本路径，为空时使用内置脚本
	ReleaseScript string `yaml:"release_script"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type MySQLConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"data_id"`
}

// InventoryConfig 库存预占引擎的业务参数。
type InventoryConfig struct {
	LockBackend     string `yaml:"lock_backend"` // redis | zookeeper | memory
	StoreDriver     string `yaml:"store_driver"` // mongo | memory
	OrderSink       string `yaml:"order_sink"`   // mysql | http | memory
	OrderServiceURL string `yaml:"order_service_url"`

	LockTTL        time.Duration `yaml:"lock_ttl"`
	LockMaxRetries int           `yaml:"lock_max_retries"`
	LockRetryDelay time.Duration `yaml:"lock_retry_delay"`

	ReservationTTL  time.Duration `yaml:"reservation_ttl"`
	CheckoutTimeout time.Duration `yaml:"checkout_timeout"`
	CASRetries      int           `yaml:"cas_retries"`
	PurgeAfter      time.Duration `yaml:"purge_after"`

	SweepEnabled     bool          `yaml:"sweep_enabled"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepBatch       int           `yaml:"sweep_batch"`
	SweepConcurrency int           `yaml:"sweep_concurrency"`

	LowStockRule string       `yaml:"low_stock_rule"`
	Topics       TopicsConfig `yaml:"topics"`
}

type TopicsConfig struct {
	Events           string `yaml:"events"`
	Reconciliation   string `yaml:"reconciliation"`
	CheckoutRequests string `yaml:"checkout_requests"`
	CheckoutDLT      string `yaml:"checkout_dlt"`
}

// DefaultConfig 返回本地开发可直接运行的默认配置。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Name: "inventory-service", Env: "dev", Port: 8082, LogLevel: "info"},
		Infra: InfraConfig{
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Mongo:     MongoConfig{URI: "mongodb://localhost:27017", Database: "shop"},
			MySQL:     MySQLConfig{Addr: "localhost:3306", User: "root", Database: "orders"},
			Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 5 * time.Second},
			Nacos:     NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP", DataID: "inventory-service.yaml"},
		},
		Inventory: InventoryConfig{
			LockBackend:      "redis",
			StoreDriver:      "mongo",
			OrderSink:        "mysql",
			LockTTL:          3 * time.Second,
			LockMaxRetries:   10,
			LockRetryDelay:   50 * time.Millisecond,
			ReservationTTL:   15 * time.Minute,
			CheckoutTimeout:  5 * time.Second,
			CASRetries:       5,
			PurgeAfter:       24 * time.Hour,
			SweepEnabled:     true,
			SweepInterval:    30 * time.Second,
			SweepBatch:       200,
			SweepConcurrency: 8,
			LowStockRule:     "reorder_level > 0 && available_stock <= reorder_level",
			Topics: TopicsConfig{
				Events:           "inventory-events",
				Reconciliation:   "inventory-reconciliation",
				CheckoutRequests: "checkout-requests",
				CheckoutDLT:      "checkout-requests-dlt",
			},
		},
	}
}

// LoadConfig 默认值 -> YAML 文件 -> 环境变量，最后统一校验。
// path 为空或文件不存在时跳过文件这一层。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseOverlay 把一段 YAML 覆盖到 base 的副本上，用于配置中心下发的增量配置。
func ParseOverlay(base *Config, data []byte) (*Config, error) {
	next := *base
	next.Infra.Kafka.Brokers = append([]string(nil), base.Infra.Kafka.Brokers...)
	next.Infra.Zookeeper.Servers = append([]string(nil), base.Infra.Zookeeper.Servers...)
	if err := yaml.Unmarshal(data, &next); err != nil {
		return nil, fmt.Errorf("parse config overlay: %w", err)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func (c *Config) Validate() error {
	inv := c.Inventory
	switch {
	case c.App.Port <= 0:
		return fmt.Errorf("config: app.port must be positive")
	case inv.LockTTL <= 0:
		return fmt.Errorf("config: inventory.lock_ttl must be positive")
	case inv.LockMaxRetries < 1:
		return fmt.Errorf("config: inventory.lock_max_retries must be at least 1")
	case inv.LockRetryDelay <= 0:
		return fmt.Errorf("config: inventory.lock_retry_delay must be positive")
	case inv.ReservationTTL <= 0:
		return fmt.Errorf("config: inventory.reservation_ttl must be positive")
	case inv.ReservationTTL < minReservationToLockTTLRatio*inv.LockTTL:
		return fmt.Errorf("config: inventory.reservation_ttl (%s) must be at least %dx lock_ttl (%s)",
			inv.ReservationTTL, minReservationToLockTTLRatio, inv.LockTTL)
	case inv.CheckoutTimeout <= 0:
		return fmt.Errorf("config: inventory.checkout_timeout must be positive")
	case inv.CASRetries < 1:
		return fmt.Errorf("config: inventory.cas_retries must be at least 1")
	case inv.SweepInterval <= 0 || inv.SweepBatch < 1 || inv.SweepConcurrency < 1:
		return fmt.Errorf("config: sweep interval, batch and concurrency must be positive")
	}
	if !oneOf(inv.LockBackend, "redis", "zookeeper", "memory") {
		return fmt.Errorf("config: unknown lock_backend %q", inv.LockBackend)
	}
	if !oneOf(inv.StoreDriver, "mongo", "memory") {
		return fmt.Errorf("config: unknown store_driver %q", inv.StoreDriver)
	}
	if !oneOf(inv.OrderSink, "mysql", "http", "memory") {
		return fmt.Errorf("config: unknown order_sink %q", inv.OrderSink)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func applyEnv(c *Config) {
	c.App.Name = getEnv("SERVICE_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.Port = getEnvInt("PORT", c.App.Port)

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Redis.ReleaseScript = getEnv("REDIS_RELEASE_SCRIPT", c.Infra.Redis.ReleaseScript)
	c.Infra.Mongo.URI = getEnv("MONGO_URI", c.Infra.Mongo.URI)
	c.Infra.Mongo.Database = getEnv("MONGO_DATABASE", c.Infra.Mongo.Database)
	c.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", c.Infra.MySQL.Addr)
	c.Infra.MySQL.User = getEnv("MYSQL_USER", c.Infra.MySQL.User)
	c.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Infra.MySQL.Password)
	c.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", c.Infra.MySQL.Database)
	c.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnvList("ZK_SERVERS", c.Infra.Zookeeper.Servers)
	c.Infra.Nacos.Enabled = getEnvBool("NACOS_ENABLED", c.Infra.Nacos.Enabled)
	c.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.Addrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	c.Infra.Nacos.DataID = getEnv("NACOS_DATA_ID", c.Infra.Nacos.DataID)

	c.Inventory.LockBackend = getEnv("LOCK_BACKEND", c.Inventory.LockBackend)
	c.Inventory.StoreDriver = getEnv("STORE_DRIVER", c.Inventory.StoreDriver)
	c.Inventory.OrderSink = getEnv("ORDER_SINK", c.Inventory.OrderSink)
	c.Inventory.OrderServiceURL = getEnv("ORDER_SERVICE_URL", c.Inventory.OrderServiceURL)
	c.Inventory.LockTTL = getEnvDuration("LOCK_TTL", c.Inventory.LockTTL)
	c.Inventory.ReservationTTL = getEnvDuration("RESERVATION_TTL", c.Inventory.ReservationTTL)
	c.Inventory.CheckoutTimeout = getEnvDuration("CHECKOUT_TIMEOUT", c.Inventory.CheckoutTimeout)
	c.Inventory.SweepInterval = getEnvDuration("SWEEP_INTERVAL", c.Inventory.SweepInterval)
	c.Inventory.SweepEnabled = getEnvBool("SWEEP_ENABLED", c.Inventory.SweepEnabled)
	c.Inventory.LowStockRule = getEnv("LOW_STOCK_RULE", c.Inventory.LowStockRule)
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置快照，未初始化时返回默认配置。
func GetCurrentConfig() *Config {
	if c := currentConfig.Load(); c != nil {
		return c
	}
	return DefaultConfig()
}

func SetCurrentConfig(c *Config) {
	currentConfig.Store(c)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}

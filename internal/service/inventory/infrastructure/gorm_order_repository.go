package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"nexus-stock/internal/service/inventory/domain"
)

// MySQLOptions 订单库连接参数。
type MySQLOptions struct {
	Addr     string
	User     string
	Password string
	Database string
}

// DSN 交给驱动拼接，避免手写转义。
func (o MySQLOptions) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = o.Addr
	cfg.User = o.User
	cfg.Passwd = o.Password
	cfg.DBName = o.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// OpenMySQL 打开连接并迁移订单表。
func OpenMySQL(opts MySQLOptions) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(opts.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("mysql: open %s: %w", opts.Addr, err)
	}
	if err := db.AutoMigrate(&OrderModel{}, &OrderItemModel{}); err != nil {
		return nil, fmt.Errorf("mysql: migrate: %w", err)
	}
	return db, nil
}

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Save 每个持有者只保留一条订单。已取消的旧记录连同明细一起替换，
// 未取消的旧记录不会被覆盖，返回 ErrOrderExists。
func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing OrderModel
		err := tx.Where("holder_ref = ?", order.HolderRef).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case !ToDomainOrder(&existing).Replaceable():
			return fmt.Errorf("%w: %s holds %s", domain.ErrOrderExists, order.HolderRef, existing.OrderRef)
		default:
			if err := tx.Where("order_id = ?", existing.ID).Delete(&OrderItemModel{}).Error; err != nil {
				return err
			}
			if err := tx.Unscoped().Delete(&existing).Error; err != nil {
				return err
			}
		}
		return tx.Create(model).Error
	})
}

func (r *GormOrderRepository) FindByHolder(ctx context.Context, holderRef string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Preload("Items").Where("holder_ref = ?", holderRef).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) UpdateState(ctx context.Context, orderRef string, state domain.OrderState) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).Where("order_ref = ?", orderRef).Update("state", string(state))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nexus-stock/internal/service/inventory/domain"
)

const stockUnitCollection = "stock_units"

// MongoStockUnitRepository 是 domain.StockUnitRepository 的 MongoDB 实现。
// 一个库存单元就是一个文档，预占内嵌其中，单文档写天然原子。
type MongoStockUnitRepository struct {
	Collection *mongo.Collection
}

func NewMongoStockUnitRepository(db *mongo.Database) *MongoStockUnitRepository {
	return &MongoStockUnitRepository{Collection: db.Collection(stockUnitCollection)}
}

// Connect 建立连接并 ping 一次。
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

// EnsureIndexes 查询维度索引和清扫用的 expires_at 索引。
// expires_at 不能用 TTL 索引，TTL 会删除整个库存单元文档。
func (r *MongoStockUnitRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.Collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "product_id", Value: 1}, {Key: "sku_id", Value: 1}, {Key: "shop_id", Value: 1}}},
		{Keys: bson.D{{Key: "warehouse_id", Value: 1}}},
		{Keys: bson.D{{Key: "reservations.status", Value: 1}, {Key: "reservations.expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: create indexes: %w", err)
	}
	return nil
}

func (r *MongoStockUnitRepository) Get(ctx context.Context, id domain.StockUnitID) (*domain.StockUnit, error) {
	var doc stockUnitDocument
	err := r.Collection.FindOne(ctx, bson.M{"_id": id.Key()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", domain.ErrStockUnitNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo: get %s: %w", id, err)
	}
	return toDomainStockUnit(&doc), nil
}

func (r *MongoStockUnitRepository) Insert(ctx context.Context, unit *domain.StockUnit) error {
	_, err := r.Collection.InsertOne(ctx, toStockUnitDocument(unit))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", domain.ErrStockUnitExists, unit.ID)
	}
	if err != nil {
		return fmt.Errorf("mongo: insert %s: %w", unit.ID, err)
	}
	return nil
}

// CompareAndSwap 以 {_id, version} 为条件整体替换，没有匹配说明版本已变化。
func (r *MongoStockUnitRepository) CompareAndSwap(ctx context.Context, unit *domain.StockUnit, expectedVersion int64) error {
	filter := bson.M{"_id": unit.ID.Key(), "version": expectedVersion}
	res, err := r.Collection.ReplaceOne(ctx, filter, toStockUnitDocument(unit))
	if err != nil {
		return fmt.Errorf("mongo: replace %s: %w", unit.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s expected version %d", domain.ErrVersionConflict, unit.ID, expectedVersion)
	}
	return nil
}

func (r *MongoStockUnitRepository) FindWithExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.StockUnitID, error) {
	filter := bson.M{"reservations": bson.M{"$elemMatch": bson.M{
		"status":     string(domain.ReservationActive),
		"expires_at": bson.M{"$lte": now.UTC()},
	}}}
	opts := options.Find().
		SetProjection(bson.M{"product_id": 1, "sku_id": 1, "shop_id": 1, "warehouse_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find expired: %w", err)
	}
	var docs []stockUnitDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode expired: %w", err)
	}
	ids := make([]domain.StockUnitID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, domain.StockUnitID{ProductID: d.ProductID, SkuID: d.SkuID, ShopID: d.ShopID, WarehouseID: d.WarehouseID})
	}
	return ids, nil
}

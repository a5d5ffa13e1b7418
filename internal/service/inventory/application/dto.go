package application

import (
	"context"
	"errors"

	"nexus-stock/internal/service/inventory/domain"
)

type CheckoutStatus string

const (
	CheckoutCommitted CheckoutStatus = "COMMITTED"
	CheckoutAborted   CheckoutStatus = "ABORTED"
)

type AbortReason string

const (
	AbortLockTimeout       AbortReason = "LOCK_TIMEOUT"
	AbortInsufficientStock AbortReason = "INSUFFICIENT_STOCK"
	AbortDeadlineExceeded  AbortReason = "DEADLINE_EXCEEDED"
	AbortCancelled         AbortReason = "CANCELLED"
	AbortUnavailable       AbortReason = "UNAVAILABLE"
	AbortInternal          AbortReason = "INTERNAL"
)

// AbortReasonFor 把结账链返回的错误映射为对外的中止原因。
func AbortReasonFor(err error) AbortReason {
	switch {
	case errors.Is(err, domain.ErrLockTimeout):
		return AbortLockTimeout
	case errors.Is(err, domain.ErrInsufficientStock):
		return AbortInsufficientStock
	case errors.Is(err, context.DeadlineExceeded):
		return AbortDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return AbortCancelled
	case errors.Is(err, domain.ErrStockUnitNotFound), errors.Is(err, domain.ErrStockUnitUnavailable):
		return AbortUnavailable
	default:
		return AbortInternal
	}
}

// CheckoutResult 结账结果，COMMITTED 时带订单号，ABORTED 时带原因和失败行。
type CheckoutResult struct {
	Status     CheckoutStatus            `json:"status"`
	HolderRef  string                    `json:"holderRef"`
	OrderRef   string                    `json:"orderRef,omitempty"`
	Items      []domain.CheckoutLineItem `json:"items,omitempty"`
	Replayed   bool                      `json:"replayed,omitempty"`
	Reason     AbortReason               `json:"reason,omitempty"`
	FailedItem *domain.CheckoutLineItem  `json:"failedItem,omitempty"`
	Message    string                    `json:"message,omitempty"`
}

type ReviewLine struct {
	Item       domain.CheckoutLineItem `json:"item"`
	Available  int64                   `json:"available"`
	Sufficient bool                    `json:"sufficient"`
	Status     string                  `json:"status"`
}

type ReviewResult struct {
	Items        []ReviewLine `json:"items"`
	AllAvailable bool         `json:"allAvailable"`
}

// CheckoutRequest 结账请求，HTTP 和 Kafka 入口共用。
type CheckoutRequest struct {
	HolderRef string                    `json:"holderRef"`
	Items     []domain.CheckoutLineItem `json:"items"`
}

type StockInRequest struct {
	StockUnit     domain.StockUnitID `json:"stockUnit"`
	Quantity      int64              `json:"quantity"`
	WarehouseName string             `json:"warehouseName,omitempty"`
	Location      string             `json:"location,omitempty"`
	MinStockLevel int64              `json:"minStockLevel,omitempty"`
	MaxStockLevel int64              `json:"maxStockLevel,omitempty"`
	ReorderLevel  int64              `json:"reorderLevel,omitempty"`
}

type AdjustStockRequest struct {
	StockUnit domain.StockUnitID `json:"stockUnit"`
	Delta     int64              `json:"delta"`
	Reason    string             `json:"reason"`
}

type SetStatusRequest struct {
	StockUnit domain.StockUnitID `json:"stockUnit"`
	Status    domain.UnitStatus  `json:"status"`
	Reason    string             `json:"reason"`
}

// HolderRequest 确认或取消订单。
type HolderRequest struct {
	HolderRef string `json:"holderRef"`
}

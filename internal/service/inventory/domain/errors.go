package domain

import "errors"

// 预期内的业务结果：由编排层处理并转换为 ABORTED。
var (
	ErrLockTimeout       = errors.New("inventory: lock acquisition timed out")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
)

// 需要上报的异常。
var (
	ErrLockNotHeld          = errors.New("inventory: lock not held by caller")
	ErrReservationNotFound  = errors.New("inventory: no active reservation for holder")
	ErrPartialCommitFailure = errors.New("inventory: compensation could not release all reservations")
	ErrInvariantViolation   = errors.New("inventory: stock unit invariant violated")
)

var (
	ErrStockUnitNotFound    = errors.New("inventory: stock unit not found")
	ErrStockUnitExists      = errors.New("inventory: stock unit already exists")
	ErrStockUnitUnavailable = errors.New("inventory: stock unit is not accepting reservations")
	ErrVersionConflict      = errors.New("inventory: stock unit was modified concurrently")
	ErrInvalidQuantity      = errors.New("inventory: quantity must be positive")
	ErrInvalidStockUnitID   = errors.New("inventory: invalid stock unit id")
	ErrInvalidCheckout      = errors.New("inventory: invalid checkout request")
	ErrOrderNotFound        = errors.New("inventory: order not found")
	ErrOrderExists          = errors.New("inventory: holder already has a live order")
	ErrInvalidStatus        = errors.New("inventory: unknown stock unit status")
)

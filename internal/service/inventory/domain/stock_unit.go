package domain

import (
	"fmt"
	"time"
)

type UnitStatus string

const (
	UnitActive   UnitStatus = "active"
	UnitInactive UnitStatus = "inactive"
	UnitBlocked  UnitStatus = "blocked"
)

func (s UnitStatus) Valid() bool {
	return s == UnitActive || s == UnitInactive || s == UnitBlocked
}

// StockUnit 单个库存单元的账本。
// ReservedStock 和 AvailableStock 是派生值，每次变更后都由 recompute 重新计算。
// TotalStock 是在库未售出的数量，Consume 会把售出的部分从中扣除。
type StockUnit struct {
	ID            StockUnitID
	WarehouseName string
	Location      string

	TotalStock     int64
	AvailableStock int64
	ReservedStock  int64
	SoldStock      int64

	Reservations []Reservation

	MinStockLevel int64
	MaxStockLevel int64
	ReorderLevel  int64

	LastMovement *Movement
	Status       UnitStatus

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewStockUnit 入库创建新的库存单元。
func NewStockUnit(id StockUnitID, total int64, now time.Time) (*StockUnit, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: initial stock %d", ErrInvalidQuantity, total)
	}
	u := &StockUnit{
		ID:         id,
		TotalStock: total,
		Status:     UnitActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	u.recompute()
	if total > 0 {
		u.record(MovementIn, total, "initial stock", now)
	}
	return u, nil
}

func (u *StockUnit) recompute() {
	var reserved int64
	for _, r := range u.Reservations {
		if r.IsActive() {
			reserved += r.Quantity
		}
	}
	u.ReservedStock = reserved
	u.AvailableStock = u.TotalStock - reserved
	if u.AvailableStock < 0 {
		u.AvailableStock = 0
	}
}

func (u *StockUnit) record(t MovementType, qty int64, reason string, now time.Time) {
	u.LastMovement = &Movement{Type: t, Quantity: qty, Reason: reason, At: now}
	u.UpdatedAt = now
}

// CheckInvariants 写入前的最终检查，任何一条不成立都拒绝写入。
func (u *StockUnit) CheckInvariants() error {
	var reserved int64
	for _, r := range u.Reservations {
		if r.Quantity <= 0 {
			return fmt.Errorf("%w: reservation for %s has quantity %d", ErrInvariantViolation, r.HolderRef, r.Quantity)
		}
		if r.IsActive() {
			reserved += r.Quantity
		}
	}
	switch {
	case u.TotalStock < 0 || u.SoldStock < 0 || u.ReservedStock < 0 || u.AvailableStock < 0:
		return fmt.Errorf("%w: negative counter on %s", ErrInvariantViolation, u.ID)
	case u.ReservedStock != reserved:
		return fmt.Errorf("%w: reserved %d != active sum %d on %s", ErrInvariantViolation, u.ReservedStock, reserved, u.ID)
	case reserved > u.TotalStock:
		return fmt.Errorf("%w: reserved %d exceeds total %d on %s", ErrInvariantViolation, reserved, u.TotalStock, u.ID)
	case u.AvailableStock != u.TotalStock-u.ReservedStock:
		return fmt.Errorf("%w: available %d != total-reserved on %s", ErrInvariantViolation, u.AvailableStock, u.ID)
	}
	return nil
}

// SweepExpired 把所有已过期的 active 预占降级为 expired，返回被降级的记录。
// 幂等：没有过期记录时不做任何修改。
func (u *StockUnit) SweepExpired(now time.Time) []Reservation {
	var expired []Reservation
	var qty int64
	for i := range u.Reservations {
		if u.Reservations[i].IsExpired(now) {
			u.Reservations[i].settle(ReservationExpired, now)
			expired = append(expired, u.Reservations[i])
			qty += u.Reservations[i].Quantity
		}
	}
	if len(expired) > 0 {
		u.recompute()
		u.record(MovementExpired, qty, fmt.Sprintf("%d reservation(s) expired", len(expired)), now)
	}
	return expired
}

// Purge 删除结算时间早于 now-retention 的终态预占，返回删除数量。
func (u *StockUnit) Purge(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := now.Add(-retention)
	kept := u.Reservations[:0]
	removed := 0
	for _, r := range u.Reservations {
		if !r.IsActive() && r.SettledAt != nil && !r.SettledAt.After(cutoff) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	u.Reservations = kept
	return removed
}

// ActiveReservation 返回持有者当前有效的预占。
func (u *StockUnit) ActiveReservation(holderRef string) (Reservation, bool) {
	if i := u.activeIndex(holderRef); i >= 0 {
		return u.Reservations[i], true
	}
	return Reservation{}, false
}

// LatestReservation 返回持有者最近一次的预占（任意状态）。
func (u *StockUnit) LatestReservation(holderRef string) (Reservation, bool) {
	for i := len(u.Reservations) - 1; i >= 0; i-- {
		if u.Reservations[i].HolderRef == holderRef {
			return u.Reservations[i], true
		}
	}
	return Reservation{}, false
}

func (u *StockUnit) activeIndex(holderRef string) int {
	for i, r := range u.Reservations {
		if r.IsActive() && r.HolderRef == holderRef {
			return i
		}
	}
	return -1
}

// Reserve 为持有者预占 qty 件库存，有效期 ttl。
// 同一持有者已有有效预占时替换其数量和有效期，原占用数量视为对其可用。
func (u *StockUnit) Reserve(holderRef string, qty int64, ttl time.Duration, now time.Time) (Reservation, error) {
	if holderRef == "" {
		return Reservation{}, fmt.Errorf("%w: holder reference is required", ErrInvalidCheckout)
	}
	if qty <= 0 {
		return Reservation{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if ttl <= 0 {
		return Reservation{}, fmt.Errorf("%w: reservation ttl must be positive", ErrInvalidCheckout)
	}
	if u.Status != UnitActive {
		return Reservation{}, fmt.Errorf("%w: %s is %s", ErrStockUnitUnavailable, u.ID, u.Status)
	}

	u.SweepExpired(now)

	idx := u.activeIndex(holderRef)
	claimable := u.AvailableStock
	if idx >= 0 {
		claimable += u.Reservations[idx].Quantity
	}
	if claimable < qty {
		return Reservation{}, fmt.Errorf("%w: %s requested %d, available %d", ErrInsufficientStock, u.ID, qty, claimable)
	}

	r := Reservation{
		HolderRef:  holderRef,
		Quantity:   qty,
		ReservedAt: now,
		ExpiresAt:  now.Add(ttl),
		Status:     ReservationActive,
	}
	if idx >= 0 {
		u.Reservations[idx] = r
	} else {
		u.Reservations = append(u.Reservations, r)
	}
	u.recompute()
	u.record(MovementReserved, qty, "reserved by "+holderRef, now)
	return r, nil
}

// Consume 订单确认后把预占转为已售。
func (u *StockUnit) Consume(holderRef string, now time.Time) (Reservation, error) {
	u.SweepExpired(now)
	idx := u.activeIndex(holderRef)
	if idx < 0 {
		return Reservation{}, fmt.Errorf("%w: %s on %s", ErrReservationNotFound, holderRef, u.ID)
	}
	r := &u.Reservations[idx]
	r.settle(ReservationConsumed, now)
	u.SoldStock += r.Quantity
	u.TotalStock -= r.Quantity
	u.recompute()
	u.record(MovementConsumed, r.Quantity, "consumed by "+holderRef, now)
	return *r, nil
}

// Release 放弃预占，库存回到可用，不计入已售。
func (u *StockUnit) Release(holderRef string, now time.Time) (Reservation, error) {
	u.SweepExpired(now)
	idx := u.activeIndex(holderRef)
	if idx < 0 {
		return Reservation{}, fmt.Errorf("%w: %s on %s", ErrReservationNotFound, holderRef, u.ID)
	}
	r := &u.Reservations[idx]
	r.settle(ReservationReleased, now)
	u.recompute()
	u.record(MovementReleased, r.Quantity, "released by "+holderRef, now)
	return *r, nil
}

// AdjustTotal 按 delta 调整在库数量，不允许低于当前预占总量。
func (u *StockUnit) AdjustTotal(delta int64, movement MovementType, reason string, now time.Time) error {
	if delta == 0 {
		return fmt.Errorf("%w: adjustment delta must be non-zero", ErrInvalidQuantity)
	}
	u.SweepExpired(now)
	next := u.TotalStock + delta
	if next < 0 {
		return fmt.Errorf("%w: total would become %d on %s", ErrInsufficientStock, next, u.ID)
	}
	if next < u.ReservedStock {
		return fmt.Errorf("%w: total %d would fall below reserved %d on %s", ErrInsufficientStock, next, u.ReservedStock, u.ID)
	}
	u.TotalStock = next
	u.recompute()
	qty := delta
	if qty < 0 {
		qty = -qty
	}
	u.record(movement, qty, reason, now)
	return nil
}

// SetStatus 只有 active 的库存单元接受新预占，已有预占不受影响。
func (u *StockUnit) SetStatus(status UnitStatus, reason string, now time.Time) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	u.Status = status
	u.record(MovementAdjustment, 0, reason, now)
	return nil
}

// View 返回在 now 时刻惰性清扫后的只读副本，不修改接收者。
func (u *StockUnit) View(now time.Time) *StockUnit {
	c := u.Clone()
	c.SweepExpired(now)
	return c
}

// Clone 深拷贝。
func (u *StockUnit) Clone() *StockUnit {
	c := *u
	if u.Reservations != nil {
		c.Reservations = make([]Reservation, len(u.Reservations))
		for i, r := range u.Reservations {
			c.Reservations[i] = r
			if r.SettledAt != nil {
				t := *r.SettledAt
				c.Reservations[i].SettledAt = &t
			}
		}
	}
	if u.LastMovement != nil {
		m := *u.LastMovement
		c.LastMovement = &m
	}
	return &c
}

// Snapshot 告警规则和事件使用的计数快照。
func (u *StockUnit) Snapshot() StockSnapshot {
	return StockSnapshot{
		StockUnit:      u.ID,
		TotalStock:     u.TotalStock,
		AvailableStock: u.AvailableStock,
		ReservedStock:  u.ReservedStock,
		SoldStock:      u.SoldStock,
		ReorderLevel:   u.ReorderLevel,
		MinStockLevel:  u.MinStockLevel,
		MaxStockLevel:  u.MaxStockLevel,
	}
}

type StockSnapshot struct {
	StockUnit      StockUnitID `json:"stockUnit"`
	TotalStock     int64       `json:"totalStock"`
	AvailableStock int64       `json:"availableStock"`
	ReservedStock  int64       `json:"reservedStock"`
	SoldStock      int64       `json:"soldStock"`
	ReorderLevel   int64       `json:"reorderLevel"`
	MinStockLevel  int64       `json:"minStockLevel"`
	MaxStockLevel  int64       `json:"maxStockLevel"`
}

package domain

import "time"

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "active"
	ReservationExpired  ReservationStatus = "expired"
	ReservationConsumed ReservationStatus = "consumed"
	ReservationReleased ReservationStatus = "released"
)

// Reservation 某个持有者（购物车或订单）对库存的临时占用。
type Reservation struct {
	HolderRef  string            `json:"holderRef"`
	Quantity   int64             `json:"quantity"`
	ReservedAt time.Time         `json:"reservedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
	Status     ReservationStatus `json:"status"`
	SettledAt  *time.Time        `json:"settledAt,omitempty"`
}

func (r Reservation) IsActive() bool {
	return r.Status == ReservationActive
}

// IsExpired active 且已过期，过期时间点本身算作已过期。
func (r Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationActive && !now.Before(r.ExpiresAt)
}

func (r *Reservation) settle(status ReservationStatus, now time.Time) {
	r.Status = status
	t := now
	r.SettledAt = &t
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
	MovementReserved   MovementType = "reserved"
	MovementReleased   MovementType = "released"
	MovementConsumed   MovementType = "consumed"
	MovementExpired    MovementType = "expired"
)

// Movement 最近一次库存变动，用于审计。
type Movement struct {
	Type     MovementType `json:"type"`
	Quantity int64        `json:"quantity"`
	Reason   string       `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order states.
const (
	OrderPendingPayment = "PENDING_PAYMENT"
	OrderPaid           = "PAID"
	OrderCancelled      = "CANCELLED"
	OrderFailed         = "FAILED"
)

// Order buys one waiting room. Amount is in KRW.
type Order struct {
	ID         string          `json:"order_id"`
	UserID     uint64          `json:"user_id"`
	TimeOption string          `json:"time_option"`
	Headcount  int             `json:"headcount"`
	PhotoCount int             `json:"photo_count"`
	AddMusic   bool            `json:"add_music"`
	AddVideo   bool            `json:"add_video"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"order_status"`
	RoomID     *uint64         `json:"waiting_room_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// Payment is a confirmed (or failed) gateway transaction for an order.
type Payment struct {
	ID         uint64          `json:"payment_id"`
	OrderID    string          `json:"order_id"`
	PaymentKey string          `json:"payment_key"`
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	ApprovedAt *time.Time      `json:"approved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

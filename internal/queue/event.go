// Package queue defines message payloads exchanged over the message broker.
package queue

// Routing keys. Each one is also the name of a durable queue bound to the
// default exchange.
const (
	CapsuleBuried       = "capsule.buried"
	PaymentConfirmed    = "payment.confirmed"
	EasterEggDiscovered = "easteregg.discovered"
)

// Queues lists every queue the consumer declares.
var Queues = []string{CapsuleBuried, PaymentConfirmed, EasterEggDiscovered}

// CapsuleBuriedEvent is published when a waiting room becomes a time
// capsule, either by the host or by the deadline sweep.
type CapsuleBuriedEvent struct {
	WaitingRoomID   uint64   `json:"waiting_room_id"`
	CapsuleID       uint64   `json:"capsule_id"`
	HostUserID      uint64   `json:"host_user_id"`
	ParticipantIDs  []uint64 `json:"participant_user_ids"`
	CapsuleName     string   `json:"capsule_name"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	OpenDate        string   `json:"open_date"`
	IsAutoSubmitted bool     `json:"is_auto_submitted"`
	BuriedAt        string   `json:"buried_at"`
}

// PaymentConfirmedEvent is published once the gateway approved a payment.
type PaymentConfirmedEvent struct {
	OrderID     string `json:"order_id"`
	UserID      uint64 `json:"user_id"`
	PaymentKey  string `json:"payment_key"`
	Amount      string `json:"amount"`
	Method      string `json:"method"`
	ConfirmedAt string `json:"confirmed_at"`
}

// EasterEggDiscoveredEvent is published on the first view of an egg by a
// user, so the owner can be told who found it.
type EasterEggDiscoveredEvent struct {
	CapsuleID    uint64 `json:"capsule_id"`
	OwnerID      uint64 `json:"owner_id"`
	ViewerID     uint64 `json:"viewer_id"`
	ViewCount    int    `json:"view_count"`
	ViewLimit    int    `json:"view_limit"`
	DiscoveredAt string `json:"discovered_at"`
}

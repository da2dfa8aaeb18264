package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/timeegg/timeegg-server/internal/model"
)

// OrderRepo provides access to the orders and payments tables.
type OrderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the handle so services can open transactions spanning
// orders and waiting rooms.
func (r *OrderRepo) DB() *sql.DB { return r.db }

const orderColumns = `id, user_id, time_option, headcount, photo_count, add_music, add_video,
	amount, status, room_id, created_at, paid_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(s rowScanner) (model.Order, error) {
	var (
		o      model.Order
		roomID sql.NullInt64
		paidAt sql.NullTime
	)
	err := s.Scan(&o.ID, &o.UserID, &o.TimeOption, &o.Headcount, &o.PhotoCount, &o.AddMusic, &o.AddVideo,
		&o.Amount, &o.Status, &roomID, &o.CreatedAt, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if roomID.Valid {
		id := uint64(roomID.Int64)
		o.RoomID = &id
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.PaidAt = &t
	}
	return o, nil
}

// Create inserts a new order. ID, amount and status must be set.
func (r *OrderRepo) Create(ctx context.Context, o *model.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (id, user_id, time_option, headcount, photo_count, add_music, add_video, amount, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.TimeOption, o.Headcount, o.PhotoCount, o.AddMusic, o.AddVideo, o.Amount, o.Status, o.CreatedAt.UTC())
	if isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// GetByID loads an order regardless of owner.
func (r *OrderRepo) GetByID(ctx context.Context, id string) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
}

// GetForUpdateTx loads and row-locks an order inside tx.
func (r *OrderRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id string) (model.Order, error) {
	return scanOrder(tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, id))
}

// SetStatusTx moves an order to status. paidAt is stored only when non-nil.
func (r *OrderRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id, status string, paidAt *time.Time) error {
	var paid any
	if paidAt != nil {
		paid = paidAt.UTC()
	}
	_, err := tx.ExecContext(ctx, `UPDATE orders SET status = ?, paid_at = COALESCE(?, paid_at) WHERE id = ?`, status, paid, id)
	return err
}

// CancelPending cancels an unpaid order of userID. It returns ErrConflict
// when the order is no longer PENDING_PAYMENT.
func (r *OrderRepo) CancelPending(ctx context.Context, id string, userID uint64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ? AND user_id = ? AND status = ?`,
		model.OrderCancelled, id, userID, model.OrderPendingPayment)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// AttachRoomTx links a paid order to the room it funded.
func (r *OrderRepo) AttachRoomTx(ctx context.Context, tx *sql.Tx, id string, roomID uint64) error {
	res, err := tx.ExecContext(ctx, `UPDATE orders SET room_id = ? WHERE id = ? AND room_id IS NULL`, roomID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// CreatePaymentTx records a gateway result for an order.
func (r *OrderRepo) CreatePaymentTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	var approved any
	if p.ApprovedAt != nil {
		approved = p.ApprovedAt.UTC()
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO payments (order_id, payment_key, method, amount, status, approved_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.PaymentKey, p.Method, p.Amount, p.Status, approved)
	if isDuplicate(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

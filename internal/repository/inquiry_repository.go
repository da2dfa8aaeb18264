package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/timeegg/timeegg-server/internal/model"
)

// InquiryRepo stores support inquiries and their chat messages.
type InquiryRepo struct {
	db *sql.DB
}

func NewInquiryRepo(db *sql.DB) *InquiryRepo { return &InquiryRepo{db: db} }

func (r *InquiryRepo) Create(ctx context.Context, q *model.Inquiry) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO inquiries (user_id, title, category, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		q.UserID, q.Title, q.Category, q.Status, q.CreatedAt.UTC(), q.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	q.ID = uint64(id)
	return nil
}

// GetByID loads an inquiry; unread counts are not filled.
func (r *InquiryRepo) GetByID(ctx context.Context, id uint64) (model.Inquiry, error) {
	var q model.Inquiry
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, category, status, created_at, updated_at FROM inquiries WHERE id = ?`, id).
		Scan(&q.ID, &q.UserID, &q.Title, &q.Category, &q.Status, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return q, ErrNotFound
	}
	return q, err
}

// ListByUser returns the user's inquiries, most recently active first, with
// the number of messages from other senders the user has not read.
func (r *InquiryRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Inquiry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT i.id, i.user_id, i.title, i.category, i.status, i.created_at, i.updated_at,
		 (SELECT COUNT(*) FROM chat_messages m WHERE m.inquiry_id = i.id AND m.sender_id <> ? AND m.is_read = 0)
		 FROM inquiries i WHERE i.user_id = ? ORDER BY i.updated_at DESC, i.id DESC`,
		userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Inquiry{}
	for rows.Next() {
		var q model.Inquiry
		if err := rows.Scan(&q.ID, &q.UserID, &q.Title, &q.Category, &q.Status, &q.CreatedAt, &q.UpdatedAt, &q.Unread); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SetStatus moves an inquiry to a new state and touches updated_at.
func (r *InquiryRepo) SetStatus(ctx context.Context, id uint64, status string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE inquiries SET status = ?, updated_at = ? WHERE id = ?`, status, at.UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage persists a chat line. The caller assigns the ULID.
func (r *InquiryRepo) AddMessage(ctx context.Context, m model.ChatMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, inquiry_id, sender_id, sender_role, content, is_read, created_at) VALUES (?, ?, ?, ?, ?, 0, ?)`,
		m.ID, m.InquiryID, m.SenderID, m.SenderRole, m.Content, m.CreatedAt.UTC())
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE inquiries SET updated_at = ? WHERE id = ?`, m.CreatedAt.UTC(), m.InquiryID)
	return err
}

// Messages returns up to limit messages of an inquiry in ID order. A
// non-empty after skips everything up to and including that ID.
func (r *InquiryRepo) Messages(ctx context.Context, inquiryID uint64, after string, limit int) ([]model.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, inquiry_id, sender_id, sender_role, content, is_read, created_at FROM chat_messages
		 WHERE inquiry_id = ? AND id > ? ORDER BY id LIMIT ?`,
		inquiryID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.ChatMessage{}
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.InquiryID, &m.SenderID, &m.SenderRole, &m.Content, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkRead flags every message in the inquiry not sent by readerID as read.
func (r *InquiryRepo) MarkRead(ctx context.Context, inquiryID, readerID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE chat_messages SET is_read = 1 WHERE inquiry_id = ? AND sender_id <> ? AND is_read = 0`,
		inquiryID, readerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

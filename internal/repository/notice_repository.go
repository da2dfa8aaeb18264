package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/timeegg/timeegg-server/internal/model"
)

type NoticeRepo struct {
	db *sql.DB
}

func NewNoticeRepo(db *sql.DB) *NoticeRepo { return &NoticeRepo{db: db} }

// List returns one page of notices, pinned first and newest first, and the
// total count.
func (r *NoticeRepo) List(ctx context.Context, page, size int) ([]model.Notice, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, content, is_pinned, created_at FROM notices
		 ORDER BY is_pinned DESC, created_at DESC, id DESC LIMIT ? OFFSET ?`,
		size, (page-1)*size)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.Notice{}
	for rows.Next() {
		var n model.Notice
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.IsPinned, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

func (r *NoticeRepo) GetByID(ctx context.Context, id uint64) (model.Notice, error) {
	var n model.Notice
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, content, is_pinned, created_at FROM notices WHERE id = ?`, id).
		Scan(&n.ID, &n.Title, &n.Content, &n.IsPinned, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return n, ErrNotFound
	}
	return n, err
}

// Create is used by admins to publish a notice.
func (r *NoticeRepo) Create(ctx context.Context, n *model.Notice) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO notices (title, content, is_pinned, created_at) VALUES (?, ?, ?, ?)`,
		n.Title, n.Content, n.IsPinned, n.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	n.ID = uint64(id)
	return nil
}

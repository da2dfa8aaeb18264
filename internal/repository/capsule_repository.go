package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
)

// CapsuleRepo manages capsules and their view records.
type CapsuleRepo struct {
	db *sql.DB
}

func NewCapsuleRepo(db *sql.DB) *CapsuleRepo { return &CapsuleRepo{db: db} }

// DB exposes the handle for transactions.
func (r *CapsuleRepo) DB() *sql.DB { return r.db }

const capsuleColumns = `id, owner_id, type, title, content, media_urls, latitude, longitude,
	view_limit, view_count, open_date, room_id, status, created_at`

func scanCapsule(s rowScanner) (model.Capsule, error) {
	var (
		c        model.Capsule
		media    []byte
		lat, lng sql.NullFloat64
		openDate sql.NullTime
		roomID   sql.NullInt64
	)
	err := s.Scan(&c.ID, &c.OwnerID, &c.Type, &c.Title, &c.Content, &media, &lat, &lng,
		&c.ViewLimit, &c.ViewCount, &openDate, &roomID, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.MediaURLs = []string{}
	if len(media) > 0 {
		if err := json.Unmarshal(media, &c.MediaURLs); err != nil {
			return c, err
		}
	}
	if lat.Valid && lng.Valid {
		c.Latitude, c.Longitude = &lat.Float64, &lng.Float64
	}
	if openDate.Valid {
		t := openDate.Time
		c.OpenDate = &t
	}
	if roomID.Valid {
		id := uint64(roomID.Int64)
		c.RoomID = &id
	}
	return c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCapsule(ctx context.Context, e execer, c *model.Capsule) error {
	media, err := json.Marshal(nonNil(c.MediaURLs))
	if err != nil {
		return err
	}
	var openDate any
	if c.OpenDate != nil {
		openDate = c.OpenDate.UTC()
	}
	res, err := e.ExecContext(ctx,
		`INSERT INTO capsules (owner_id, type, title, content, media_urls, latitude, longitude, view_limit, open_date, room_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OwnerID, c.Type, c.Title, c.Content, media, c.Latitude, c.Longitude, c.ViewLimit, openDate, c.RoomID,
		c.Status, c.CreatedAt.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// Create inserts a capsule outside any transaction.
func (r *CapsuleRepo) Create(ctx context.Context, c *model.Capsule) error {
	return insertCapsule(ctx, r.db, c)
}

// CreateTx inserts a capsule as part of a larger write, such as burying a
// waiting room.
func (r *CapsuleRepo) CreateTx(ctx context.Context, tx *sql.Tx, c *model.Capsule) error {
	return insertCapsule(ctx, tx, c)
}

// GetByID loads one capsule.
func (r *CapsuleRepo) GetByID(ctx context.Context, id uint64) (model.Capsule, error) {
	return scanCapsule(r.db.QueryRowContext(ctx, `SELECT `+capsuleColumns+` FROM capsules WHERE id = ?`, id))
}

// GetForUpdateTx loads and row-locks a capsule so concurrent viewers
// cannot overshoot view_limit.
func (r *CapsuleRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Capsule, error) {
	return scanCapsule(tx.QueryRowContext(ctx, `SELECT `+capsuleColumns+` FROM capsules WHERE id = ? FOR UPDATE`, id))
}

// InBox returns active, located capsules inside the box, nearest to
// center first by an equirectangular approximation, so limit keeps the
// closest ones. Callers refine by exact distance.
func (r *CapsuleRepo) InBox(ctx context.Context, box geo.Box, center geo.Point, limit int) ([]model.Capsule, error) {
	lngCond := `longitude BETWEEN ? AND ?`
	if box.Wraps() {
		lngCond = `(longitude >= ? OR longitude <= ?)`
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+capsuleColumns+` FROM capsules
		 WHERE status = 'ACTIVE' AND latitude BETWEEN ? AND ? AND `+lngCond+`
		 ORDER BY POW(latitude - ?, 2) + POW(LEAST(ABS(longitude - ?), 360 - ABS(longitude - ?)) * ?, 2), id
		 LIMIT ?`,
		box.MinLat, box.MaxLat, box.MinLng, box.MaxLng,
		center.Lat, center.Lng, center.Lng, geo.LngScale(center.Lat), limit)
	if err != nil {
		return nil, err
	}
	return collectCapsules(rows)
}

// ListByOwner returns the owner's capsules, newest first. An empty
// capsuleType means every type.
func (r *CapsuleRepo) ListByOwner(ctx context.Context, ownerID uint64, capsuleType string) ([]model.Capsule, error) {
	q := `SELECT ` + capsuleColumns + ` FROM capsules WHERE owner_id = ?`
	args := []any{ownerID}
	if capsuleType != "" {
		q += ` AND type = ?`
		args = append(args, capsuleType)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectCapsules(rows)
}

func collectCapsules(rows *sql.Rows) ([]model.Capsule, error) {
	defer rows.Close()
	out := []model.Capsule{}
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordViewTx inserts a view row. It reports false when the user had
// already viewed the capsule.
func (r *CapsuleRepo) RecordViewTx(ctx context.Context, tx *sql.Tx, capsuleID, userID uint64, at time.Time) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT IGNORE INTO capsule_views (capsule_id, user_id, viewed_at) VALUES (?, ?, ?)`,
		capsuleID, userID, at.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementViewTx bumps view_count by one.
func (r *CapsuleRepo) IncrementViewTx(ctx context.Context, tx *sql.Tx, capsuleID uint64) error {
	_, err := tx.ExecContext(ctx, `UPDATE capsules SET view_count = view_count + 1 WHERE id = ?`, capsuleID)
	return err
}

// Viewers lists who discovered a capsule, earliest first.
func (r *CapsuleRepo) Viewers(ctx context.Context, capsuleID uint64) ([]model.Viewer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT v.user_id, u.nickname, v.viewed_at FROM capsule_views v JOIN users u ON u.id = v.user_id
		 WHERE v.capsule_id = ? ORDER BY v.viewed_at`, capsuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Viewer{}
	for rows.Next() {
		var v model.Viewer
		if err := rows.Scan(&v.UserID, &v.UserName, &v.ViewedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const countEggs = `SELECT COUNT(*) FROM capsules WHERE owner_id = ? AND type = 'EASTER_EGG' AND status = 'ACTIVE'`

// CountActiveEggs returns how many egg slots the owner currently uses.
func (r *CapsuleRepo) CountActiveEggs(ctx context.Context, ownerID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, countEggs, ownerID).Scan(&n)
	return n, err
}

// CountActiveEggsTx counts the owner's eggs after locking the owner's user
// row, which serializes concurrent egg creation by the same user.
func (r *CapsuleRepo) CountActiveEggsTx(ctx context.Context, tx *sql.Tx, ownerID uint64) (int, error) {
	var id uint64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = ? FOR UPDATE`, ownerID).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	var n int
	err := tx.QueryRowContext(ctx, countEggs, ownerID).Scan(&n)
	return n, err
}

// RetireEggs frees every slot of the owner and returns how many eggs were
// retired.
func (r *CapsuleRepo) RetireEggs(ctx context.Context, ownerID uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE capsules SET status = 'RETIRED' WHERE owner_id = ? AND type = 'EASTER_EGG' AND status = 'ACTIVE'`,
		ownerID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

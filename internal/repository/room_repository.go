package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/timeegg/timeegg-server/internal/model"
)

// RoomRepo manages waiting_rooms, room_participants and room_contents.
// Methods ending in Tx run inside the caller's transaction; the caller
// commits or rolls back.
type RoomRepo struct {
	db *sql.DB
}

func NewRoomRepo(db *sql.DB) *RoomRepo { return &RoomRepo{db: db} }

// DB exposes the underlying handle for transactions.
func (r *RoomRepo) DB() *sql.DB { return r.db }

const roomColumns = `id, order_id, host_user_id, capsule_name, open_date, deadline, status, max_headcount,
	max_images_per_person, has_music, has_video, invite_code, latitude, longitude, is_auto_submitted,
	capsule_id, created_at, updated_at`

func scanRoom(s rowScanner) (model.WaitingRoom, error) {
	var (
		rm        model.WaitingRoom
		lat, lng  sql.NullFloat64
		capsuleID sql.NullInt64
	)
	err := s.Scan(&rm.ID, &rm.OrderID, &rm.HostUserID, &rm.CapsuleName, &rm.OpenDate, &rm.Deadline, &rm.Status,
		&rm.MaxHeadcount, &rm.MaxImagesPerPerson, &rm.HasMusic, &rm.HasVideo, &rm.InviteCode, &lat, &lng,
		&rm.IsAutoSubmitted, &capsuleID, &rm.CreatedAt, &rm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rm, ErrNotFound
	}
	if err != nil {
		return rm, err
	}
	if lat.Valid && lng.Valid {
		rm.Latitude, rm.Longitude = &lat.Float64, &lng.Float64
	}
	if capsuleID.Valid {
		id := uint64(capsuleID.Int64)
		rm.CapsuleID = &id
	}
	return rm, nil
}

// CreateTx inserts a room and fills in its ID.
func (r *RoomRepo) CreateTx(ctx context.Context, tx *sql.Tx, rm *model.WaitingRoom) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO waiting_rooms (order_id, host_user_id, capsule_name, open_date, deadline, status, max_headcount,
		 max_images_per_person, has_music, has_video, invite_code, latitude, longitude, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rm.OrderID, rm.HostUserID, rm.CapsuleName, rm.OpenDate.UTC(), rm.Deadline.UTC(), rm.Status, rm.MaxHeadcount,
		rm.MaxImagesPerPerson, rm.HasMusic, rm.HasVideo, rm.InviteCode, rm.Latitude, rm.Longitude, rm.CreatedAt.UTC())
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
	rm.ID = uint64(id)
	return nil
}

// GetByID loads a room without participants.
func (r *RoomRepo) GetByID(ctx context.Context, id uint64) (model.WaitingRoom, error) {
	return scanRoom(r.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM waiting_rooms WHERE id = ?`, id))
}

// GetForUpdateTx loads and row-locks a room. Joins, saves and submits all
// take this lock first so status transitions are serialized per room.
func (r *RoomRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.WaitingRoom, error) {
	return scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM waiting_rooms WHERE id = ? FOR UPDATE`, id))
}

const participantQuery = `SELECT p.id, p.room_id, p.user_id, u.nickname, p.slot_number, p.role, p.status, p.joined_at,
	EXISTS(SELECT 1 FROM room_contents c WHERE c.participant_id = p.id)
	FROM room_participants p JOIN users u ON u.id = p.user_id
	WHERE p.room_id = ? ORDER BY p.slot_number`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listParticipants(ctx context.Context, q querier, roomID uint64) ([]model.Participant, error) {
	rows, err := q.QueryContext(ctx, participantQuery, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Participant{}
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.RoomID, &p.UserID, &p.UserName, &p.SlotNumber, &p.Role, &p.Status, &p.JoinedAt, &p.HasContent); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Participants lists a room's participants ordered by slot.
func (r *RoomRepo) Participants(ctx context.Context, roomID uint64) ([]model.Participant, error) {
	return listParticipants(ctx, r.db, roomID)
}

// ParticipantsTx is Participants inside a transaction.
func (r *RoomRepo) ParticipantsTx(ctx context.Context, tx *sql.Tx, roomID uint64) ([]model.Participant, error) {
	return listParticipants(ctx, tx, roomID)
}

// AddParticipantTx claims a slot. Duplicate user or slot yields ErrConflict.
func (r *RoomRepo) AddParticipantTx(ctx context.Context, tx *sql.Tx, p *model.Participant) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO room_participants (room_id, user_id, slot_number, role, status, joined_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.RoomID, p.UserID, p.SlotNumber, p.Role, p.Status, p.JoinedAt.UTC())
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

// SetStatusTx updates the non-terminal status of a room.
func (r *RoomRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status string) error {
	_, err := tx.ExecContext(ctx, `UPDATE waiting_rooms SET status = ? WHERE id = ? AND status <> 'BURIED'`, status, id)
	return err
}

// BuryTx moves a room to BURIED and links the capsule created for it.
// lat/lng may be nil for auto-submitted rooms without a fallback location.
func (r *RoomRepo) BuryTx(ctx context.Context, tx *sql.Tx, id uint64, lat, lng *float64, auto bool, capsuleID uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE waiting_rooms SET status = 'BURIED', latitude = ?, longitude = ?, is_auto_submitted = ?, capsule_id = ?
		 WHERE id = ? AND status <> 'BURIED'`,
		lat, lng, auto, capsuleID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

// ExpiredIDs returns up to limit rooms whose deadline passed without a
// burial, oldest first.
func (r *RoomRepo) ExpiredIDs(ctx context.Context, now time.Time, limit int) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM waiting_rooms WHERE status <> 'BURIED' AND deadline <= ? ORDER BY deadline LIMIT ?`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountActive returns the number of rooms not yet buried.
func (r *RoomRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waiting_rooms WHERE status <> 'BURIED'`).Scan(&n)
	return n, err
}

const contentColumns = `id, room_id, participant_id, text, images, music, video, created_at, updated_at`

func scanContent(s rowScanner) (model.Content, error) {
	var (
		c      model.Content
		images []byte
	)
	err := s.Scan(&c.ID, &c.RoomID, &c.ParticipantID, &c.Text, &images, &c.Music, &c.Video, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &c.Images); err != nil {
			return c, err
		}
	}
	return c, nil
}

// ContentByParticipant loads what one participant wrote.
func (r *RoomRepo) ContentByParticipant(ctx context.Context, participantID uint64) (model.Content, error) {
	return scanContent(r.db.QueryRowContext(ctx,
		`SELECT `+contentColumns+` FROM room_contents WHERE participant_id = ?`, participantID))
}

// ContentsTx lists every content row of a room.
func (r *RoomRepo) ContentsTx(ctx context.Context, tx *sql.Tx, roomID uint64) ([]model.Content, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+contentColumns+` FROM room_contents WHERE room_id = ? ORDER BY id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertContentTx stores a participant's first save. A second insert for
// the same participant yields ErrConflict.
func (r *RoomRepo) InsertContentTx(ctx context.Context, tx *sql.Tx, c *model.Content) error {
	images, err := json.Marshal(nonNil(c.Images))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO room_contents (room_id, participant_id, text, images, music, video, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RoomID, c.ParticipantID, c.Text, images, c.Music, c.Video, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
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
	c.ID = uint64(id)
	return nil
}

// UpdateContentTx overwrites a participant's content. It returns
// ErrNotFound when nothing was saved before.
func (r *RoomRepo) UpdateContentTx(ctx context.Context, tx *sql.Tx, c *model.Content) error {
	images, err := json.Marshal(nonNil(c.Images))
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE room_contents SET text = ?, images = ?, music = ?, video = ?, updated_at = ? WHERE participant_id = ?`,
		c.Text, images, c.Music, c.Video, c.UpdatedAt.UTC(), c.ParticipantID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_contents WHERE participant_id = ?`, c.ParticipantID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

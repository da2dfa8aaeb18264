package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/config"
	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/monitoring"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
	"github.com/timeegg/timeegg-server/internal/utils"
	"github.com/timeegg/timeegg-server/internal/waitingroom"
)

const (
	maxCapsuleName = 100
	maxContentText = 5000
	sweepBatch     = 100
)

// RoomService runs the waiting-room lifecycle: creation from a paid
// order, joins, per-participant content and burial.
type RoomService struct {
	rooms    *repository.RoomRepo
	orders   *repository.OrderRepo
	capsules *repository.CapsuleRepo
	clock    clockwork.Clock
	events   Publisher
	cache    Invalidator
	logger   *zap.Logger
}

func NewRoomService(rooms *repository.RoomRepo, orders *repository.OrderRepo, capsules *repository.CapsuleRepo,
	clk clockwork.Clock, events Publisher, cache Invalidator, logger *zap.Logger) *RoomService {
	if events == nil {
		events = NopPublisher{}
	}
	if cache == nil {
		cache = nopInvalidator{}
	}
	return &RoomService{rooms: rooms, orders: orders, capsules: capsules, clock: clk, events: events, cache: cache, logger: logger}
}

// RoomPath is the URL prefix of every cached response about a room.
func RoomPath(roomID uint64) string {
	return "/api/capsules/step-rooms/" + strconv.FormatUint(roomID, 10)
}

// CreateRoomInput is the body of POST /capsules/step-rooms/create.
// Latitude/Longitude are the fallback burial spot used when the deadline
// sweep buries the room without the host.
type CreateRoomInput struct {
	OrderID     string
	CapsuleName string
	OpenDate    time.Time
	Latitude    *float64
	Longitude   *float64
}

// Create turns a paid, unused order into a waiting room hosted by userID.
func (s *RoomService) Create(ctx context.Context, userID uint64, in CreateRoomInput) (model.WaitingRoom, error) {
	name := strings.TrimSpace(in.CapsuleName)
	if name == "" || utf8.RuneCountInString(name) > maxCapsuleName {
		return model.WaitingRoom{}, withMessage(ErrInvalidRequest, "capsule_name must be 1-%d characters", maxCapsuleName)
	}
	if strings.TrimSpace(in.OrderID) == "" {
		return model.WaitingRoom{}, withMessage(ErrInvalidRequest, "order_id is required")
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return model.WaitingRoom{}, ErrInvalidLocation
	}
	if in.Latitude != nil && !(geo.Point{Lat: *in.Latitude, Lng: *in.Longitude}).Valid() {
		return model.WaitingRoom{}, ErrInvalidLocation
	}
	code, err := utils.NewInviteCode()
	if err != nil {
		return model.WaitingRoom{}, fmt.Errorf("invite code: %w", err)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	room := model.WaitingRoom{
		OrderID:     in.OrderID,
		HostUserID:  userID,
		CapsuleName: name,
		Status:      model.RoomWaiting,
		InviteCode:  code,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		CreatedAt:   now,
		UpdatedAt:   now,
		Deadline:    waitingroom.Deadline(now),
	}

	err = withTx(ctx, s.rooms.DB(), func(tx *sql.Tx) error {
		order, err := s.orders.GetForUpdateTx(ctx, tx, in.OrderID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && order.UserID != userID) {
			return ErrOrderNotFound
		}
		if err != nil {
			return err
		}
		if order.Status != model.OrderPaid {
			return ErrOrderNotPaid
		}
		if order.RoomID != nil {
			return ErrOrderUsed
		}
		room.MaxHeadcount = order.Headcount
		room.MaxImagesPerPerson = order.PhotoCount
		room.HasMusic = order.AddMusic
		room.HasVideo = order.AddVideo
		room.OpenDate = in.OpenDate.UTC()
		if in.OpenDate.IsZero() {
			after, _ := config.OpenAfter(order.TimeOption)
			room.OpenDate = room.Deadline.Add(after)
		} else if !room.OpenDate.After(room.Deadline) {
			return withMessage(ErrInvalidRequest, "open_date must be after the submission deadline")
		}

		if err := s.rooms.CreateTx(ctx, tx, &room); err != nil {
			return err
		}
		if err := s.orders.AttachRoomTx(ctx, tx, order.ID, room.ID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrOrderUsed
			}
			return err
		}
		host := model.Participant{RoomID: room.ID, UserID: userID, SlotNumber: 1, Role: model.ParticipantHost, Status: "JOINED", JoinedAt: now}
		return s.rooms.AddParticipantTx(ctx, tx, &host)
	})
	if err != nil {
		return model.WaitingRoom{}, wrap("create room", err)
	}
	monitoring.RoomCreated()
	s.logger.Info("waiting room created", zap.Uint64("waiting_room_id", room.ID), zap.String("order_id", room.OrderID), zap.Uint64("host", userID))
	return s.Get(ctx, room.ID, userID)
}

// Get returns the room with its participants. Only participants may read
// a room.
func (s *RoomService) Get(ctx context.Context, roomID, userID uint64) (model.WaitingRoom, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if errors.Is(err, repository.ErrNotFound) {
		return room, ErrRoomNotFound
	}
	if err != nil {
		return room, fmt.Errorf("load room: %w", err)
	}
	ps, err := s.rooms.Participants(ctx, roomID)
	if err != nil {
		return room, fmt.Errorf("load participants: %w", err)
	}
	if _, ok := findParticipant(ps, userID); !ok {
		return model.WaitingRoom{}, ErrNotParticipant
	}
	room.Participants = ps
	room.CurrentHeadcount = len(ps)
	return room, nil
}

// Settings returns the upload rules of a room to its participants.
func (s *RoomService) Settings(ctx context.Context, roomID, userID uint64) (model.RoomSettings, error) {
	room, err := s.Get(ctx, roomID, userID)
	if err != nil {
		return model.RoomSettings{}, err
	}
	return room.Settings(), nil
}

// JoinResult is the body of a successful join.
type JoinResult struct {
	Success       bool   `json:"success"`
	WaitingRoomID uint64 `json:"waiting_room_id"`
	SlotNumber    int    `json:"slot_number"`
}

// Join claims the lowest free slot for userID. Checks run in the order
// invite code, buried, deadline, membership, capacity.
func (s *RoomService) Join(ctx context.Context, roomID, userID uint64, inviteCode string) (JoinResult, error) {
	now := s.clock.Now().UTC()
	var slot int
	err := withTx(ctx, s.rooms.DB(), func(tx *sql.Tx) error {
		room, err := s.rooms.GetForUpdateTx(ctx, tx, roomID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		if !strings.EqualFold(strings.TrimSpace(inviteCode), room.InviteCode) {
			return ErrInvalidInvite
		}
		if room.Status == model.RoomBuried {
			return ErrJoinBuried
		}
		if waitingroom.Expired(room.CreatedAt, now) {
			return ErrJoinExpired
		}
		ps, err := s.rooms.ParticipantsTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if _, ok := findParticipant(ps, userID); ok {
			return ErrAlreadyJoined
		}
		if len(ps) >= room.MaxHeadcount {
			return ErrSlotsFull
		}
		slot = lowestFreeSlot(ps)
		p := model.Participant{RoomID: roomID, UserID: userID, SlotNumber: slot, Role: model.ParticipantGuest, Status: "JOINED", JoinedAt: now}
		if err := s.rooms.AddParticipantTx(ctx, tx, &p); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return ErrAlreadyJoined
			}
			return err
		}
		return s.syncStatus(ctx, tx, room, append(ps, p))
	})
	if de, ok := AsDomain(err); ok {
		monitoring.JoinResult(de.Code)
		return JoinResult{}, de
	}
	if err != nil {
		return JoinResult{}, fmt.Errorf("join room: %w", err)
	}
	monitoring.JoinResult("OK")
	s.cache.InvalidatePrefix(ctx, RoomPath(roomID))
	return JoinResult{Success: true, WaitingRoomID: roomID, SlotNumber: slot}, nil
}

// ContentInput is what a participant writes.
type ContentInput struct {
	Text   string
	Images []string
	Music  string
	Video  string
}

// MyContent returns what userID wrote, or ErrContentNotFound.
func (s *RoomService) MyContent(ctx context.Context, roomID, userID uint64) (model.Content, error) {
	room, err := s.Get(ctx, roomID, userID)
	if err != nil {
		return model.Content{}, err
	}
	me, _ := findParticipant(room.Participants, userID)
	c, err := s.rooms.ContentByParticipant(ctx, me.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return c, ErrContentNotFound
	}
	if err != nil {
		return c, fmt.Errorf("load content: %w", err)
	}
	return c, nil
}

// SaveContent stores the participant's content. create selects POST
// semantics (first save) over PATCH semantics (overwrite).
func (s *RoomService) SaveContent(ctx context.Context, roomID, userID uint64, in ContentInput, create bool) (model.Content, error) {
	now := s.clock.Now().UTC().Truncate(time.Second)
	var saved model.Content
	err := withTx(ctx, s.rooms.DB(), func(tx *sql.Tx) error {
		room, err := s.rooms.GetForUpdateTx(ctx, tx, roomID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		ps, err := s.rooms.ParticipantsTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		me, ok := findParticipant(ps, userID)
		if !ok {
			return ErrNotParticipant
		}
		if room.Status == model.RoomBuried {
			return ErrContentLocked
		}
		if waitingroom.Expired(room.CreatedAt, now) {
			return ErrDeadlineExpired
		}
		if err := validateContent(room.Settings(), in); err != nil {
			return err
		}
		saved = model.Content{
			RoomID:        roomID,
			ParticipantID: me.ID,
			Text:          strings.TrimSpace(in.Text),
			Images:        in.Images,
			Music:         in.Music,
			Video:         in.Video,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if create {
			err = s.rooms.InsertContentTx(ctx, tx, &saved)
			if errors.Is(err, repository.ErrConflict) {
				return ErrContentExists
			}
		} else {
			err = s.rooms.UpdateContentTx(ctx, tx, &saved)
			if errors.Is(err, repository.ErrNotFound) {
				return ErrContentNotFound
			}
		}
		if err != nil {
			return err
		}
		for i := range ps {
			if ps[i].ID == me.ID {
				ps[i].HasContent = true
			}
		}
		return s.syncStatus(ctx, tx, room, ps)
	})
	if err != nil {
		return model.Content{}, wrap("save content", err)
	}
	if saved.Images == nil {
		saved.Images = []string{}
	}
	s.cache.InvalidatePrefix(ctx, RoomPath(roomID))
	return saved, nil
}

func validateContent(settings model.RoomSettings, in ContentInput) error {
	aff := settings.Affordances()
	text := strings.TrimSpace(in.Text)
	if text == "" && len(in.Images) == 0 && in.Music == "" && in.Video == "" {
		return withMessage(ErrInvalidRequest, "content is empty")
	}
	if utf8.RuneCountInString(text) > maxContentText {
		return withMessage(ErrInvalidRequest, "text is longer than %d characters", maxContentText)
	}
	if len(in.Images) > aff.MaxImages {
		return withMessage(ErrTooManyImages, "at most %d images per person", aff.MaxImages)
	}
	for _, u := range in.Images {
		if strings.TrimSpace(u) == "" {
			return withMessage(ErrInvalidRequest, "empty image url")
		}
	}
	if in.Music != "" && !aff.Music {
		return withMessage(ErrMediaNotAllowed, "music is not enabled for this room")
	}
	if in.Video != "" && !aff.Video {
		return withMessage(ErrMediaNotAllowed, "video is not enabled for this room")
	}
	return nil
}

// syncStatus stores the progress status derived from ps when it changed.
func (s *RoomService) syncStatus(ctx context.Context, tx *sql.Tx, room model.WaitingRoom, ps []model.Participant) error {
	next := waitingroom.Progress(ps)
	if next == room.Status {
		return nil
	}
	return s.rooms.SetStatusTx(ctx, tx, room.ID, next)
}

// SubmitResult is the body of a successful submit.
type SubmitResult struct {
	WaitingRoomID   uint64 `json:"waiting_room_id"`
	CapsuleID       uint64 `json:"capsule_id"`
	Status          string `json:"status"`
	IsAutoSubmitted bool   `json:"is_auto_submitted"`
}

// Submit buries the room at the given location on behalf of its host.
func (s *RoomService) Submit(ctx context.Context, roomID, userID uint64, lat, lng *float64) (SubmitResult, error) {
	if lat == nil || lng == nil || !(geo.Point{Lat: *lat, Lng: *lng}).Valid() {
		return SubmitResult{}, ErrInvalidLocation
	}
	now := s.clock.Now().UTC()
	var (
		res   SubmitResult
		event queue.CapsuleBuriedEvent
	)
	err := withTx(ctx, s.rooms.DB(), func(tx *sql.Tx) error {
		room, err := s.rooms.GetForUpdateTx(ctx, tx, roomID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}
		ps, err := s.rooms.ParticipantsTx(ctx, tx, roomID)
		if err != nil {
			return err
		}
		me, ok := findParticipant(ps, userID)
		if !ok {
			return ErrNotParticipant
		}
		completed := make([]bool, len(ps))
		for i, p := range ps {
			completed[i] = p.HasContent
		}
		d := waitingroom.Evaluate(waitingroom.Input{
			IsHost:    me.IsHost(),
			Status:    room.Status,
			CreatedAt: room.CreatedAt,
			Completed: completed,
			Now:       now,
		})
		if !d.CanSubmit {
			return reasonError(d)
		}
		capsuleID, err := s.bury(ctx, tx, room, ps, lat, lng, false, now)
		if err != nil {
			return err
		}
		res = SubmitResult{WaitingRoomID: roomID, CapsuleID: capsuleID, Status: model.RoomBuried}
		event = buriedEvent(room, ps, capsuleID, lat, lng, false, now)
		return nil
	})
	if err != nil {
		return SubmitResult{}, wrap("submit room", err)
	}
	s.afterBury(ctx, event, monitoring.ModeManual)
	return res, nil
}

func reasonError(d waitingroom.Decision) error {
	switch d.Reason {
	case waitingroom.ReasonNotHost:
		return ErrNotHost
	case waitingroom.ReasonBuried:
		return ErrAlreadySubmitted
	case waitingroom.ReasonExpired:
		return ErrDeadlineExpired
	default:
		return withMessage(ErrIncomplete, "%d participant(s) have not written yet", d.Pending)
	}
}

// AutoSubmitExpired buries every room past its deadline. Rooms are
// processed one transaction each so one failure does not block the rest.
// It returns how many rooms were buried.
func (s *RoomService) AutoSubmitExpired(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	ids, err := s.rooms.ExpiredIDs(ctx, now, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired rooms: %w", err)
	}
	buried := 0
	for _, id := range ids {
		var event queue.CapsuleBuriedEvent
		done := false
		err := withTx(ctx, s.rooms.DB(), func(tx *sql.Tx) error {
			room, err := s.rooms.GetForUpdateTx(ctx, tx, id)
			if err != nil {
				return err
			}
			// The host may have submitted between the listing and the lock.
			if room.Status == model.RoomBuried || !waitingroom.Expired(room.CreatedAt, now) {
				return nil
			}
			ps, err := s.rooms.ParticipantsTx(ctx, tx, id)
			if err != nil {
				return err
			}
			capsuleID, err := s.bury(ctx, tx, room, ps, room.Latitude, room.Longitude, true, now)
			if err != nil {
				return err
			}
			event = buriedEvent(room, ps, capsuleID, room.Latitude, room.Longitude, true, now)
			done = true
			return nil
		})
		if err != nil {
			s.logger.Error("auto-submit failed", zap.Uint64("waiting_room_id", id), zap.Error(err))
			continue
		}
		if done {
			buried++
			s.afterBury(ctx, event, monitoring.ModeAuto)
		}
	}
	return buried, nil
}

// contribution is one participant's part of a buried capsule's content.
type contribution struct {
	UserName string   `json:"user_name"`
	Slot     int      `json:"slot_number"`
	Text     string   `json:"text"`
	Images   []string `json:"images"`
	Music    string   `json:"music,omitempty"`
	Video    string   `json:"video,omitempty"`
}

// bury creates the TIME_CAPSULE holding every participant's content and
// marks the room BURIED. lat/lng may be nil only for auto-submission.
func (s *RoomService) bury(ctx context.Context, tx *sql.Tx, room model.WaitingRoom, ps []model.Participant,
	lat, lng *float64, auto bool, now time.Time) (uint64, error) {
	contents, err := s.rooms.ContentsTx(ctx, tx, room.ID)
	if err != nil {
		return 0, err
	}
	byParticipant := make(map[uint64]model.Content, len(contents))
	for _, c := range contents {
		byParticipant[c.ParticipantID] = c
	}
	parts := make([]contribution, 0, len(contents))
	var media []string
	for _, p := range ps {
		c, ok := byParticipant[p.ID]
		if !ok {
			continue
		}
		parts = append(parts, contribution{UserName: p.UserName, Slot: p.SlotNumber, Text: c.Text, Images: c.Images, Music: c.Music, Video: c.Video})
		media = append(media, c.Images...)
		for _, u := range []string{c.Music, c.Video} {
			if u != "" {
				media = append(media, u)
			}
		}
	}
	body, err := json.Marshal(parts)
	if err != nil {
		return 0, err
	}
	openDate := room.OpenDate
	roomID := room.ID
	capsule := model.Capsule{
		OwnerID:   room.HostUserID,
		Type:      model.CapsuleTimeCapsule,
		Title:     room.CapsuleName,
		Content:   string(body),
		MediaURLs: media,
		Latitude:  lat,
		Longitude: lng,
		OpenDate:  &openDate,
		RoomID:    &roomID,
		Status:    model.CapsuleActive,
		CreatedAt: now.Truncate(time.Second),
	}
	if err := s.capsules.CreateTx(ctx, tx, &capsule); err != nil {
		return 0, err
	}
	if err := s.rooms.BuryTx(ctx, tx, room.ID, lat, lng, auto, capsule.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return 0, ErrAlreadySubmitted
		}
		return 0, err
	}
	return capsule.ID, nil
}

func buriedEvent(room model.WaitingRoom, ps []model.Participant, capsuleID uint64, lat, lng *float64, auto bool, now time.Time) queue.CapsuleBuriedEvent {
	ids := make([]uint64, len(ps))
	for i, p := range ps {
		ids[i] = p.UserID
	}
	return queue.CapsuleBuriedEvent{
		WaitingRoomID:   room.ID,
		CapsuleID:       capsuleID,
		HostUserID:      room.HostUserID,
		ParticipantIDs:  ids,
		CapsuleName:     room.CapsuleName,
		Latitude:        lat,
		Longitude:       lng,
		OpenDate:        room.OpenDate.UTC().Format(time.RFC3339),
		IsAutoSubmitted: auto,
		BuriedAt:        now.UTC().Format(time.RFC3339),
	}
}

func (s *RoomService) afterBury(ctx context.Context, ev queue.CapsuleBuriedEvent, mode string) {
	monitoring.Submitted(mode)
	s.cache.InvalidatePrefix(ctx, RoomPath(ev.WaitingRoomID))
	_ = s.events.Publish(ctx, queue.CapsuleBuried, ev)
	s.logger.Info("waiting room buried",
		zap.Uint64("waiting_room_id", ev.WaitingRoomID),
		zap.Uint64("capsule_id", ev.CapsuleID),
		zap.String("mode", mode))
}

func findParticipant(ps []model.Participant, userID uint64) (model.Participant, bool) {
	for _, p := range ps {
		if p.UserID == userID {
			return p, true
		}
	}
	return model.Participant{}, false
}

// lowestFreeSlot returns the smallest slot number, from 1, that nobody
// holds.
func lowestFreeSlot(ps []model.Participant) int {
	taken := make(map[int]bool, len(ps))
	for _, p := range ps {
		taken[p.SlotNumber] = true
	}
	n := 1
	for taken[n] {
		n++
	}
	return n
}

// wrap passes DomainErrors through untouched and annotates everything else.
func wrap(op string, err error) error {
	if _, ok := AsDomain(err); ok {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

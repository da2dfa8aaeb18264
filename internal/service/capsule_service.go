package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/monitoring"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
)

const (
	maxTitle        = 100
	maxMediaPerEgg  = 10
	defaultMapRange = 1000.0
	maxMapRange     = 5000.0
	nearbyLimit     = 500
)

// CapsuleService handles easter eggs: creation against the slot quota,
// the map query and discovery.
type CapsuleService struct {
	capsules *repository.CapsuleRepo
	slots    int
	radius   float64
	clock    clockwork.Clock
	events   Publisher
	logger   *zap.Logger
}

// NewCapsuleService takes the per-user slot count and the discovery
// radius in meters.
func NewCapsuleService(capsules *repository.CapsuleRepo, slots int, radius float64, clk clockwork.Clock, events Publisher, logger *zap.Logger) *CapsuleService {
	if events == nil {
		events = NopPublisher{}
	}
	return &CapsuleService{capsules: capsules, slots: slots, radius: radius, clock: clk, events: events, logger: logger}
}

// EggInput is the body of POST /capsules.
type EggInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	MediaURLs []string `json:"media_urls"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	ViewLimit int      `json:"view_limit"`
}

// CreateEgg buries an easter egg, consuming one slot.
func (s *CapsuleService) CreateEgg(ctx context.Context, userID uint64, in EggInput) (model.Capsule, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitle {
		return model.Capsule{}, withMessage(ErrInvalidRequest, "title must be 1-%d characters", maxTitle)
	}
	if strings.TrimSpace(in.Content) == "" && len(in.MediaURLs) == 0 {
		return model.Capsule{}, withMessage(ErrInvalidRequest, "content is empty")
	}
	if len(in.MediaURLs) > maxMediaPerEgg {
		return model.Capsule{}, withMessage(ErrTooManyImages, "at most %d media files", maxMediaPerEgg)
	}
	if in.Latitude == nil || in.Longitude == nil || !(geo.Point{Lat: *in.Latitude, Lng: *in.Longitude}).Valid() {
		return model.Capsule{}, ErrInvalidLocation
	}
	if in.ViewLimit < 0 {
		return model.Capsule{}, withMessage(ErrInvalidRequest, "view_limit cannot be negative")
	}

	egg := model.Capsule{
		OwnerID:   userID,
		Type:      model.CapsuleEasterEgg,
		Title:     title,
		Content:   strings.TrimSpace(in.Content),
		MediaURLs: in.MediaURLs,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		ViewLimit: in.ViewLimit,
		Status:    model.CapsuleActive,
		CreatedAt: s.clock.Now().UTC().Truncate(time.Second),
	}
	err := withTx(ctx, s.capsules.DB(), func(tx *sql.Tx) error {
		used, err := s.capsules.CountActiveEggsTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if used >= s.slots {
			return ErrNoEggSlots
		}
		return s.capsules.CreateTx(ctx, tx, &egg)
	})
	if err != nil {
		return model.Capsule{}, wrap("create egg", err)
	}
	if egg.MediaURLs == nil {
		egg.MediaURLs = []string{}
	}
	return egg, nil
}

// Nearby lists active capsules within radius meters of center, nearest
// first. Bodies are stripped; a capsule's content is only returned by a
// successful view.
func (s *CapsuleService) Nearby(ctx context.Context, center geo.Point, radius float64) ([]model.Capsule, error) {
	if !center.Valid() {
		return nil, ErrInvalidLocation
	}
	if radius <= 0 {
		radius = defaultMapRange
	}
	if radius > maxMapRange {
		radius = maxMapRange
	}
	found, err := s.capsules.InBox(ctx, geo.BoundingBox(center, radius), center, nearbyLimit)
	if err != nil {
		return nil, fmt.Errorf("nearby capsules: %w", err)
	}
	type ranked struct {
		c model.Capsule
		d float64
	}
	in := make([]ranked, 0, len(found))
	for _, c := range found {
		p, ok := c.Point()
		if !ok {
			continue
		}
		if d := geo.Distance(center, p); d <= radius {
			c.Content = ""
			c.MediaURLs = []string{}
			in = append(in, ranked{c, d})
		}
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].d < in[j].d })
	out := make([]model.Capsule, len(in))
	for i, r := range in {
		out[i] = r.c
	}
	return out, nil
}

// View records that userID, standing at pos, opened an easter egg. Repeat
// views by the same user succeed without counting again.
func (s *CapsuleService) View(ctx context.Context, capsuleID, userID uint64, pos geo.Point) (model.Capsule, error) {
	if !pos.Valid() {
		return model.Capsule{}, ErrInvalidLocation
	}
	now := s.clock.Now().UTC().Truncate(time.Second)
	var (
		egg   model.Capsule
		first bool
	)
	err := withTx(ctx, s.capsules.DB(), func(tx *sql.Tx) error {
		var err error
		egg, err = s.capsules.GetForUpdateTx(ctx, tx, capsuleID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && egg.Status != model.CapsuleActive) {
			return ErrCapsuleNotFound
		}
		if err != nil {
			return err
		}
		if egg.Type != model.CapsuleEasterEgg {
			return ErrNotDiscoverable
		}
		if egg.OwnerID == userID {
			return ErrOwnCapsule
		}
		at, ok := egg.Point()
		if !ok {
			return ErrNotDiscoverable
		}
		if d := geo.Distance(pos, at); d > s.radius {
			return withMessage(ErrTooFar, "you are %.0f m away; come within %.0f m", d, s.radius)
		}
		first, err = s.capsules.RecordViewTx(ctx, tx, capsuleID, userID, now)
		if err != nil || !first {
			return err
		}
		if egg.ViewLimit > 0 && egg.ViewCount >= egg.ViewLimit {
			return ErrViewLimitReached
		}
		if err := s.capsules.IncrementViewTx(ctx, tx, capsuleID); err != nil {
			return err
		}
		egg.ViewCount++
		return nil
	})
	if err != nil {
		return model.Capsule{}, wrap("view capsule", err)
	}
	if first {
		monitoring.EggDiscovered()
		_ = s.events.Publish(ctx, queue.EasterEggDiscovered, queue.EasterEggDiscoveredEvent{
			CapsuleID:    egg.ID,
			OwnerID:      egg.OwnerID,
			ViewerID:     userID,
			ViewCount:    egg.ViewCount,
			ViewLimit:    egg.ViewLimit,
			DiscoveredAt: now.Format(time.RFC3339),
		})
	}
	return egg, nil
}

// Slots reports the caller's easter-egg slot usage.
func (s *CapsuleService) Slots(ctx context.Context, userID uint64) (model.SlotUsage, error) {
	used, err := s.capsules.CountActiveEggs(ctx, userID)
	if err != nil {
		return model.SlotUsage{}, fmt.Errorf("count eggs: %w", err)
	}
	if used > s.slots {
		used = s.slots
	}
	return model.SlotUsage{Total: s.slots, Used: used, Remaining: s.slots - used}, nil
}

// ResetSlots retires every active egg of the caller.
func (s *CapsuleService) ResetSlots(ctx context.Context, userID uint64) (model.SlotUsage, error) {
	n, err := s.capsules.RetireEggs(ctx, userID)
	if err != nil {
		return model.SlotUsage{}, fmt.Errorf("reset slots: %w", err)
	}
	s.logger.Info("egg slots reset", zap.Uint64("user_id", userID), zap.Int64("retired", n))
	return s.Slots(ctx, userID)
}

// MyEggs lists the caller's capsules with who found them. capsuleType may
// be empty, EASTER_EGG or TIME_CAPSULE.
func (s *CapsuleService) MyEggs(ctx context.Context, userID uint64, capsuleType string) ([]model.Capsule, error) {
	capsuleType = strings.ToUpper(strings.TrimSpace(capsuleType))
	switch capsuleType {
	case "", "ALL":
		capsuleType = ""
	case model.CapsuleEasterEgg, model.CapsuleTimeCapsule:
	default:
		return nil, withMessage(ErrInvalidRequest, "unknown type %q", capsuleType)
	}
	list, err := s.capsules.ListByOwner(ctx, userID, capsuleType)
	if err != nil {
		return nil, fmt.Errorf("list capsules: %w", err)
	}
	for i := range list {
		if list[i].Type != model.CapsuleEasterEgg {
			continue
		}
		v, err := s.capsules.Viewers(ctx, list[i].ID)
		if err != nil {
			return nil, fmt.Errorf("list viewers: %w", err)
		}
		list[i].Viewers = v
	}
	return list, nil
}

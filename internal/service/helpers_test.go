package service

import (
	"context"
	"database/sql/driver"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/repository"
)

var (
	roomCols = []string{"id", "order_id", "host_user_id", "capsule_name", "open_date", "deadline", "status", "max_headcount",
		"max_images_per_person", "has_music", "has_video", "invite_code", "latitude", "longitude", "is_auto_submitted",
		"capsule_id", "created_at", "updated_at"}
	participantCols = []string{"id", "room_id", "user_id", "nickname", "slot_number", "role", "status", "joined_at", "has_content"}
	contentCols     = []string{"id", "room_id", "participant_id", "text", "images", "music", "video", "created_at", "updated_at"}
	orderCols       = []string{"id", "user_id", "time_option", "headcount", "photo_count", "add_music", "add_video",
		"amount", "status", "room_id", "created_at", "paid_at"}
	capsuleCols = []string{"id", "owner_id", "type", "title", "content", "media_urls", "latitude", "longitude",
		"view_limit", "view_count", "open_date", "room_id", "status", "created_at"}
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	keys   []string
	events []any
}

func (r *recorder) Publish(_ context.Context, key string, ev any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	r.events = append(r.events, ev)
	return nil
}

type invalidations struct {
	mu       sync.Mutex
	prefixes []string
}

func (i *invalidations) InvalidatePrefix(_ context.Context, p string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prefixes = append(i.prefixes, p)
}

type roomFixture struct {
	svc   *RoomService
	mock  sqlmock.Sqlmock
	clock *clockwork.FakeClock
	pub   *recorder
	inv   *invalidations
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f := &roomFixture{mock: mock, clock: clockwork.NewFakeClockAt(testNow), pub: &recorder{}, inv: &invalidations{}}
	f.svc = NewRoomService(repository.NewRoomRepo(db), repository.NewOrderRepo(db), repository.NewCapsuleRepo(db),
		f.clock, f.pub, f.inv, zap.NewNop())
	return f
}

// roomRow builds a waiting_rooms row for a room hosted by user 1.
func roomRow(id int64, status, code string, created time.Time, maxHeadcount int) []driver.Value {
	return []driver.Value{id, "ord-1", int64(1), "class of 2026", created.AddDate(1, 0, 0), created.Add(24 * time.Hour), status, maxHeadcount,
		3, true, false, code, nil, nil, false, nil, created, created}
}

func participantRow(id, userID int64, slot int, role string, hasContent bool) []driver.Value {
	return []driver.Value{id, int64(7), userID, "user", slot, role, "JOINED", testNow.Add(-time.Hour), hasContent}
}

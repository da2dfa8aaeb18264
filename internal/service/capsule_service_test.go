package service

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
)

func newCapsuleFixture(t *testing.T) (*CapsuleService, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	pub := &recorder{}
	return NewCapsuleService(repository.NewCapsuleRepo(db), 3, 30, clockwork.NewFakeClockAt(testNow), pub, zap.NewNop()), mock, pub
}

// eggRow is an easter egg of user 5 at 37.5,127.0.
func eggRow(limit, count int) []driver.Value {
	return []driver.Value{int64(9), int64(5), model.CapsuleEasterEgg, "under the bench", "hello", []byte(`["a.jpg"]`),
		37.5, 127.0, limit, count, nil, nil, model.CapsuleActive, testNow}
}

var nearEgg = geo.Point{Lat: 37.5001, Lng: 127.0}

func TestView_FirstDiscoveryCounts(t *testing.T) {
	svc, mock, pub := newCapsuleFixture(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM capsules WHERE id = ? FOR UPDATE")).WithArgs(uint64(9)).
		WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(eggRow(0, 2)...))
	mock.ExpectExec("INSERT IGNORE INTO capsule_views").WithArgs(uint64(9), uint64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE capsules SET view_count = view_count + 1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	egg, err := svc.View(context.Background(), 9, 7, nearEgg)
	require.NoError(t, err)
	assert.Equal(t, 3, egg.ViewCount)
	assert.Equal(t, "hello", egg.Content)
	require.Equal(t, []string{queue.EasterEggDiscovered}, pub.keys)
	assert.Equal(t, uint64(7), pub.events[0].(queue.EasterEggDiscoveredEvent).ViewerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestView_RepeatViewDoesNotCount(t *testing.T) {
	svc, mock, pub := newCapsuleFixture(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(eggRow(0, 2)...))
	mock.ExpectExec("INSERT IGNORE INTO capsule_views").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	egg, err := svc.View(context.Background(), 9, 7, nearEgg)
	require.NoError(t, err)
	assert.Equal(t, 2, egg.ViewCount)
	assert.Empty(t, pub.keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestView_Rejections(t *testing.T) {
	t.Run("too far", func(t *testing.T) {
		svc, mock, _ := newCapsuleFixture(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(eggRow(0, 0)...))
		mock.ExpectRollback()
		_, err := svc.View(context.Background(), 9, 7, geo.Point{Lat: 37.51, Lng: 127.0})
		assert.ErrorIs(t, err, ErrTooFar)
	})
	t.Run("own egg", func(t *testing.T) {
		svc, mock, _ := newCapsuleFixture(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(eggRow(0, 0)...))
		mock.ExpectRollback()
		_, err := svc.View(context.Background(), 9, 5, nearEgg)
		assert.ErrorIs(t, err, ErrOwnCapsule)
	})
	t.Run("limit reached", func(t *testing.T) {
		svc, mock, pub := newCapsuleFixture(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(eggRow(2, 2)...))
		mock.ExpectExec("INSERT IGNORE").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectRollback()
		_, err := svc.View(context.Background(), 9, 7, nearEgg)
		assert.ErrorIs(t, err, ErrViewLimitReached)
		assert.Empty(t, pub.keys)
	})
}

func TestCreateEgg_NoFreeSlot(t *testing.T) {
	svc, mock, _ := newCapsuleFixture(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = ? FOR UPDATE")).WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM capsules")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectRollback()

	lat, lng := 37.5, 127.0
	_, err := svc.CreateEgg(context.Background(), 5, EggInput{Title: "t", Content: "c", Latitude: &lat, Longitude: &lng})
	assert.ErrorIs(t, err, ErrNoEggSlots)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNearby_FiltersByDistanceAndStripsBodies(t *testing.T) {
	svc, mock, _ := newCapsuleFixture(t)
	far := eggRow(0, 0)
	far[0], far[6] = int64(10), 37.5085
	near := eggRow(0, 0)
	mock.ExpectQuery("FROM capsules").
		WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(far...).AddRow(near...))

	got, err := svc.Nearby(context.Background(), geo.Point{Lat: 37.5, Lng: 127.0}, 500)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(9), got[0].ID)
	assert.Empty(t, got[0].Content)
	assert.Empty(t, got[0].MediaURLs)
}

func TestNearby_FindsEggAcrossAntimeridian(t *testing.T) {
	svc, mock, _ := newCapsuleFixture(t)
	egg := eggRow(0, 0)
	egg[6], egg[7] = 0.0, -179.9999
	mock.ExpectQuery(regexp.QuoteMeta("(longitude >= ? OR longitude <= ?)")).
		WillReturnRows(sqlmock.NewRows(capsuleCols).AddRow(egg...))

	got, err := svc.Nearby(context.Background(), geo.Point{Lat: 0, Lng: 179.9999}, 30)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(9), got[0].ID)
}

package service

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/queue"
)

const (
	lockRoom         = "FROM waiting_rooms WHERE id = ? FOR UPDATE"
	listParticipants = "FROM room_participants p JOIN users u"
)

func TestJoin_CorrectCodeClaimsNextSlot(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomWaiting, "AB12CD", testNow.Add(-time.Hour), 4)...))
	f.mock.ExpectQuery(listParticipants).WithArgs(uint64(7)).
		WillReturnRows(sqlmock.NewRows(participantCols).AddRow(participantRow(10, 1, 1, model.ParticipantHost, false)...))
	f.mock.ExpectExec("INSERT INTO room_participants").
		WithArgs(uint64(7), uint64(2), 2, model.ParticipantGuest, "JOINED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(11, 1))
	f.mock.ExpectCommit()

	res, err := f.svc.Join(context.Background(), 7, 2, "ab12cd")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SlotNumber)
	assert.Equal(t, []string{"/api/capsules/step-rooms/7"}, f.inv.prefixes)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestJoin_WrongCodeIsForbidden(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomWaiting, "AB12CD", testNow.Add(-time.Hour), 4)...))
	f.mock.ExpectRollback()

	_, err := f.svc.Join(context.Background(), 7, 2, "ZZZZZZ")
	de, ok := AsDomain(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, de.Status)
	assert.Equal(t, "INVALID_INVITE_CODE", de.Code)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestJoin_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		status  string
		created time.Time
		max     int
		members [][]any
		want    *DomainError
	}{
		{"buried", model.RoomBuried, testNow.Add(-time.Hour), 4, nil, ErrJoinBuried},
		{"expired", model.RoomWaiting, testNow.Add(-24 * time.Hour), 4, nil, ErrJoinExpired},
		{"member", model.RoomWaiting, testNow.Add(-time.Hour), 4, [][]any{{int64(10), int64(2), 1}}, ErrAlreadyJoined},
		{"full", model.RoomWaiting, testNow.Add(-time.Hour), 1, [][]any{{int64(10), int64(1), 1}}, ErrSlotsFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRoomFixture(t)
			f.mock.ExpectBegin()
			f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
				WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, tc.status, "AB12CD", tc.created, tc.max)...))
			if tc.members != nil {
				rows := sqlmock.NewRows(participantCols)
				for _, m := range tc.members {
					rows.AddRow(participantRow(m[0].(int64), m[1].(int64), m[2].(int), model.ParticipantHost, false)...)
				}
				f.mock.ExpectQuery(listParticipants).WillReturnRows(rows)
			}
			f.mock.ExpectRollback()

			_, err := f.svc.Join(context.Background(), 7, 2, "AB12CD")
			assert.ErrorIs(t, err, tc.want)
			de, _ := AsDomain(err)
			require.NotNil(t, de)
			assert.Equal(t, tc.want.Status, de.Status)
		})
	}
}

func TestSubmit_NonHostRejected(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomCompleted, "AB12CD", testNow.Add(-time.Hour), 4)...))
	f.mock.ExpectQuery(listParticipants).
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow(participantRow(10, 1, 1, model.ParticipantHost, true)...).
			AddRow(participantRow(11, 2, 2, model.ParticipantGuest, true)...))
	f.mock.ExpectRollback()

	lat, lng := 37.5, 127.0
	_, err := f.svc.Submit(context.Background(), 7, 2, &lat, &lng)
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Empty(t, f.pub.keys)
}

func TestSubmit_IncompleteCountsPending(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomInProgress, "AB12CD", testNow.Add(-time.Hour), 4)...))
	f.mock.ExpectQuery(listParticipants).
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow(participantRow(10, 1, 1, model.ParticipantHost, true)...).
			AddRow(participantRow(11, 2, 2, model.ParticipantGuest, false)...))
	f.mock.ExpectRollback()

	lat, lng := 37.5, 127.0
	_, err := f.svc.Submit(context.Background(), 7, 1, &lat, &lng)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Contains(t, err.Error(), "1 participant")
}

func TestSubmit_InvalidLocationNeedsNoDatabase(t *testing.T) {
	f := newRoomFixture(t)
	lat, lng := 91.0, 0.0
	_, err := f.svc.Submit(context.Background(), 7, 1, &lat, &lng)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = f.svc.Submit(context.Background(), 7, 1, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidLocation)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSubmit_BuriesAndPublishes(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomCompleted, "AB12CD", testNow.Add(-time.Hour), 4)...))
	f.mock.ExpectQuery(listParticipants).
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow(participantRow(10, 1, 1, model.ParticipantHost, true)...).
			AddRow(participantRow(11, 2, 2, model.ParticipantGuest, true)...))
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM room_contents WHERE room_id = ?")).
		WillReturnRows(sqlmock.NewRows(contentCols).
			AddRow(int64(1), int64(7), int64(10), "hi", []byte(`["a.jpg"]`), "", "", testNow, testNow).
			AddRow(int64(2), int64(7), int64(11), "yo", []byte(`[]`), "m.mp3", "", testNow, testNow))
	f.mock.ExpectExec("INSERT INTO capsules").WillReturnResult(sqlmock.NewResult(55, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE waiting_rooms SET status = 'BURIED'")).
		WithArgs(37.5, 127.0, false, uint64(55), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	lat, lng := 37.5, 127.0
	res, err := f.svc.Submit(context.Background(), 7, 1, &lat, &lng)
	require.NoError(t, err)
	assert.Equal(t, SubmitResult{WaitingRoomID: 7, CapsuleID: 55, Status: model.RoomBuried}, res)
	require.NoError(t, f.mock.ExpectationsWereMet())

	require.Equal(t, []string{queue.CapsuleBuried}, f.pub.keys)
	ev := f.pub.events[0].(queue.CapsuleBuriedEvent)
	assert.Equal(t, []uint64{1, 2}, ev.ParticipantIDs)
	assert.False(t, ev.IsAutoSubmitted)
	assert.Contains(t, f.inv.prefixes, "/api/capsules/step-rooms/7")
}

func TestAutoSubmitExpired_UsesFallbackLocation(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM waiting_rooms WHERE status <> 'BURIED' AND deadline <= ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomInProgress, "AB12CD", testNow.Add(-25*time.Hour), 4)...))
	f.mock.ExpectQuery(listParticipants).
		WillReturnRows(sqlmock.NewRows(participantCols).
			AddRow(participantRow(10, 1, 1, model.ParticipantHost, true)...).
			AddRow(participantRow(11, 2, 2, model.ParticipantGuest, false)...))
	f.mock.ExpectQuery("FROM room_contents").
		WillReturnRows(sqlmock.NewRows(contentCols).
			AddRow(int64(1), int64(7), int64(10), "hi", []byte(`[]`), "", "", testNow, testNow))
	f.mock.ExpectExec("INSERT INTO capsules").WillReturnResult(sqlmock.NewResult(56, 1))
	f.mock.ExpectExec(regexp.QuoteMeta("UPDATE waiting_rooms SET status = 'BURIED'")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), true, uint64(56), uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	n, err := f.svc.AutoSubmitExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.pub.events, 1)
	assert.True(t, f.pub.events[0].(queue.CapsuleBuriedEvent).IsAutoSubmitted)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestAutoSubmitExpired_SkipsRoomBuriedMeanwhile(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectQuery("SELECT id FROM waiting_rooms").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta(lockRoom)).
		WillReturnRows(sqlmock.NewRows(roomCols).AddRow(roomRow(7, model.RoomBuried, "AB12CD", testNow.Add(-25*time.Hour), 4)...))
	f.mock.ExpectCommit()

	n, err := f.svc.AutoSubmitExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.pub.events)
}

func TestValidateContent(t *testing.T) {
	settings := model.RoomSettings{MaxImagesPerPerson: 5, HasMusic: true, HasVideo: false}

	assert.NoError(t, validateContent(settings, ContentInput{Text: "hello", Images: make5("a"), Music: "m.mp3"}))
	assert.ErrorIs(t, validateContent(settings, ContentInput{Text: "x", Images: append(make5("a"), "f")}), ErrTooManyImages)
	assert.ErrorIs(t, validateContent(settings, ContentInput{Text: "x", Video: "v.mp4"}), ErrMediaNotAllowed)
	assert.ErrorIs(t, validateContent(settings, ContentInput{Text: "   "}), ErrInvalidRequest)
}

func make5(s string) []string { return []string{s, s, s, s, s} }

func TestLowestFreeSlot(t *testing.T) {
	assert.Equal(t, 1, lowestFreeSlot(nil))
	assert.Equal(t, 2, lowestFreeSlot([]model.Participant{{SlotNumber: 1}, {SlotNumber: 3}}))
	assert.Equal(t, 4, lowestFreeSlot([]model.Participant{{SlotNumber: 1}, {SlotNumber: 2}, {SlotNumber: 3}}))
}

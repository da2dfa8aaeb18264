package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/middleware"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/service"
)

type stubRooms struct {
	joinCode   string
	content    *model.Content
	getErr     error
	lastSubmit [2]*float64
}

func (s *stubRooms) Create(context.Context, uint64, service.CreateRoomInput) (model.WaitingRoom, error) {
	return model.WaitingRoom{}, nil
}

func (s *stubRooms) Get(_ context.Context, roomID, _ uint64) (model.WaitingRoom, error) {
	if s.getErr != nil {
		return model.WaitingRoom{}, s.getErr
	}
	return model.WaitingRoom{ID: roomID, HostUserID: 1, InviteCode: "AB12CD"}, nil
}

func (s *stubRooms) Settings(context.Context, uint64, uint64) (model.RoomSettings, error) {
	return model.RoomSettings{}, nil
}

func (s *stubRooms) Join(_ context.Context, roomID, _ uint64, code string) (service.JoinResult, error) {
	if code != s.joinCode {
		return service.JoinResult{}, service.ErrInvalidInvite
	}
	return service.JoinResult{Success: true, WaitingRoomID: roomID, SlotNumber: 2}, nil
}

func (s *stubRooms) MyContent(context.Context, uint64, uint64) (model.Content, error) {
	if s.content == nil {
		return model.Content{}, service.ErrContentNotFound
	}
	return *s.content, nil
}

func (s *stubRooms) SaveContent(_ context.Context, _, _ uint64, in service.ContentInput, _ bool) (model.Content, error) {
	return model.Content{Text: in.Text, Images: in.Images}, nil
}

func (s *stubRooms) Submit(_ context.Context, roomID, _ uint64, lat, lng *float64) (service.SubmitResult, error) {
	s.lastSubmit = [2]*float64{lat, lng}
	if lat == nil {
		return service.SubmitResult{}, service.ErrInvalidLocation
	}
	return service.SubmitResult{WaitingRoomID: roomID, CapsuleID: 9, Status: model.RoomBuried}, nil
}

// newRoomServer mounts the room routes with a fixed caller instead of JWT.
func newRoomServer(rooms RoomService, userID uint64) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(zap.NewNop())
	h := NewRoomHandler(rooms, zap.NewNop())
	g := e.Group("/api/capsules/step-rooms", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != 0 {
				c.Set(middleware.CtxUserID, userID)
			}
			return next(c)
		}
	})
	g.GET("/:id", h.Get)
	g.POST("/:id/join", h.Join)
	g.GET("/:id/my-content", h.MyContent)
	g.POST("/:id/my-content", h.CreateContent)
	g.POST("/:id/submit", h.Submit)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) middleware.ErrorBody {
	t.Helper()
	var b middleware.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	return b
}

func TestJoin(t *testing.T) {
	e := newRoomServer(&stubRooms{joinCode: "AB12CD"}, 2)

	rec := do(e, http.MethodPost, "/api/capsules/step-rooms/7/join", `{"inviteCode":"AB12CD"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res service.JoinResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Greater(t, res.SlotNumber, 0)

	rec = do(e, http.MethodPost, "/api/capsules/step-rooms/7/join", `{"inviteCode":"WRONG1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, middleware.ErrorBody{StatusCode: 403, Code: "INVALID_INVITE_CODE", Message: service.ErrInvalidInvite.Message}, errorBody(t, rec))

	rec = do(e, http.MethodPost, "/api/capsules/step-rooms/7/join", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMyContent_NotWrittenIs404(t *testing.T) {
	e := newRoomServer(&stubRooms{}, 2)
	rec := do(e, http.MethodGet, "/api/capsules/step-rooms/7/my-content", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CONTENT_NOT_FOUND", errorBody(t, rec).Code)

	e = newRoomServer(&stubRooms{content: &model.Content{Text: "hello", Images: []string{}}}, 2)
	rec = do(e, http.MethodGet, "/api/capsules/step-rooms/7/my-content", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"hello"`)
}

func TestCreateContent(t *testing.T) {
	e := newRoomServer(&stubRooms{}, 2)
	rec := do(e, http.MethodPost, "/api/capsules/step-rooms/7/my-content", `{"text":"hi","images":["a.jpg"]}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"images":["a.jpg"]`)
}

func TestGet_HidesInviteCodeFromGuests(t *testing.T) {
	rec := do(newRoomServer(&stubRooms{}, 1), http.MethodGet, "/api/capsules/step-rooms/7", "")
	assert.Contains(t, rec.Body.String(), "AB12CD")

	rec = do(newRoomServer(&stubRooms{}, 2), http.MethodGet, "/api/capsules/step-rooms/7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "AB12CD")
}

func TestRoomRoutes_BadInput(t *testing.T) {
	rec := do(newRoomServer(&stubRooms{}, 2), http.MethodGet, "/api/capsules/step-rooms/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorBody(t, rec).Code)

	rec = do(newRoomServer(&stubRooms{}, 0), http.MethodGet, "/api/capsules/step-rooms/7", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmit(t *testing.T) {
	rooms := &stubRooms{}
	e := newRoomServer(rooms, 1)

	rec := do(e, http.MethodPost, "/api/capsules/step-rooms/7/submit", `{"latitude":37.5,"longitude":127.0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, rooms.lastSubmit[0])
	assert.Equal(t, 37.5, *rooms.lastSubmit[0])

	rec = do(e, http.MethodPost, "/api/capsules/step-rooms/7/submit", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_LOCATION", errorBody(t, rec).Code)
}

func TestRespondError_HidesInternalErrors(t *testing.T) {
	e := newRoomServer(&stubRooms{getErr: errors.New("dial tcp: refused")}, 1)
	rec := do(e, http.MethodGet, "/api/capsules/step-rooms/7", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")
}

type pingErr struct{ err error }

func (p pingErr) PingContext(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	e := echo.New()
	e.GET("/ok", Health(pingErr{}))
	e.GET("/down", Health(pingErr{errors.New("down")}))
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/ok", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/down", "").Code)
}

// Package waitingroom drives the host's submit flow on the client: which
// participants count as done, whether the button is live, and the
// locate-then-submit procedure with its user-facing messages.
package waitingroom

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/timeegg/timeegg-server/internal/client"
	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	gate "github.com/timeegg/timeegg-server/internal/waitingroom"
)

// LocateTimeout bounds one GPS acquisition.
const LocateTimeout = 10 * time.Second

// Location failure codes.
const (
	GeoPermissionDenied    = "PERMISSION_DENIED"
	GeoPositionUnavailable = "POSITION_UNAVAILABLE"
	GeoTimeout             = "TIMEOUT"
)

// GeoError is a failed position lookup.
type GeoError struct{ Code string }

func (e *GeoError) Error() string { return "locate: " + e.Code }

// Locator acquires a fresh high-accuracy position. Implementations must
// not return a cached fix.
type Locator interface {
	Locate(ctx context.Context) (geo.Point, error)
}

// FixedLocator always reports the same point.
type FixedLocator geo.Point

func (f FixedLocator) Locate(context.Context) (geo.Point, error) {
	p := geo.Point(f)
	if !p.Valid() {
		return geo.Point{}, &GeoError{Code: GeoPositionUnavailable}
	}
	return p, nil
}

// CompletionTracker remembers participants whose content was saved
// locally but is not yet reflected in a refetched room.
type CompletionTracker struct {
	mu    sync.Mutex
	saved map[uint64]bool
}

func NewCompletionTracker() *CompletionTracker {
	return &CompletionTracker{saved: make(map[uint64]bool)}
}

// MarkSaved flags a participant as done.
func (t *CompletionTracker) MarkSaved(participantID uint64) {
	t.mu.Lock()
	t.saved[participantID] = true
	t.mu.Unlock()
}

// Completed returns, per participant, server hasContent OR the local flag.
func (t *CompletionTracker) Completed(participants []model.Participant) []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]bool, len(participants))
	for i, p := range participants {
		out[i] = p.HasContent || t.saved[p.ID]
	}
	return out
}

// Evaluate computes the submit button state for userID.
func (t *CompletionTracker) Evaluate(room model.WaitingRoom, userID uint64, now time.Time) gate.Decision {
	return gate.Evaluate(gate.Input{
		IsHost:    room.HostUserID == userID,
		Status:    room.Status,
		CreatedAt: room.CreatedAt,
		Completed: t.Completed(room.Participants),
		Now:       now,
	})
}

// RoomAPI is the part of the client the submitter needs.
type RoomAPI interface {
	SubmitRoom(ctx context.Context, roomID uint64, lat, lng float64) (client.SubmitResult, error)
	Cache() *client.Cache
}

// Stage says where a submission failed.
type Stage string

const (
	StageLocate Stage = "locate"
	StageSubmit Stage = "submit"
)

// SubmitError carries the message shown to the host.
type SubmitError struct {
	Stage   Stage
	Code    string
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return string(e.Stage) + ": " + e.Message }
func (e *SubmitError) Unwrap() error { return e.Err }

// Submitter buries a room from the host's current position.
type Submitter struct {
	API     RoomAPI
	Locator Locator
	// Timeout bounds the GPS fix; zero means LocateTimeout.
	Timeout time.Duration
	// OnComplete runs after a successful submission.
	OnComplete func(client.SubmitResult)
}

type located struct {
	p   geo.Point
	err error
}

// locate enforces the deadline itself, so a Locator that ignores ctx is
// abandoned rather than waited on.
func (s *Submitter) locate(ctx context.Context) (geo.Point, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = LocateTimeout
	}
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out := make(chan located, 1)
	go func() {
		p, err := s.Locator.Locate(lctx)
		out <- located{p, err}
	}()
	select {
	case r := <-out:
		if r.err != nil && errors.Is(lctx.Err(), context.DeadlineExceeded) && !errors.As(r.err, new(*GeoError)) {
			return geo.Point{}, &GeoError{Code: GeoTimeout}
		}
		return r.p, r.err
	case <-lctx.Done():
		if errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return geo.Point{}, &GeoError{Code: GeoTimeout}
		}
		return geo.Point{}, lctx.Err()
	}
}

// Submit locates the host, submits, and invalidates the cached room.
func (s *Submitter) Submit(ctx context.Context, roomID uint64) (client.SubmitResult, error) {
	p, err := s.locate(ctx)
	if err != nil {
		code := GeoPositionUnavailable
		var ge *GeoError
		switch {
		case errors.As(err, &ge):
			code = ge.Code
		case errors.Is(err, context.DeadlineExceeded):
			code = GeoTimeout
		}
		return client.SubmitResult{}, &SubmitError{Stage: StageLocate, Code: code, Message: LocationMessage(code), Err: err}
	}

	res, err := s.API.SubmitRoom(ctx, roomID, p.Lat, p.Lng)
	if err != nil {
		code, msg := SubmitMessage(err)
		return client.SubmitResult{}, &SubmitError{Stage: StageSubmit, Code: code, Message: msg, Err: err}
	}
	s.API.Cache().Invalidate(client.WaitingRoomKey(roomID), client.SettingsKey(roomID))
	if s.OnComplete != nil {
		s.OnComplete(res)
	}
	return res, nil
}

var locationMessages = map[string]string{
	GeoPermissionDenied:    "Location permission is required to bury the capsule.",
	GeoPositionUnavailable: "Your location could not be determined. Try again outdoors.",
	GeoTimeout:             "Finding your location took too long. Please try again.",
}

// LocationMessage is the text for a location failure code.
func LocationMessage(code string) string {
	if m, ok := locationMessages[code]; ok {
		return m
	}
	return locationMessages[GeoPositionUnavailable]
}

var submitMessages = map[string]string{
	"INCOMPLETE_PARTICIPANTS": "Some participants have not finished writing yet.",
	"NOT_HOST":                "Only the host can bury this capsule.",
	"ALREADY_SUBMITTED":       "This capsule has already been buried.",
	"INVALID_LOCATION":        "The location looks invalid. Please try again.",
	"DEADLINE_EXPIRED":        "The 24-hour writing time is over; the capsule is buried automatically.",
	"ROOM_NOT_FOUND":          "This waiting room no longer exists.",
}

const (
	networkMessage = "Check your connection and try again."
	serverMessage  = "The server had a problem. Please try again shortly."
	genericMessage = "The capsule could not be buried. Please try again."
)

// SubmitMessage maps a submit failure to its code and text.
func SubmitMessage(err error) (string, string) {
	ae, ok := client.AsAPIError(err)
	if !ok {
		return "", genericMessage
	}
	if m, ok := submitMessages[ae.Code]; ok {
		return ae.Code, m
	}
	switch {
	case ae.Code == client.CodeNetwork:
		return ae.Code, networkMessage
	case ae.Status >= http.StatusInternalServerError:
		return ae.Code, serverMessage
	}
	return ae.Code, genericMessage
}

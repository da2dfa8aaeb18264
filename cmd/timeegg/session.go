package main

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/client"
	"github.com/timeegg/timeegg-server/internal/client/autosave"
	"github.com/timeegg/timeegg-server/internal/client/discovery"
	roomclient "github.com/timeegg/timeegg-server/internal/client/waitingroom"
	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/waitingroom"
)

// roomState is the waiting room as the host sees it. tracker covers
// content saved by this process that a cached room may not show yet.
func roomState(ctx context.Context, e *env, id, userID uint64, tracker *roomclient.CompletionTracker) (map[string]any, error) {
	room, err := e.api.GetWaitingRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	d := tracker.Evaluate(room, userID, now)
	return map[string]any{
		"room":           room,
		"completed":      tracker.Completed(room.Participants),
		"can_submit":     d.CanSubmit,
		"reason":         d.Reason,
		"message":        d.Message(),
		"progress":       waitingroom.Progress(room.Participants),
		"time_left":      waitingroom.FormatCountdown(waitingroom.Remaining(room.CreatedAt, now)),
		"auto_submitted": waitingroom.AutoSubmitted(room, now),
	}, nil
}

// contentWriter creates the caller's content on the first save and
// updates it afterwards.
type contentWriter struct {
	api     *client.Client
	roomID  uint64
	tracker *roomclient.CompletionTracker

	mu    sync.Mutex
	saved *model.Content
}

func newContentWriter(ctx context.Context, api *client.Client, roomID uint64, tracker *roomclient.CompletionTracker) (*contentWriter, error) {
	existing, err := api.GetMyContent(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return &contentWriter{api: api, roomID: roomID, tracker: tracker, saved: existing}, nil
}

func (w *contentWriter) baseline() client.ContentRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.saved == nil {
		return client.ContentRequest{}
	}
	return client.ContentRequest{Text: w.saved.Text, Images: w.saved.Images, Music: w.saved.Music, Video: w.saved.Video}
}

func (w *contentWriter) save(ctx context.Context, c client.ContentRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	write := w.api.CreateMyContent
	if w.saved != nil {
		write = w.api.UpdateMyContent
	}
	saved, err := write(ctx, w.roomID, c)
	if err != nil {
		return err
	}
	w.saved = &saved
	w.tracker.MarkSaved(saved.ParticipantID)
	return nil
}

func (w *contentWriter) content() *model.Content {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.saved
}

// writeContent saves req once, or with watch set keeps editing from e.in:
// every line is appended to the text and saved after autosave.Delay of
// quiet. End of input saves whatever is still pending.
func writeContent(ctx context.Context, e *env, roomID uint64, req client.ContentRequest, watch bool) error {
	me, err := e.api.Me(ctx)
	if err != nil {
		return err
	}
	tracker := roomclient.NewCompletionTracker()
	w, err := newContentWriter(ctx, e.api, roomID, tracker)
	if err != nil {
		return err
	}
	saver := autosave.New(clockwork.NewRealClock(), w.baseline(), w.save, func(err error) {
		e.logger.Warn("autosave failed", zap.Uint64("room_id", roomID), zap.Error(err))
	})
	defer saver.Stop()
	saver.SetEditMode(true)
	saver.Edit(req)

	if watch {
		draft := req
		lines := bufio.NewScanner(e.in)
		for lines.Scan() {
			if draft.Text != "" {
				draft.Text += "\n"
			}
			draft.Text += lines.Text()
			saver.Edit(draft)
		}
		if err := lines.Err(); err != nil {
			return err
		}
	}
	if err := saver.SaveNow(ctx); err != nil {
		return err
	}

	state, err := roomState(ctx, e, roomID, me.ID, tracker)
	if err != nil {
		return err
	}
	state["content"] = w.content()
	return e.print(state)
}

// parsePoint reads "lat,lng" or "lat lng".
func parsePoint(s string) (geo.Point, error) {
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(f) != 2 {
		return geo.Point{}, fmt.Errorf("invalid position %q", s)
	}
	lat, err := strconv.ParseFloat(f[0], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid latitude %q", f[0])
	}
	lng, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return geo.Point{}, fmt.Errorf("invalid longitude %q", f[1])
	}
	p := geo.Point{Lat: lat, Lng: lng}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("position %q out of range", s)
	}
	return p, nil
}

type discoveryEvent struct {
	Trigger string               `json:"trigger"`
	At      geo.Point            `json:"at"`
	Current *discovery.Candidate `json:"current,omitempty"`
	Queued  int                  `json:"queued"`
}

// discover opens the map at start and then follows the positions read
// from e.in, printing every time the egg on screen changes.
func discover(ctx context.Context, e *env, start geo.Point, radius float64) error {
	me, err := e.api.Me(ctx)
	if err != nil {
		return err
	}
	tracker := discovery.NewTracker(me.ID)
	emit := func(trigger string, at geo.Point) error {
		ev := discoveryEvent{Trigger: trigger, At: at, Queued: tracker.Len()}
		if c, ok := tracker.Current(); ok {
			ev.Current = &c
		}
		return e.print(ev)
	}

	list, err := e.api.Nearby(ctx, start.Lat, start.Lng, radius)
	if err != nil {
		return err
	}
	tracker.EnterMap(start, list)
	if err := emit("enter", start); err != nil {
		return err
	}

	lines := bufio.NewScanner(e.in)
	for lines.Scan() {
		if strings.TrimSpace(lines.Text()) == "" {
			continue
		}
		p, err := parsePoint(lines.Text())
		if err != nil {
			return err
		}
		list, err := e.api.Nearby(ctx, p.Lat, p.Lng, radius)
		if err != nil {
			return err
		}
		if tracker.Move(p, list) {
			if err := emit("move", p); err != nil {
				return err
			}
		}
	}
	return lines.Err()
}

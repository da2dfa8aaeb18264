// Package autosave saves a participant's draft after a quiet period.
package autosave

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/timeegg/timeegg-server/internal/client"
)

// Delay is the idle time after the last edit before a save.
const Delay = 3 * time.Second

// SaveFunc persists a draft.
type SaveFunc func(ctx context.Context, c client.ContentRequest) error

// HasChanges reports whether current differs from the saved baseline.
func HasChanges(baseline, current client.ContentRequest) bool {
	return baseline.Text != current.Text ||
		baseline.Music != current.Music ||
		baseline.Video != current.Video ||
		!slices.Equal(baseline.Images, current.Images)
}

// Saver debounces edits. Only edits made in edit mode schedule a save.
type Saver struct {
	clock   clockwork.Clock
	save    SaveFunc
	onError func(error)

	mu       sync.Mutex
	baseline client.ContentRequest
	current  client.ContentRequest
	editing  bool
	timer    clockwork.Timer

	// saving serializes calls to save.
	saving sync.Mutex
}

// New returns a Saver whose baseline is the content loaded from the
// server. onError may be nil.
func New(clk clockwork.Clock, baseline client.ContentRequest, save SaveFunc, onError func(error)) *Saver {
	return &Saver{clock: clk, save: save, onError: onError, baseline: clone(baseline), current: clone(baseline)}
}

// SetEditMode turns debounced saving on or off. Leaving edit mode drops a
// pending save.
func (s *Saver) SetEditMode(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = on
	if !on {
		s.stopLocked()
	}
}

// Edit records the latest draft and restarts the idle timer.
func (s *Saver) Edit(c client.ContentRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = clone(c)
	if !s.editing {
		return
	}
	s.stopLocked()
	s.timer = s.clock.AfterFunc(Delay, s.fire)
}

func (s *Saver) fire() {
	if err := s.flush(context.Background()); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// SaveNow cancels the pending timer and saves immediately when there is
// something to save.
func (s *Saver) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	return s.flush(ctx)
}

// Dirty reports unsaved changes.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HasChanges(s.baseline, s.current)
}

// Stop cancels a pending save.
func (s *Saver) Stop() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
}

func (s *Saver) flush(ctx context.Context) error {
	s.saving.Lock()
	defer s.saving.Unlock()

	s.mu.Lock()
	if !HasChanges(s.baseline, s.current) {
		s.mu.Unlock()
		return nil
	}
	snapshot := clone(s.current)
	s.mu.Unlock()

	if err := s.save(ctx, snapshot); err != nil {
		return err
	}
	s.mu.Lock()
	s.baseline = snapshot
	s.mu.Unlock()
	return nil
}

func (s *Saver) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func clone(c client.ContentRequest) client.ContentRequest {
	c.Images = slices.Clone(c.Images)
	return c
}

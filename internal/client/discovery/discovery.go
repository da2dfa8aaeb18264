// Package discovery decides which nearby easter egg the map shows next.
package discovery

import (
	"sort"
	"sync"

	"github.com/timeegg/timeegg-server/internal/geo"
	"github.com/timeegg/timeegg-server/internal/model"
)

// Radius is how close, in meters, a user must be to discover an egg.
const Radius = 30.0

// Candidate is an egg in range with its distance from the user.
type Candidate struct {
	Capsule  model.Capsule
	Distance float64
}

// BuildQueue returns the capsules userID can discover from me: easter
// eggs with a location, not owned by userID, not discovered yet and
// within Radius, nearest first.
func BuildQueue(capsules []model.Capsule, me geo.Point, userID uint64, discovered map[uint64]bool) []Candidate {
	var out []Candidate
	for _, c := range capsules {
		if c.Type != model.CapsuleEasterEgg || c.OwnerID == userID || discovered[c.ID] {
			continue
		}
		p, ok := c.Point()
		if !ok {
			continue
		}
		if d := geo.Distance(me, p); d <= Radius {
			out = append(out, Candidate{Capsule: c, Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Tracker serializes the two discovery triggers into one queue. Entering
// the map scans once; movement afterwards checks continuously, and a
// match found while moving replaces whatever the entry scan queued.
type Tracker struct {
	mu         sync.Mutex
	userID     uint64
	discovered map[uint64]bool
	queue      []Candidate
	entered    bool
}

func NewTracker(userID uint64) *Tracker {
	return &Tracker{userID: userID, discovered: make(map[uint64]bool)}
}

// EnterMap runs the entry scan. Every queued egg is marked discovered at
// once so later scans never queue it again. Repeated calls are no-ops.
func (t *Tracker) EnterMap(me geo.Point, capsules []model.Capsule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entered {
		return
	}
	t.entered = true
	found := BuildQueue(capsules, me, t.userID, t.discovered)
	for _, c := range found {
		t.discovered[c.Capsule.ID] = true
	}
	t.queue = append(t.queue, found...)
}

// Move handles a live position update. The nearest new match preempts the
// queue, which collapses to that one egg. It reports whether it did.
func (t *Tracker) Move(me geo.Point, capsules []model.Capsule) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := BuildQueue(capsules, me, t.userID, t.discovered)
	if len(found) == 0 {
		return false
	}
	t.discovered[found[0].Capsule.ID] = true
	t.queue = []Candidate{found[0]}
	return true
}

// Current is the egg to show, if any.
func (t *Tracker) Current() (Candidate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return Candidate{}, false
	}
	return t.queue[0], true
}

// Close dismisses the current egg and advances to the next.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) > 0 {
		t.queue = t.queue[1:]
	}
}

// Len is the number of queued eggs.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Discovered reports whether id was already queued once.
func (t *Tracker) Discovered(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discovered[id]
}

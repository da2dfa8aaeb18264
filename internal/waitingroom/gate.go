// Package waitingroom holds the submission rules for multi-participant
// time capsules. The server enforces them on submit and the client uses
// the same evaluation to decide whether the host's submit button is live.
package waitingroom

import (
	"fmt"
	"time"

	"github.com/timeegg/timeegg-server/internal/model"
)

// SubmitWindow is how long a room accepts content before it is buried
// automatically.
const SubmitWindow = 24 * time.Hour

// Reason explains why a room cannot be submitted.
type Reason string

// Reasons double as the domain error codes returned by the submit endpoint.
const (
	ReasonNone       Reason = ""
	ReasonNotHost    Reason = "NOT_HOST"
	ReasonBuried     Reason = "ALREADY_SUBMITTED"
	ReasonExpired    Reason = "DEADLINE_EXPIRED"
	ReasonIncomplete Reason = "INCOMPLETE_PARTICIPANTS"
)

// Input is everything the gate looks at.
type Input struct {
	IsHost    bool
	Status    string
	CreatedAt time.Time
	// Completed has one entry per participant.
	Completed []bool
	Now       time.Time
}

// Decision is the result of Evaluate.
type Decision struct {
	CanSubmit bool
	Reason    Reason
	// Pending counts participants that have not written yet.
	Pending int
}

// Deadline returns the moment a room created at createdAt stops accepting
// a manual submission.
func Deadline(createdAt time.Time) time.Time { return createdAt.Add(SubmitWindow) }

// Expired reports whether now is at or past the deadline.
func Expired(createdAt, now time.Time) bool { return !now.Before(Deadline(createdAt)) }

// Evaluate applies the submit rule: host, everyone has content, before
// the deadline and not already buried. The first failing check in the
// order host, buried, expired, incomplete names the reason.
func Evaluate(in Input) Decision {
	pending := 0
	for _, done := range in.Completed {
		if !done {
			pending++
		}
	}
	d := Decision{Pending: pending}
	switch {
	case !in.IsHost:
		d.Reason = ReasonNotHost
	case in.Status == model.RoomBuried:
		d.Reason = ReasonBuried
	case Expired(in.CreatedAt, in.Now):
		d.Reason = ReasonExpired
	case pending > 0 || len(in.Completed) == 0:
		d.Reason = ReasonIncomplete
	default:
		d.CanSubmit = true
	}
	return d
}

// Message is the disabled-button text for the decision. Participants who
// are not the host never see a submit button, so NOT_HOST has no text.
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonBuried:
		return "This capsule has already been buried."
	case ReasonExpired:
		return "The 24-hour writing time is over."
	case ReasonIncomplete:
		if d.Pending > 0 {
			return fmt.Sprintf("Waiting for %d participant(s) to finish writing.", d.Pending)
		}
		return "Waiting for participants to finish writing."
	}
	return ""
}

// Progress derives the non-terminal status from who has written.
func Progress(participants []model.Participant) string {
	if len(participants) == 0 {
		return model.RoomWaiting
	}
	written := 0
	for _, p := range participants {
		if p.HasContent {
			written++
		}
	}
	switch {
	case written == 0:
		return model.RoomWaiting
	case written == len(participants):
		return model.RoomCompleted
	default:
		return model.RoomInProgress
	}
}

// AutoSubmitted reports whether the room was, or is about to be, buried
// by the deadline sweep. Before the next refetch the client only knows
// the clock, so an expired unburied room counts as auto-submitted.
func AutoSubmitted(room model.WaitingRoom, now time.Time) bool {
	if room.Status == model.RoomBuried {
		return room.IsAutoSubmitted
	}
	return Expired(room.CreatedAt, now)
}

// Remaining is the countdown value shown in the room, never negative.
func Remaining(createdAt, now time.Time) time.Duration {
	left := Deadline(createdAt).Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// FormatCountdown renders d as HH:MM:SS.
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}

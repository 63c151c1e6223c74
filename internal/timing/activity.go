// Package timing computes elapsed time for runs and interviews and decides
// which timer controls are legal. Everything here is pure: activities are
// values and every transform returns a new one.
package timing

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrActionUnavailable is returned when a transform is not legal for the activity's state.
	ErrActionUnavailable = errors.New("timing: action not available")

	// ErrParticipantNotFound is returned for an unknown participant ID.
	ErrParticipantNotFound = errors.New("timing: participant not found")

	// ErrInvariantViolation marks activity data no writer should ever produce.
	ErrInvariantViolation = errors.New("timing: invariant violation")
)

// Kind distinguishes the activities the engine times.
type Kind string

const (
	KindRun       Kind = "run"
	KindInterview Kind = "interview"
)

// Participant is a runner, commentator or interviewee who may finish on
// their own clock.
type Participant struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	FinishedAt    *time.Time `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
	ActualSeconds *float64   `json:"actualSeconds,omitempty" yaml:"actual_seconds,omitempty"`
}

// Finished reports whether the participant has a final time.
func (p Participant) Finished() bool {
	return p.FinishedAt != nil
}

// Activity is a run or interview with start, pause and finish timing.
type Activity struct {
	ID            string        `json:"id" yaml:"id"`
	Kind          Kind          `json:"kind" yaml:"kind"`
	StartedAt     *time.Time    `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
	PausedAt      *time.Time    `json:"pausedAt,omitempty" yaml:"paused_at,omitempty"`
	FinishedAt    *time.Time    `json:"finishedAt,omitempty" yaml:"finished_at,omitempty"`
	PauseSeconds  float64       `json:"pauseSeconds" yaml:"pause_seconds"`
	ActualSeconds *float64      `json:"actualSeconds,omitempty" yaml:"actual_seconds,omitempty"`
	Participants  []Participant `json:"participants" yaml:"participants"`
}

func (a Activity) started() bool  { return a.StartedAt != nil }
func (a Activity) paused() bool   { return a.PausedAt != nil }
func (a Activity) finished() bool { return a.FinishedAt != nil }

// Participant returns the participant with id.
func (a Activity) Participant(id string) (Participant, bool) {
	if i := a.participantIndex(id); i >= 0 {
		return a.Participants[i], true
	}
	return Participant{}, false
}

func (a Activity) participantIndex(id string) int {
	for i := range a.Participants {
		if a.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

// clone copies the participant list so transforms never alias the input.
func (a Activity) clone() Activity {
	if a.Participants != nil {
		a.Participants = append([]Participant(nil), a.Participants...)
	}
	return a
}

// Validate checks the timing invariants every writer must maintain.
func Validate(a Activity) error {
	if a.finished() != (a.ActualSeconds != nil) {
		return fmt.Errorf("%w: activity %s: finishedAt and actualSeconds must be set together", ErrInvariantViolation, a.ID)
	}
	if a.finished() && !a.started() {
		return fmt.Errorf("%w: activity %s: finished without being started", ErrInvariantViolation, a.ID)
	}
	if a.paused() && (!a.started() || a.finished()) {
		return fmt.Errorf("%w: activity %s: paused outside a running clock", ErrInvariantViolation, a.ID)
	}
	if a.PauseSeconds < 0 {
		return fmt.Errorf("%w: activity %s: negative pauseSeconds %v", ErrInvariantViolation, a.ID, a.PauseSeconds)
	}
	for _, p := range a.Participants {
		if p.Finished() != (p.ActualSeconds != nil) {
			return fmt.Errorf("%w: participant %s: finishedAt and actualSeconds must be set together", ErrInvariantViolation, p.ID)
		}
	}
	return nil
}

// Elapsed returns the displayed seconds for the activity, or for one
// participant when participantID is set. A finished participant's own time
// wins over the activity clock even while others are still running. A pause
// freezes the value at the pause instant. The result is never negative.
func Elapsed(a Activity, participantID string, asOf time.Time) float64 {
	if participantID != "" {
		if p, ok := a.Participant(participantID); ok && p.Finished() && p.ActualSeconds != nil {
			return *p.ActualSeconds
		}
	}

	var v float64
	switch {
	case a.ActualSeconds != nil:
		v = *a.ActualSeconds
	case a.paused() && a.started():
		v = a.PausedAt.Sub(*a.StartedAt).Seconds() - a.PauseSeconds
	case a.started():
		v = asOf.Sub(*a.StartedAt).Seconds() - a.PauseSeconds
	}
	if v < 0 {
		return 0
	}
	return v
}

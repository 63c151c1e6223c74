package timing

import (
	"fmt"
	"time"
)

// Action names a timer control.
type Action string

const (
	ActionStart             Action = "start"
	ActionPause             Action = "pause"
	ActionResume            Action = "resume"
	ActionFinish            Action = "finish"
	ActionReset             Action = "reset"
	ActionFinishParticipant Action = "finish-participant"
	ActionResumeParticipant Action = "resume-participant"
)

// ParticipantActions are the per-participant controls of a multi-participant activity.
type ParticipantActions struct {
	Finish bool `json:"finish"`
	Resume bool `json:"resume"`
}

// Actions is the set of legal controls for an activity. At most one of
// Start, Resume and Finish is true.
type Actions struct {
	Start        bool                          `json:"start"`
	Resume       bool                          `json:"resume"`
	Finish       bool                          `json:"finish"`
	Pause        bool                          `json:"pause"`
	Reset        bool                          `json:"reset"`
	Participants map[string]ParticipantActions `json:"participants,omitempty"`
}

// AvailableActions derives the legal controls from the activity's timestamps.
func AvailableActions(a Activity) Actions {
	var out Actions

	single := len(a.Participants) == 1
	reopen := single && (a.Participants[0].Finished() || a.finished())

	// The primary control is Start, then Resume, then Finish.
	switch {
	case !a.started():
		out.Start = true
	case a.paused() || reopen:
		out.Resume = true
	case len(a.Participants) <= 1 && !a.finished():
		out.Finish = true
	}

	out.Pause = a.started() && !a.finished() && !a.paused()
	out.Reset = a.started()

	if len(a.Participants) >= 2 {
		out.Participants = make(map[string]ParticipantActions, len(a.Participants))
		for _, p := range a.Participants {
			out.Participants[p.ID] = ParticipantActions{
				Finish: !p.Finished() && a.started() && !a.paused(),
				Resume: p.Finished() && !a.paused(),
			}
		}
	}
	return out
}

func unavailable(a Activity, action Action) error {
	return fmt.Errorf("%w: %s on activity %s", ErrActionUnavailable, action, a.ID)
}

// Start starts the clock at at.
func Start(a Activity, at time.Time) (Activity, error) {
	if !AvailableActions(a).Start {
		return a, unavailable(a, ActionStart)
	}
	a = a.clone()
	a.StartedAt = &at
	a.PauseSeconds = 0
	return a, nil
}

// Pause freezes the clock at at.
func Pause(a Activity, at time.Time) (Activity, error) {
	if !AvailableActions(a).Pause {
		return a, unavailable(a, ActionPause)
	}
	a = a.clone()
	a.PausedAt = &at
	return a, nil
}

// Resume continues a paused clock, folding the pause into PauseSeconds, or
// reopens a finished single-participant activity.
func Resume(a Activity, at time.Time) (Activity, error) {
	if !AvailableActions(a).Resume {
		return a, unavailable(a, ActionResume)
	}
	a = a.clone()
	if a.paused() {
		if d := at.Sub(*a.PausedAt).Seconds(); d > 0 {
			a.PauseSeconds += d
		}
		a.PausedAt = nil
		return a, nil
	}
	a.FinishedAt = nil
	a.ActualSeconds = nil
	for i := range a.Participants {
		a.Participants[i].FinishedAt = nil
		a.Participants[i].ActualSeconds = nil
	}
	return a, nil
}

// Finish freezes the final time of an activity with at most one participant.
// The sole participant, if any, finishes with it.
func Finish(a Activity, at time.Time) (Activity, error) {
	if !AvailableActions(a).Finish {
		return a, unavailable(a, ActionFinish)
	}
	a = a.clone()
	actual := Elapsed(a, "", at)
	a.finishAt(at, actual)
	for i := range a.Participants {
		if !a.Participants[i].Finished() {
			a.Participants[i].FinishedAt = &at
			a.Participants[i].ActualSeconds = &actual
		}
	}
	return a, nil
}

func (a *Activity) finishAt(at time.Time, actual float64) {
	a.FinishedAt = &at
	a.ActualSeconds = &actual
}

// Reset returns the activity to the unstarted state.
func Reset(a Activity) (Activity, error) {
	if !AvailableActions(a).Reset {
		return a, unavailable(a, ActionReset)
	}
	a = a.clone()
	a.StartedAt = nil
	a.PausedAt = nil
	a.FinishedAt = nil
	a.ActualSeconds = nil
	a.PauseSeconds = 0
	for i := range a.Participants {
		a.Participants[i].FinishedAt = nil
		a.Participants[i].ActualSeconds = nil
	}
	return a, nil
}

// FinishParticipant freezes one participant's time. When the last participant
// finishes, the activity finishes with them.
func FinishParticipant(a Activity, participantID string, at time.Time) (Activity, error) {
	pa, err := participantActions(a, participantID)
	if err != nil {
		return a, err
	}
	if !pa.Finish {
		return a, unavailable(a, ActionFinishParticipant)
	}

	a = a.clone()
	actual := Elapsed(a, "", at)
	i := a.participantIndex(participantID)
	a.Participants[i].FinishedAt = &at
	a.Participants[i].ActualSeconds = &actual

	for _, p := range a.Participants {
		if !p.Finished() {
			return a, nil
		}
	}
	a.finishAt(at, actual)
	return a, nil
}

// ResumeParticipant clears one participant's finish so their clock runs
// again. A finished activity is reopened with them.
func ResumeParticipant(a Activity, participantID string, at time.Time) (Activity, error) {
	pa, err := participantActions(a, participantID)
	if err != nil {
		return a, err
	}
	if !pa.Resume {
		return a, unavailable(a, ActionResumeParticipant)
	}

	a = a.clone()
	i := a.participantIndex(participantID)
	a.Participants[i].FinishedAt = nil
	a.Participants[i].ActualSeconds = nil
	a.FinishedAt = nil
	a.ActualSeconds = nil
	return a, nil
}

func participantActions(a Activity, participantID string) (ParticipantActions, error) {
	if a.participantIndex(participantID) < 0 {
		return ParticipantActions{}, fmt.Errorf("%w: %q on activity %s", ErrParticipantNotFound, participantID, a.ID)
	}
	pa, ok := AvailableActions(a).Participants[participantID]
	if !ok {
		// Single-participant activities use the whole-activity controls.
		return ParticipantActions{}, nil
	}
	return pa, nil
}

// Apply runs the transform named by action. participantID is required for
// the per-participant actions and ignored otherwise.
func Apply(a Activity, action Action, participantID string, at time.Time) (Activity, error) {
	switch action {
	case ActionStart:
		return Start(a, at)
	case ActionPause:
		return Pause(a, at)
	case ActionResume:
		return Resume(a, at)
	case ActionFinish:
		return Finish(a, at)
	case ActionReset:
		return Reset(a)
	case ActionFinishParticipant:
		return FinishParticipant(a, participantID, at)
	case ActionResumeParticipant:
		return ResumeParticipant(a, participantID, at)
	default:
		return a, fmt.Errorf("%w: unknown action %q", ErrActionUnavailable, action)
	}
}

// Package transitions models ordered scene-change sequences and runs them
// against the broadcast mixer.
package transitions

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a transition step or set.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateDone       State = "DONE"
)

// DeriveState computes a set's state from its steps: PENDING iff every step is
// pending (including no steps), DONE iff every step is done, else IN_PROGRESS.
func DeriveState(states []State) State {
	if len(states) == 0 {
		return StatePending
	}
	allPending, allDone := true, true
	for _, s := range states {
		if s != StatePending {
			allPending = false
		}
		if s != StateDone {
			allDone = false
		}
	}
	switch {
	case allPending:
		return StatePending
	case allDone:
		return StateDone
	default:
		return StateInProgress
	}
}

// Transition is one scene-change step.
type Transition struct {
	ID         string `json:"id" yaml:"id"`
	SceneName  string `json:"sceneName" yaml:"scene"`
	EffectName string `json:"transitionName" yaml:"effect"`
	// EffectDurationMS overrides the effect's configured duration when set.
	EffectDurationMS *int64 `json:"transitionDuration,omitempty" yaml:"effect_duration_ms,omitempty"`
	// HoldMS is an explicit dwell on the destination scene. Zero counts as unset.
	HoldMS *int64 `json:"holdDuration,omitempty" yaml:"hold_ms,omitempty"`
	// MediaSourceName makes the step wait for the media's playback length.
	MediaSourceName string `json:"mediaSourceName,omitempty" yaml:"media_source,omitempty"`
	State           State  `json:"state" yaml:"state"`
}

// NewTransition creates a pending step with a fresh ID.
func NewTransition(sceneName, effectName string) Transition {
	return Transition{
		ID:         uuid.NewString(),
		SceneName:  sceneName,
		EffectName: effectName,
		State:      StatePending,
	}
}

// EffectDuration returns the effect duration override, or nil for the device default.
func (t Transition) EffectDuration() *time.Duration {
	if t.EffectDurationMS == nil {
		return nil
	}
	d := time.Duration(*t.EffectDurationMS) * time.Millisecond
	return &d
}

// Hold returns the explicit hold, zero if unset.
func (t Transition) Hold() time.Duration {
	if t.HoldMS == nil || *t.HoldMS <= 0 {
		return 0
	}
	return time.Duration(*t.HoldMS) * time.Millisecond
}

// TransitionSet is an ordered sequence of steps owned by one side (enter or
// exit) of a schedule entry.
type TransitionSet struct {
	ID          string       `json:"id" yaml:"id"`
	Transitions []Transition `json:"transitions" yaml:"transitions"`
}

// State is always recomputed from the steps.
func (s *TransitionSet) State() State {
	states := make([]State, len(s.Transitions))
	for i, t := range s.Transitions {
		states[i] = t.State
	}
	return DeriveState(states)
}

// Clone returns a deep copy.
func (s *TransitionSet) Clone() TransitionSet {
	out := TransitionSet{ID: s.ID, Transitions: make([]Transition, len(s.Transitions))}
	for i, t := range s.Transitions {
		if t.EffectDurationMS != nil {
			v := *t.EffectDurationMS
			t.EffectDurationMS = &v
		}
		if t.HoldMS != nil {
			v := *t.HoldMS
			t.HoldMS = &v
		}
		out.Transitions[i] = t
	}
	return out
}

// Reset returns every step to PENDING.
func (s *TransitionSet) Reset() {
	for i := range s.Transitions {
		s.Transitions[i].State = StatePending
	}
}

// Add appends a pending step. Steps may only be edited while the set is pending.
func (s *TransitionSet) Add(t Transition) error {
	if s.State() != StatePending {
		return ErrSetStarted
	}
	t.State = StatePending
	s.Transitions = append(s.Transitions, t)
	return nil
}

// Remove deletes the step with the given ID.
func (s *TransitionSet) Remove(id string) error {
	if s.State() != StatePending {
		return ErrSetStarted
	}
	i := s.index(id)
	if i < 0 {
		return ErrTransitionNotFound
	}
	s.Transitions = append(s.Transitions[:i], s.Transitions[i+1:]...)
	return nil
}

// Move reorders the step with the given ID to position to, clamped to the set bounds.
func (s *TransitionSet) Move(id string, to int) error {
	if s.State() != StatePending {
		return ErrSetStarted
	}
	i := s.index(id)
	if i < 0 {
		return ErrTransitionNotFound
	}
	if to < 0 {
		to = 0
	}
	if to >= len(s.Transitions) {
		to = len(s.Transitions) - 1
	}
	t := s.Transitions[i]
	s.Transitions = append(s.Transitions[:i], s.Transitions[i+1:]...)
	s.Transitions = append(s.Transitions[:to], append([]Transition{t}, s.Transitions[to:]...)...)
	return nil
}

func (s *TransitionSet) index(id string) int {
	for i := range s.Transitions {
		if s.Transitions[i].ID == id {
			return i
		}
	}
	return -1
}

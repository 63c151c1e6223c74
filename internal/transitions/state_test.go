package transitions

import (
	"errors"
	"testing"
)

func TestDeriveState(t *testing.T) {
	tests := []struct {
		name   string
		states []State
		want   State
	}{
		{"empty", nil, StatePending},
		{"single pending", []State{StatePending}, StatePending},
		{"single in progress", []State{StateInProgress}, StateInProgress},
		{"single done", []State{StateDone}, StateDone},
		{"all pending", []State{StatePending, StatePending, StatePending}, StatePending},
		{"all done", []State{StateDone, StateDone}, StateDone},
		{"done then pending", []State{StateDone, StatePending}, StateInProgress},
		{"halted mid-set", []State{StateDone, StateInProgress, StatePending}, StateInProgress},
		{"pending then done", []State{StatePending, StateDone}, StateInProgress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveState(tt.states); got != tt.want {
				t.Errorf("DeriveState(%v) = %s, want %s", tt.states, got, tt.want)
			}
		})
	}
}

func threeStepSet() *TransitionSet {
	return &TransitionSet{
		ID: "set-1",
		Transitions: []Transition{
			{ID: "a", SceneName: "scene-1", State: StatePending},
			{ID: "b", SceneName: "scene-2", State: StatePending},
			{ID: "c", SceneName: "scene-3", State: StatePending},
		},
	}
}

func ids(s *TransitionSet) string {
	out := ""
	for _, t := range s.Transitions {
		out += t.ID
	}
	return out
}

func TestTransitionSet_Move(t *testing.T) {
	tests := []struct {
		id   string
		to   int
		want string
	}{
		{"a", 2, "bca"},
		{"c", 0, "cab"},
		{"b", 1, "abc"},
		{"a", 99, "bca"},
		{"c", -3, "cab"},
	}
	for _, tt := range tests {
		s := threeStepSet()
		if err := s.Move(tt.id, tt.to); err != nil {
			t.Fatalf("Move(%s, %d): %v", tt.id, tt.to, err)
		}
		if got := ids(s); got != tt.want {
			t.Errorf("Move(%s, %d) = %s, want %s", tt.id, tt.to, got, tt.want)
		}
	}

	s := threeStepSet()
	if err := s.Move("zzz", 0); !errors.Is(err, ErrTransitionNotFound) {
		t.Errorf("expected ErrTransitionNotFound, got %v", err)
	}
}

func TestTransitionSet_AddRemove(t *testing.T) {
	s := threeStepSet()

	added := NewTransition("scene-4", "Fade")
	added.State = StateDone
	if err := s.Add(added); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(s.Transitions) != 4 || s.Transitions[3].State != StatePending {
		t.Fatalf("expected appended pending step, got %+v", s.Transitions)
	}
	if s.Transitions[3].ID == "" {
		t.Error("expected generated ID")
	}

	if err := s.Remove("b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := ids(s)[:2]; got != "ac" {
		t.Errorf("got order %s after remove", ids(s))
	}
	if err := s.Remove("b"); !errors.Is(err, ErrTransitionNotFound) {
		t.Errorf("expected ErrTransitionNotFound, got %v", err)
	}
}

func TestTransitionSet_EditsRejectedOnceStarted(t *testing.T) {
	s := threeStepSet()
	s.Transitions[0].State = StateDone

	if err := s.Add(NewTransition("x", "")); !errors.Is(err, ErrSetStarted) {
		t.Errorf("Add: expected ErrSetStarted, got %v", err)
	}
	if err := s.Remove("b"); !errors.Is(err, ErrSetStarted) {
		t.Errorf("Remove: expected ErrSetStarted, got %v", err)
	}
	if err := s.Move("b", 0); !errors.Is(err, ErrSetStarted) {
		t.Errorf("Move: expected ErrSetStarted, got %v", err)
	}
}

func TestTransitionSet_CloneIsDeep(t *testing.T) {
	hold := int64(2000)
	s := threeStepSet()
	s.Transitions[0].HoldMS = &hold

	c := s.Clone()
	*s.Transitions[0].HoldMS = 1
	s.Transitions[1].State = StateDone

	if *c.Transitions[0].HoldMS != 2000 {
		t.Error("clone shares hold pointer with original")
	}
	if c.Transitions[1].State != StatePending {
		t.Error("clone shares step slice with original")
	}
}

func TestTransition_WaitFields(t *testing.T) {
	zero, hold, effect := int64(0), int64(1500), int64(300)

	tr := Transition{HoldMS: &zero}
	if tr.Hold() != 0 {
		t.Errorf("zero hold should count as unset, got %v", tr.Hold())
	}
	tr.HoldMS = &hold
	if tr.Hold().Milliseconds() != 1500 {
		t.Errorf("got hold %v", tr.Hold())
	}

	if tr.EffectDuration() != nil {
		t.Error("expected nil effect duration when unset")
	}
	tr.EffectDurationMS = &effect
	if d := tr.EffectDuration(); d == nil || d.Milliseconds() != 300 {
		t.Errorf("got effect duration %v", d)
	}
}

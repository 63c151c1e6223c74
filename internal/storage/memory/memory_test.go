package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

func TestLoadFixture(t *testing.T) {
	s, err := LoadFixture("testdata/marathon.yaml")
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	ctx := context.Background()

	sched, err := s.Schedule(ctx, "main")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	cur, ok := sched.Current()
	if !ok || cur.ID != "e1" || cur.ActivityID() != "run-1" {
		t.Errorf("unexpected current entry %+v", cur)
	}
	if e2, _ := sched.Entry("e2"); e2.ActivityID() != "iv-1" {
		t.Errorf("expected interview entry, got %+v", e2)
	}

	set, err := s.TransitionSet(ctx, "e1-enter")
	if err != nil {
		t.Fatalf("TransitionSet: %v", err)
	}
	if len(set.Transitions) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(set.Transitions))
	}
	first := set.Transitions[0]
	if first.SceneName != "Intro Video" || first.MediaSourceName != "intro-video" || first.State != transitions.StatePending {
		t.Errorf("unexpected first step %+v", first)
	}
	if d := first.EffectDuration(); d == nil || *d != 500*time.Millisecond {
		t.Errorf("got effect duration %v", d)
	}
	if set.Transitions[1].Hold() != 2*time.Second {
		t.Errorf("got hold %v", set.Transitions[1].Hold())
	}

	done, _ := s.TransitionSet(ctx, "e2-enter")
	if done.State() != transitions.StateDone {
		t.Errorf("got %s, want DONE", done.State())
	}

	run, err := s.Activity(ctx, "run-1")
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if run.StartedAt == nil || run.PauseSeconds != 12.5 || !run.Participants[1].Finished() {
		t.Errorf("unexpected run %+v", run)
	}
	if got := timing.Elapsed(run, "runner-b", time.Now()); got != 2387.5 {
		t.Errorf("got finished runner time %v", got)
	}
}

func TestParseFixture_RejectsInvalidActivity(t *testing.T) {
	_, err := ParseFixture([]byte(`
activities:
  - id: broken
    kind: run
    actual_seconds: 10
`))
	if !errors.Is(err, timing.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestParseFixture_RequiresIDs(t *testing.T) {
	for _, doc := range []string{
		"schedules: [{entries: []}]",
		"transition_sets: [{transitions: []}]",
		"schedules: [",
	} {
		if _, err := ParseFixture([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestStore_NotFound(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Schedule(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Schedule: got %v", err)
	}
	if _, err := s.TransitionSet(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("TransitionSet: got %v", err)
	}
	if _, err := s.Activity(ctx, "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Activity: got %v", err)
	}
}

func TestStore_CopiesOnReadAndWrite(t *testing.T) {
	s := New()
	ctx := context.Background()

	set := transitions.TransitionSet{ID: "s", Transitions: []transitions.Transition{{ID: "a", State: transitions.StatePending}}}
	if err := s.SaveTransitionSet(ctx, set); err != nil {
		t.Fatalf("SaveTransitionSet: %v", err)
	}
	set.Transitions[0].State = transitions.StateDone

	got, _ := s.TransitionSet(ctx, "s")
	if got.Transitions[0].State != transitions.StatePending {
		t.Error("store aliased the saved set")
	}
	got.Transitions[0].State = transitions.StateDone
	again, _ := s.TransitionSet(ctx, "s")
	if again.Transitions[0].State != transitions.StatePending {
		t.Error("store aliased the returned set")
	}

	a := timing.Activity{ID: "r", Participants: []timing.Participant{{ID: "p"}}}
	s.SaveActivity(ctx, a)
	a.Participants[0].Name = "changed"
	stored, _ := s.Activity(ctx, "r")
	if stored.Participants[0].Name != "" {
		t.Error("store aliased the saved activity")
	}

	sched := storage.Schedule{ID: "main", Entries: []storage.Entry{{ID: "e1"}}}
	s.SaveSchedule(ctx, sched)
	sched.Entries[0].ID = "changed"
	storedSched, _ := s.Schedule(ctx, "main")
	if storedSched.Entries[0].ID != "e1" {
		t.Error("store aliased the saved schedule")
	}
}

// Package memory is an in-process Store, seeded from a YAML fixture for
// rehearsals and tests.
package memory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// Store keeps documents in maps. Reads and writes copy, so callers never
// share state with the store.
type Store struct {
	mu         sync.RWMutex
	schedules  map[string]storage.Schedule
	sets       map[string]transitions.TransitionSet
	activities map[string]timing.Activity
}

// New creates an empty store.
func New() *Store {
	return &Store{
		schedules:  make(map[string]storage.Schedule),
		sets:       make(map[string]transitions.TransitionSet),
		activities: make(map[string]timing.Activity),
	}
}

// Fixture is the YAML seed format.
type Fixture struct {
	Schedules      []storage.Schedule          `yaml:"schedules"`
	TransitionSets []transitions.TransitionSet `yaml:"transition_sets"`
	Activities     []timing.Activity           `yaml:"activities"`
}

// LoadFixture reads a fixture file into a new store.
func LoadFixture(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(b)
}

// ParseFixture parses fixture YAML into a new store. Steps without a state
// start PENDING and every activity must satisfy the timing invariants.
func ParseFixture(b []byte) (*Store, error) {
	var f Fixture
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}

	s := New()
	for _, sched := range f.Schedules {
		if sched.ID == "" {
			return nil, fmt.Errorf("fixture schedule without id")
		}
		s.schedules[sched.ID] = cloneSchedule(sched)
	}
	for _, set := range f.TransitionSets {
		if set.ID == "" {
			return nil, fmt.Errorf("fixture transition set without id")
		}
		for i := range set.Transitions {
			if set.Transitions[i].State == "" {
				set.Transitions[i].State = transitions.StatePending
			}
		}
		s.sets[set.ID] = set.Clone()
	}
	for _, a := range f.Activities {
		if err := timing.Validate(a); err != nil {
			return nil, fmt.Errorf("fixture activity %s: %w", a.ID, err)
		}
		s.activities[a.ID] = cloneActivity(a)
	}
	return s, nil
}

func cloneSchedule(s storage.Schedule) storage.Schedule {
	s.Entries = append([]storage.Entry(nil), s.Entries...)
	return s
}

func cloneActivity(a timing.Activity) timing.Activity {
	a.Participants = append([]timing.Participant(nil), a.Participants...)
	return a
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, storage.ErrNotFound)
}

func (s *Store) Schedule(_ context.Context, id string) (storage.Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return storage.Schedule{}, notFound("schedule", id)
	}
	return cloneSchedule(sched), nil
}

func (s *Store) SaveSchedule(_ context.Context, sched storage.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[sched.ID] = cloneSchedule(sched)
	return nil
}

func (s *Store) TransitionSet(_ context.Context, id string) (transitions.TransitionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[id]
	if !ok {
		return transitions.TransitionSet{}, notFound("transition set", id)
	}
	return set.Clone(), nil
}

func (s *Store) SaveTransitionSet(_ context.Context, set transitions.TransitionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.ID] = set.Clone()
	return nil
}

func (s *Store) Activity(_ context.Context, id string) (timing.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return timing.Activity{}, notFound("activity", id)
	}
	return cloneActivity(a), nil
}

func (s *Store) SaveActivity(_ context.Context, a timing.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = cloneActivity(a)
	return nil
}

// Package storage defines the documents the live engine reads and writes
// back, and the Store both backends implement.
package storage

import (
	"context"
	"errors"

	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("storage: not found")

// Entry is one slot of the schedule. Exactly one of RunID and InterviewID is set.
type Entry struct {
	ID           string `json:"id" yaml:"id"`
	Position     int    `json:"position" yaml:"position"`
	SetupSeconds int    `json:"setupSeconds" yaml:"setup_seconds"`
	RunID        string `json:"runId,omitempty" yaml:"run_id,omitempty"`
	InterviewID  string `json:"interviewId,omitempty" yaml:"interview_id,omitempty"`
	EnterSetID   string `json:"enterTransitionSetId,omitempty" yaml:"enter_set_id,omitempty"`
	ExitSetID    string `json:"exitTransitionSetId,omitempty" yaml:"exit_set_id,omitempty"`
}

// ActivityID returns the run or interview the entry shows.
func (e Entry) ActivityID() string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.InterviewID
}

// Schedule is the ordered event schedule. CurrentEntryID is the cursor the
// live engine acts on.
type Schedule struct {
	ID             string  `json:"id" yaml:"id"`
	Entries        []Entry `json:"entries" yaml:"entries"`
	CurrentEntryID string  `json:"currentEntryId,omitempty" yaml:"current_entry_id,omitempty"`
}

// Entry returns the entry with id.
func (s Schedule) Entry(id string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Current returns the entry under the cursor.
func (s Schedule) Current() (Entry, bool) {
	if s.CurrentEntryID == "" {
		return Entry{}, false
	}
	return s.Entry(s.CurrentEntryID)
}

// Store persists schedules, transition sets and activities.
type Store interface {
	Schedule(ctx context.Context, id string) (Schedule, error)
	SaveSchedule(ctx context.Context, s Schedule) error

	TransitionSet(ctx context.Context, id string) (transitions.TransitionSet, error)
	SaveTransitionSet(ctx context.Context, set transitions.TransitionSet) error

	Activity(ctx context.Context, id string) (timing.Activity, error)
	SaveActivity(ctx context.Context, a timing.Activity) error
}

// Package orchestrator ties the schedule cursor, the transition runner and
// the activity clocks to storage, the audit log and the sync channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/livesync"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// Runner executes transition sets. *transitions.Runner implements it.
type Runner interface {
	Execute(ctx context.Context, set *transitions.TransitionSet, originator string) error
	Reset(ctx context.Context, set *transitions.TransitionSet) (*transitions.TransitionSet, error)
	Running(setID string) bool
}

// Publisher receives sync messages. *livesync.Hub implements it.
type Publisher interface {
	Publish(msg livesync.Message)
}

// Options configures a Service.
type Options struct {
	// ScheduleID is the schedule whose cursor the service drives.
	ScheduleID string

	Store  storage.Store
	Runner Runner
	Sync   Publisher
	Events *events.Log
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Service is the operator-facing control surface of the live engine.
type Service struct {
	scheduleID string
	store      storage.Store
	runner     Runner
	sync       Publisher
	events     *events.Log
	clock      clockwork.Clock
	log        zerolog.Logger
}

// NewService creates a service. Store, Runner, Sync and Events are required.
func NewService(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Service{
		scheduleID: opts.ScheduleID,
		store:      opts.Store,
		runner:     opts.Runner,
		sync:       opts.Sync,
		events:     opts.Events,
		clock:      opts.Clock,
		log:        opts.Logger,
	}
}

func (s *Service) emit(ctx context.Context, level, name, msg string, fields map[string]any) {
	if _, err := s.events.Emit(ctx, level, name, msg, fields); err != nil {
		s.log.Error().Err(err).Str("event", name).Msg("audit event rejected")
	}
}

func (s *Service) publish(typ livesync.Type, id string, payload any) {
	msg, err := livesync.NewMessage(typ, id, payload, s.clock.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("sync message encode failed")
		return
	}
	s.sync.Publish(msg)
}

// TransitionSet returns the stored set.
func (s *Service) TransitionSet(ctx context.Context, id string) (transitions.TransitionSet, error) {
	return s.store.TransitionSet(ctx, id)
}

// ExecuteSet runs the set with id on behalf of originator. Step progress is
// persisted and synced by the runner's state sink as it happens.
func (s *Service) ExecuteSet(ctx context.Context, setID, originator string) error {
	set, err := s.store.TransitionSet(ctx, setID)
	if err != nil {
		return err
	}

	err = s.runner.Execute(ctx, &set, originator)
	if errors.Is(err, transitions.ErrBusy) {
		return err
	}
	if err != nil {
		s.emit(ctx, "error", events.SequenceFailed, err.Error(), map[string]any{
			"set_id":     setID,
			"originator": originator,
			"state":      string(set.State()),
		})
	}
	if saveErr := s.store.SaveTransitionSet(context.WithoutCancel(ctx), set); saveErr != nil {
		s.log.Error().Err(saveErr).Str("set_id", setID).Msg("save transition set failed")
		if err == nil {
			err = saveErr
		}
	}
	return err
}

// ResetSet returns every step of the set to PENDING. A set whose sequence is
// running on this engine is refused with ErrBusy.
func (s *Service) ResetSet(ctx context.Context, setID string) (transitions.TransitionSet, error) {
	if s.runner.Running(setID) {
		return transitions.TransitionSet{}, transitions.ErrBusy
	}

	set, err := s.store.TransitionSet(ctx, setID)
	if err != nil {
		return transitions.TransitionSet{}, err
	}
	reset, err := s.runner.Reset(ctx, &set)
	if err != nil {
		return transitions.TransitionSet{}, err
	}
	if err := s.store.SaveTransitionSet(ctx, *reset); err != nil {
		return transitions.TransitionSet{}, err
	}

	s.publish(livesync.TransitionSequenceReset, setID, reset)
	s.emit(ctx, "info", events.SetReset, "", map[string]any{"set_id": setID})
	return *reset, nil
}

// Schedule returns the driven schedule.
func (s *Service) Schedule(ctx context.Context) (storage.Schedule, error) {
	return s.store.Schedule(ctx, s.scheduleID)
}

// TransitionTo moves the schedule cursor to entryID: the current entry's exit
// set runs first, then the cursor moves, then the new entry's enter set runs.
// A failed exit set leaves the cursor where it was.
func (s *Service) TransitionTo(ctx context.Context, entryID, originator string) error {
	sched, err := s.store.Schedule(ctx, s.scheduleID)
	if err != nil {
		return err
	}
	next, ok := sched.Entry(entryID)
	if !ok {
		return fmt.Errorf("schedule entry %q: %w", entryID, storage.ErrNotFound)
	}

	from, hasCurrent := sched.Current()
	if hasCurrent && from.ExitSetID != "" {
		if err := s.ExecuteSet(ctx, from.ExitSetID, originator); err != nil {
			return fmt.Errorf("exit %s: %w", from.ID, err)
		}
	}

	sched.CurrentEntryID = next.ID
	if err := s.store.SaveSchedule(ctx, sched); err != nil {
		return err
	}
	s.publish(livesync.ScheduleLoaded, sched.ID, sched)
	s.emit(ctx, "info", events.ScheduleAdvanced, "", map[string]any{
		"from":       from.ID,
		"to":         next.ID,
		"originator": originator,
	})

	if next.EnterSetID != "" {
		if err := s.ExecuteSet(ctx, next.EnterSetID, originator); err != nil {
			return fmt.Errorf("enter %s: %w", next.ID, err)
		}
	}
	return nil
}

// Activity returns the stored activity after checking its invariants.
func (s *Service) Activity(ctx context.Context, id string) (timing.Activity, error) {
	a, err := s.store.Activity(ctx, id)
	if err != nil {
		return timing.Activity{}, err
	}
	if err := timing.Validate(a); err != nil {
		return timing.Activity{}, err
	}
	return a, nil
}

// Act applies a timer control to the activity at the current time. The
// activity is always reloaded, so updates from other clients are never lost.
func (s *Service) Act(ctx context.Context, activityID string, action timing.Action, participantID string) (timing.Activity, error) {
	a, err := s.Activity(ctx, activityID)
	if err != nil {
		return timing.Activity{}, err
	}

	next, err := timing.Apply(a, action, participantID, s.clock.Now())
	if err != nil {
		return timing.Activity{}, err
	}
	if err := timing.Validate(next); err != nil {
		return timing.Activity{}, err
	}
	if err := s.store.SaveActivity(ctx, next); err != nil {
		return timing.Activity{}, err
	}

	typ := livesync.RunLoaded
	if next.Kind == timing.KindInterview {
		typ = livesync.InterviewLoaded
	}
	s.publish(typ, next.ID, next)

	fields := map[string]any{"activity_id": next.ID}
	if participantID != "" {
		fields["participant_id"] = participantID
		if p, ok := next.Participant(participantID); ok {
			s.publish(livesync.ParticipantLoaded, p.ID, p)
		}
	}
	s.emit(ctx, "info", "activity."+string(action), "", fields)
	return next, nil
}

// Elapsed returns the activity's (or one participant's) elapsed seconds at asOf.
func (s *Service) Elapsed(ctx context.Context, activityID, participantID string, asOf time.Time) (float64, error) {
	a, err := s.Activity(ctx, activityID)
	if err != nil {
		return 0, err
	}
	if participantID != "" {
		if _, ok := a.Participant(participantID); !ok {
			return 0, fmt.Errorf("%w: %q on activity %s", timing.ErrParticipantNotFound, participantID, activityID)
		}
	}
	return timing.Elapsed(a, participantID, asOf), nil
}

// Actions returns the legal timer controls for the activity.
func (s *Service) Actions(ctx context.Context, activityID string) (timing.Actions, error) {
	a, err := s.Activity(ctx, activityID)
	if err != nil {
		return timing.Actions{}, err
	}
	return timing.AvailableActions(a), nil
}

// Now returns the service clock's time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

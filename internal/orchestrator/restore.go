package orchestrator

import (
	"context"
	"fmt"

	"github.com/spyrothon/graphics-sub000/internal/broadcast"
	"github.com/spyrothon/graphics-sub000/internal/events"
)

// DefaultRestoreLimit is the default number of events to load for restore.
const DefaultRestoreLimit = 1000

// Interrupted is a sequence that started but never finished, usually because
// the process stopped mid-sequence.
type Interrupted struct {
	SetID      string
	Originator string
}

// FindInterrupted replays audit events in order and returns the sequences
// still open at the end.
func FindInterrupted(history []events.Event) []Interrupted {
	var open []Interrupted
	for _, e := range history {
		seq := Interrupted{SetID: e.Str("set_id"), Originator: e.Str("originator")}
		switch e.Name {
		case events.SequenceStarted:
			open = append(open, seq)
		case events.SequenceFinished, events.SequenceRecovered:
			for i := range open {
				if open[i] == seq {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}
		}
	}
	return open
}

// RestoreInterrupted closes sequences left open by a previous run: every
// client is told the originator is idle again and a sequence.recovered event
// is recorded. Step states are left as stored, so an interrupted step stays
// IN_PROGRESS until an operator resets its set.
func (s *Service) RestoreInterrupted(ctx context.Context, bus broadcast.Bus, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRestoreLimit
	}
	history, err := s.events.History(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}

	open := FindInterrupted(history)
	for _, seq := range open {
		msg := broadcast.Message{
			Kind:       broadcast.SequenceEnded,
			Originator: seq.Originator,
			SetID:      seq.SetID,
			At:         s.clock.Now().UTC(),
		}
		if err := bus.Publish(ctx, msg); err != nil {
			s.log.Warn().Err(err).Str("set_id", seq.SetID).Msg("recovery broadcast failed")
		}
		s.emit(ctx, "warn", events.SequenceRecovered, "sequence interrupted by restart", map[string]any{
			"set_id":     seq.SetID,
			"originator": seq.Originator,
		})
	}

	if len(open) > 0 {
		s.log.Info().Int("recovered", len(open)).Int("scanned", len(history)).Msg("interrupted sequences recovered")
	}
	return len(open), nil
}

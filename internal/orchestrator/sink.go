package orchestrator

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/spyrothon/graphics-sub000/internal/broadcast"
	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/livesync"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// SetSink persists and syncs every step change reported by the runner.
type SetSink struct {
	store storage.Store
	sync  Publisher
	clock clockwork.Clock
	log   zerolog.Logger
}

// NewSetSink creates the runner's state sink.
func NewSetSink(store storage.Store, sync Publisher, clock clockwork.Clock, log zerolog.Logger) *SetSink {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SetSink{store: store, sync: sync, clock: clock, log: log}
}

// TransitionSetChanged implements transitions.StateSink.
func (s *SetSink) TransitionSetChanged(ctx context.Context, set transitions.TransitionSet) {
	if err := s.store.SaveTransitionSet(context.WithoutCancel(ctx), set); err != nil {
		s.log.Error().Err(err).Str("set_id", set.ID).Msg("save transition set failed")
	}
	msg, err := livesync.NewMessage(livesync.TransitionSetLoaded, set.ID, set, s.clock.Now().UTC())
	if err != nil {
		s.log.Error().Err(err).Msg("sync message encode failed")
		return
	}
	s.sync.Publish(msg)
}

// WatchBus mirrors busy-state messages, local and remote, onto the sync
// channel and into the audit log until ctx is done.
func (s *Service) WatchBus(ctx context.Context, bus broadcast.Bus) error {
	msgs, cancel := bus.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.mirror(ctx, msg)
		}
	}
}

func (s *Service) mirror(ctx context.Context, msg broadcast.Message) {
	payload := map[string]any{
		"set_id":     msg.SetID,
		"originator": msg.Originator,
	}
	switch msg.Kind {
	case broadcast.SequenceStarted:
		s.publish(livesync.TransitionSequenceStarted, msg.SetID, payload)
		s.emit(ctx, "info", events.SequenceStarted, "", payload)
	case broadcast.SequenceEnded:
		s.publish(livesync.TransitionSequenceFinished, msg.SetID, payload)
		s.emit(ctx, "info", events.SequenceFinished, "", payload)
	}
}

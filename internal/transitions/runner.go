package transitions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/spyrothon/graphics-sub000/internal/broadcast"
	"github.com/spyrothon/graphics-sub000/internal/obs"
)

// DefaultSafetyMargin is added to a media source's length so playback is not cut off.
const DefaultSafetyMargin = 100 * time.Millisecond

// Device is the control connection a Runner drives. *obs.Client implements it.
type Device interface {
	obs.Caller
	obs.EventSource
}

// Publisher sends busy-state signals. broadcast.Bus implements it.
type Publisher interface {
	Publish(ctx context.Context, msg broadcast.Message) error
}

// StateSink receives a snapshot of a set after every step state change.
type StateSink interface {
	TransitionSetChanged(ctx context.Context, set TransitionSet)
}

// Recorder observes runner outcomes for metrics.
type Recorder interface {
	ObserveStep(outcome string, d time.Duration)
	ObserveSequence(outcome string)
}

// Outcomes reported to a Recorder.
const (
	OutcomeDone    = "done"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomeBusy    = "busy"
)

// Options configures a Runner.
type Options struct {
	// SafetyMargin defaults to DefaultSafetyMargin; a negative value disables it.
	SafetyMargin time.Duration
	// CompletionTimeout bounds the wait for the device's transition-ended event.
	// Zero waits forever.
	CompletionTimeout time.Duration
	// Exclusive makes a second concurrent Execute fail fast with ErrBusy.
	Exclusive bool

	Clock    clockwork.Clock
	Logger   zerolog.Logger
	Sink     StateSink
	Recorder Recorder
}

// Runner executes transition sets against one device.
type Runner struct {
	device Device
	bus    Publisher
	waiter *obs.Waiter
	opts   Options
	clock  clockwork.Clock
	log    zerolog.Logger

	lease sync.Mutex

	mu     sync.Mutex
	active map[string]int // set ID -> sequences in flight
}

// NewRunner creates a runner for device that signals busy state on bus.
func NewRunner(device Device, bus Publisher, opts Options) *Runner {
	if opts.SafetyMargin == 0 {
		opts.SafetyMargin = DefaultSafetyMargin
	} else if opts.SafetyMargin < 0 {
		opts.SafetyMargin = 0
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Runner{
		device: device,
		bus:    bus,
		waiter: obs.NewWaiter(device),
		opts:   opts,
		clock:  opts.Clock,
		log:    opts.Logger,
		active: make(map[string]int),
	}
}

// Running reports whether a sequence of the set with id is in flight.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id] > 0
}

func (r *Runner) track(id string) (done func()) {
	r.mu.Lock()
	r.active[id]++
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.active[id]--; r.active[id] <= 0 {
			delete(r.active, id)
		}
	}
}

// ExecuteTransition runs a single step and marks it DONE on success.
func (r *Runner) ExecuteTransition(ctx context.Context, t *Transition) error {
	return r.run(ctx, t, func() {})
}

func (r *Runner) run(ctx context.Context, t *Transition, changed func()) (err error) {
	start := r.clock.Now()
	defer func() {
		r.observeStep(err, r.clock.Since(start))
	}()

	t.State = StateInProgress
	changed()

	wait, err := r.waitTime(ctx, t)
	if err != nil {
		return err
	}

	if err := obs.SetPreviewScene(ctx, r.device, t.SceneName); err != nil {
		return fmt.Errorf("set preview scene %q: %w", t.SceneName, err)
	}
	if t.EffectName != "" {
		if err := obs.SetTransitionEffect(ctx, r.device, t.EffectName); err != nil {
			return fmt.Errorf("set transition %q: %w", t.EffectName, err)
		}
	}
	restore, err := r.overrideDuration(ctx, t)
	if err != nil {
		return fmt.Errorf("set transition duration for %q: %w", t.EffectName, err)
	}
	defer restore()

	// Subscribe before triggering so a fast device cannot finish unobserved.
	pending := r.waiter.Next(obs.EventSceneTransitionEnded)
	defer pending.Cancel()

	if err := obs.TriggerTransition(ctx, r.device); err != nil {
		return fmt.Errorf("trigger transition to %q: %w", t.SceneName, err)
	}
	if err := r.awaitCompletion(ctx, pending); err != nil {
		return fmt.Errorf("transition to %q: %w", t.SceneName, err)
	}

	if wait > 0 {
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}

	t.State = StateDone
	changed()

	r.log.Debug().
		Str("transition_id", t.ID).
		Str("scene", t.SceneName).
		Dur("wait", wait).
		Msg("transition done")
	return nil
}

// overrideDuration applies the step's effect duration and returns a func that
// puts back the duration the effect was configured with. Steps without an
// override run at the device's configured duration.
func (r *Runner) overrideDuration(ctx context.Context, t *Transition) (restore func(), err error) {
	d := t.EffectDuration()
	if d == nil {
		return func() {}, nil
	}
	cur, err := obs.GetCurrentSceneTransition(ctx, r.device)
	if err != nil {
		return nil, err
	}
	if err := obs.SetTransitionDuration(ctx, r.device, *d); err != nil {
		return nil, err
	}
	prev := cur.Duration()
	if prev == nil || *prev == *d {
		return func() {}, nil
	}
	return func() {
		if err := obs.SetTransitionDuration(context.WithoutCancel(ctx), r.device, *prev); err != nil {
			r.log.Warn().Err(err).Str("effect", cur.Name).Dur("duration", *prev).Msg("restore transition duration failed")
		}
	}, nil
}

// waitTime is the hold if set, else the media length plus margin, else zero.
func (r *Runner) waitTime(ctx context.Context, t *Transition) (time.Duration, error) {
	if hold := t.Hold(); hold > 0 {
		return hold, nil
	}
	if t.MediaSourceName != "" {
		d, err := obs.GetMediaDuration(ctx, r.device, t.MediaSourceName)
		if err != nil {
			return 0, fmt.Errorf("get media duration for %q: %w", t.MediaSourceName, err)
		}
		return d + r.opts.SafetyMargin, nil
	}
	return 0, nil
}

func (r *Runner) awaitCompletion(ctx context.Context, pending *obs.Pending) error {
	if r.opts.CompletionTimeout <= 0 {
		_, err := pending.Wait(ctx)
		return err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := r.clock.NewTimer(r.opts.CompletionTimeout)
	defer timer.Stop()

	var timedOut atomic.Bool
	go func() {
		select {
		case <-timer.Chan():
			timedOut.Store(true)
			cancel()
		case <-waitCtx.Done():
		}
	}()

	_, err := pending.Wait(waitCtx)
	if err != nil && timedOut.Load() && ctx.Err() == nil {
		return ErrDeviceTimeout
	}
	return err
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) error {
	timer := r.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs every step of set in order on behalf of originator. A failing
// step halts the set: earlier steps stay DONE and later steps stay PENDING.
// Sequence started/ended signals are always published as a pair.
func (r *Runner) Execute(ctx context.Context, set *TransitionSet, originator string) (err error) {
	if r.opts.Exclusive {
		if !r.lease.TryLock() {
			r.observeSequence(OutcomeBusy)
			return ErrBusy
		}
		defer r.lease.Unlock()
	}

	defer r.track(set.ID)()

	log := r.log.With().Str("set_id", set.ID).Str("originator", originator).Logger()
	log.Info().Int("steps", len(set.Transitions)).Msg("transition sequence started")
	r.publish(ctx, broadcast.SequenceStarted, originator, set.ID)

	defer func() {
		r.publish(context.WithoutCancel(ctx), broadcast.SequenceEnded, originator, set.ID)
		if err != nil {
			log.Error().Err(err).Msg("transition sequence halted")
		} else {
			log.Info().Msg("transition sequence finished")
		}
		r.observeSequence(outcomeOf(err))
	}()

	changed := func() {
		if r.opts.Sink != nil {
			r.opts.Sink.TransitionSetChanged(ctx, set.Clone())
		}
	}

	for i := range set.Transitions {
		t := &set.Transitions[i]
		if err := r.run(ctx, t, changed); err != nil {
			return fmt.Errorf("set %s step %d: %w", set.ID, i+1, err)
		}
	}
	return nil
}

// Reset returns every step of set to PENDING. It is idempotent; callers must
// not reset a set whose sequence is still in flight.
func (r *Runner) Reset(ctx context.Context, set *TransitionSet) (*TransitionSet, error) {
	set.Reset()
	if r.opts.Sink != nil {
		r.opts.Sink.TransitionSetChanged(ctx, set.Clone())
	}
	r.log.Info().Str("set_id", set.ID).Msg("transition set reset")
	return set, nil
}

func (r *Runner) publish(ctx context.Context, kind broadcast.Kind, originator, setID string) {
	if r.bus == nil {
		return
	}
	msg := broadcast.Message{Kind: kind, Originator: originator, SetID: setID, At: r.clock.Now()}
	if err := r.bus.Publish(ctx, msg); err != nil {
		r.log.Warn().Err(err).Str("kind", string(kind)).Msg("busy-state broadcast failed")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, ErrDeviceTimeout):
		return OutcomeTimeout
	default:
		return OutcomeFailed
	}
}

func (r *Runner) observeStep(err error, d time.Duration) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveStep(outcomeOf(err), d)
	}
}

func (r *Runner) observeSequence(outcome string) {
	if r.opts.Recorder != nil {
		r.opts.Recorder.ObserveSequence(outcome)
	}
}

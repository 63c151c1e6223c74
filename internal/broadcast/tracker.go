package broadcast

import (
	"sort"
	"sync"
)

// Tracker folds bus messages into a shared busy flag keyed by originator.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]map[string]struct{} // originator -> set IDs

	cancel func()
	done   chan struct{}
}

// NewTracker starts consuming bus. Stop releases the subscription.
func NewTracker(bus Bus) *Tracker {
	msgs, cancel := bus.Subscribe()
	t := &Tracker{
		active: make(map[string]map[string]struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		for msg := range msgs {
			t.Apply(msg)
		}
	}()
	return t
}

// Apply updates the busy state with one message.
func (t *Tracker) Apply(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		t.active = make(map[string]map[string]struct{})
	}
	switch msg.Kind {
	case SequenceStarted:
		sets := t.active[msg.Originator]
		if sets == nil {
			sets = make(map[string]struct{})
			t.active[msg.Originator] = sets
		}
		sets[msg.SetID] = struct{}{}
	case SequenceEnded:
		sets := t.active[msg.Originator]
		delete(sets, msg.SetID)
		if len(sets) == 0 {
			delete(t.active, msg.Originator)
		}
	}
}

// Busy reports whether any originator has a sequence in flight.
func (t *Tracker) Busy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active) > 0
}

// IsBusy reports whether originator has a sequence in flight.
func (t *Tracker) IsBusy(originator string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.active[originator]
	return ok
}

// Originators returns the busy originators, sorted.
func (t *Tracker) Originators() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.active))
	for o := range t.active {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

// Stop unsubscribes from the bus and waits for the consumer to exit.
func (t *Tracker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

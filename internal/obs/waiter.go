package obs

import (
	"context"
	"sync"
)

// EventSource is anything events can be subscribed to. *Client implements it.
type EventSource interface {
	On(eventType string, h Handler) (off func())
}

// Waiter hands out one-shot subscriptions to the next occurrence of an event.
type Waiter struct {
	src EventSource
}

// NewWaiter creates a Waiter over src.
func NewWaiter(src EventSource) *Waiter {
	return &Waiter{src: src}
}

// Pending is a registered one-shot subscription.
type Pending struct {
	eventType string
	result    chan waitResult
	once      sync.Once

	offMu    sync.Mutex
	offs     []func()
	released bool
}

type waitResult struct {
	ev  Event
	err error
}

// Next registers a listener for the next eventType event and returns immediately.
// Registration happens before Next returns, so a command sent afterwards cannot
// race past it. Every Pending for the same event type resolves on the same event.
// There is no timeout; bound Wait with ctx.
func (w *Waiter) Next(eventType string) *Pending {
	p := &Pending{
		eventType: eventType,
		result:    make(chan waitResult, 1),
	}

	offEvent := w.src.On(eventType, func(ev Event) {
		p.resolve(waitResult{ev: ev})
	})
	offClosed := w.src.On(EventConnectionClosed, func(Event) {
		p.resolve(waitResult{err: ErrDisconnected})
	})

	p.offMu.Lock()
	if p.released {
		// Resolved on another goroutine before the offs were recorded.
		p.offMu.Unlock()
		offEvent()
		offClosed()
		return p
	}
	p.offs = []func(){offEvent, offClosed}
	p.offMu.Unlock()
	return p
}

func (p *Pending) resolve(r waitResult) {
	p.once.Do(func() {
		p.result <- r
		p.unregister()
	})
}

func (p *Pending) unregister() {
	p.offMu.Lock()
	offs := p.offs
	p.offs = nil
	p.released = true
	p.offMu.Unlock()
	for _, off := range offs {
		off()
	}
}

// Wait blocks until the event arrives, the connection closes, or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Event, error) {
	select {
	case r := <-p.result:
		// Keep the result readable for repeated Wait calls.
		p.result <- r
		return r.ev, r.err
	case <-ctx.Done():
		p.Cancel()
		return Event{}, ctx.Err()
	}
}

// Cancel removes the listener without waiting. It is safe to call after resolution.
func (p *Pending) Cancel() {
	p.once.Do(func() {
		p.unregister()
	})
}

// EventType returns the event this Pending waits for.
func (p *Pending) EventType() string {
	return p.eventType
}

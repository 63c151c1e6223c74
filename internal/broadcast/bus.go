// Package broadcast carries control-plane busy/idle messages between every
// connected control client. Delivery is best-effort: a lost message only
// degrades a busy indicator, never the transition sequence itself.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Kind names a control-plane message.
type Kind string

const (
	SequenceStarted Kind = "sequence.started"
	SequenceEnded   Kind = "sequence.ended"
)

// Message is one busy-state signal, tagged with the client that originated it.
type Message struct {
	Kind       Kind      `json:"kind"`
	Originator string    `json:"originator"`
	SetID      string    `json:"set_id,omitempty"`
	At         time.Time `json:"at"`
}

// Bus fans messages out to every subscriber, local and remote.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe() (<-chan Message, func())
	Close() error
}

// wireMessage is a Message on a remote transport, tagged with the bus
// instance that sent it so a bus can skip its own echoes.
type wireMessage struct {
	Source string `json:"source"`
	Message
}

// Encode serialises a message sent by the bus instance source.
func Encode(source string, msg Message) ([]byte, error) {
	return json.Marshal(wireMessage{Source: source, Message: msg})
}

// Decode parses a message received from a remote transport.
func Decode(b []byte) (source string, msg Message, err error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return "", Message{}, fmt.Errorf("invalid broadcast message: %w", err)
	}
	switch w.Kind {
	case SequenceStarted, SequenceEnded:
	default:
		return "", Message{}, fmt.Errorf("unknown broadcast kind: %q", w.Kind)
	}
	if w.Originator == "" {
		return "", Message{}, errors.New("broadcast message without originator")
	}
	return w.Source, w.Message, nil
}

// subscriberBuffer bounds how far a slow subscriber may fall behind before
// messages are dropped for it.
const subscriberBuffer = 64

// Local is an in-process Bus. Remote transports embed it for their local fan-out.
type Local struct {
	mu          sync.RWMutex
	subscribers map[chan Message]struct{}
	closed      bool
}

// NewLocal creates an empty in-process bus.
func NewLocal() *Local {
	return &Local{subscribers: make(map[chan Message]struct{})}
}

// Publish delivers msg to all current subscribers without blocking.
func (l *Local) Publish(_ context.Context, msg Message) error {
	l.deliver(msg)
	return nil
}

func (l *Local) deliver(msg Message) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.subscribers {
		select {
		case sub <- msg:
		default:
			// Buffer full, drop for this slow subscriber
		}
	}
}

// Subscribe returns a message channel and a cancel function that closes it.
func (l *Local) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	l.subscribers[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			if _, ok := l.subscribers[ch]; ok {
				delete(l.subscribers, ch)
				close(ch)
			}
			l.mu.Unlock()
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (l *Local) SubscriberCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers)
}

// Close closes every subscriber channel.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for sub := range l.subscribers {
		close(sub)
	}
	l.subscribers = make(map[chan Message]struct{})
	l.closed = true
	return nil
}

// Package livesync fans schedule, activity and transition state out to every
// connected dashboard and overlay, and accepts updates from any of them.
package livesync

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Type names a sync message.
type Type string

const (
	ScheduleLoaded             Type = "schedule.loaded"
	RunLoaded                  Type = "run.loaded"
	InterviewLoaded            Type = "interview.loaded"
	ParticipantLoaded          Type = "participant.loaded"
	TransitionSetLoaded        Type = "transition-set.loaded"
	TransitionSequenceStarted  Type = "transition-sequence.started"
	TransitionSequenceFinished Type = "transition-sequence.finished"
	TransitionSequenceReset    Type = "transition-sequence.reset"
)

// Known reports whether t is a message type the channel carries.
func (t Type) Known() bool {
	switch t {
	case ScheduleLoaded, RunLoaded, InterviewLoaded, ParticipantLoaded, TransitionSetLoaded,
		TransitionSequenceStarted, TransitionSequenceFinished, TransitionSequenceReset:
		return true
	}
	return false
}

// snapshot reports whether a message carries a full document that late
// subscribers should be replayed.
func (t Type) snapshot() bool {
	switch t {
	case ScheduleLoaded, RunLoaded, InterviewLoaded, ParticipantLoaded, TransitionSetLoaded:
		return true
	}
	return false
}

// Message is one typed state update.
type Message struct {
	Type    Type            `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	At      time.Time       `json:"at"`
}

// NewMessage encodes payload into a message about document id.
func NewMessage(typ Type, id string, payload any, at time.Time) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Message{Type: typ, ID: id, Payload: raw, At: at}, nil
}

// DecodeMessage parses and validates a message received from a peer.
func DecodeMessage(b []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(b, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid sync message: %w", err)
	}
	if !msg.Type.Known() {
		return Message{}, fmt.Errorf("unknown sync message type: %q", msg.Type)
	}
	return msg, nil
}

const subscriberBuffer = 256

type docKey struct {
	typ Type
	id  string
}

type latest struct {
	seq uint64
	msg Message
}

// Hub is the in-process fan-out behind the sync channel. It remembers the
// newest document of each (type, id) so new subscribers start consistent.
type Hub struct {
	log zerolog.Logger

	mu          sync.RWMutex
	subscribers map[chan Message]struct{}
	latest      map[docKey]latest
	seq         uint64

	// OnClientCount is called with the websocket client count when it changes.
	OnClientCount func(n int)
	clients       int
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:         log,
		subscribers: make(map[chan Message]struct{}),
		latest:      make(map[docKey]latest),
	}
}

// Publish records msg and delivers it to every subscriber without blocking.
func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Type.snapshot() {
		h.seq++
		h.latest[docKey{msg.Type, msg.ID}] = latest{seq: h.seq, msg: msg}
	}
	for sub := range h.subscribers {
		select {
		case sub <- msg:
		default:
			h.log.Warn().Str("type", string(msg.Type)).Msg("sync subscriber full, dropping message")
		}
	}
}

// Subscribe returns the current documents in publish order, a channel of
// later messages and a cancel function. Nothing is lost between the two.
func (h *Hub) Subscribe() ([]Message, <-chan Message, func()) {
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	snapshot := make([]latest, 0, len(h.latest))
	for _, l := range h.latest {
		snapshot = append(snapshot, l)
	}
	h.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].seq < snapshot[j].seq })
	replay := make([]Message, len(snapshot))
	for i, l := range snapshot {
		replay[i] = l.msg
	}

	var once sync.Once
	return replay, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
		})
	}
}

// Latest returns the newest document of type typ with id.
func (h *Hub) Latest(typ Type, id string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.latest[docKey{typ, id}]
	return l.msg, ok
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) addClient(delta int) {
	h.mu.Lock()
	h.clients += delta
	n := h.clients
	cb := h.OnClientCount
	h.mu.Unlock()
	if cb != nil {
		cb(n)
	}
}

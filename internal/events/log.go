// Package events is the engine's audit log: a validated set of named events
// kept in a ring buffer and optionally appended to durable storage.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of events kept in memory.
const DefaultBufferSize = 256

type Event struct {
	Timestamp time.Time      `json:"ts"`
	Level     string         `json:"level"`
	Name      string         `json:"event"`
	Message   string         `json:"msg,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Str returns a string field, or "" if it is missing or not a string.
func (e Event) Str(key string) string {
	s, _ := e.Fields[key].(string)
	return s
}

// Appender persists events. Query returns the newest limit events, newest first.
type Appender interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, limit int) ([]Event, error)
}

// Log records audit events.
type Log struct {
	buffer   *RingBuffer
	appender Appender
	clock    clockwork.Clock
	log      zerolog.Logger
	onEmit   func(Event)

	mu          sync.Mutex
	errorLogged bool
}

// Options configures a Log. A nil Appender keeps events in memory only.
type Options struct {
	BufferSize int
	Appender   Appender
	Clock      clockwork.Clock
	Logger     zerolog.Logger

	// OnEmit, if set, is called after each event is recorded.
	OnEmit func(Event)
}

func NewLog(opts Options) *Log {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Log{
		buffer:   NewRingBuffer(opts.BufferSize),
		appender: opts.Appender,
		clock:    opts.Clock,
		log:      opts.Logger,
		onEmit:   opts.OnEmit,
	}
}

// Emit validates and records an event. Appender failures do not fail the
// emit; the first one is recorded as system.error and logged.
func (l *Log) Emit(ctx context.Context, level, name, msg string, fields map[string]any) (Event, error) {
	if err := Validate(name); err != nil {
		return Event{}, err
	}

	e := Event{
		Timestamp: l.clock.Now().UTC(),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}
	l.buffer.Add(e)

	if l.appender != nil {
		if err := l.appender.Append(ctx, e); err != nil {
			l.appendFailed(err)
		}
	}

	l.log.Debug().Str("event", name).Fields(fields).Msg(msg)
	if l.onEmit != nil {
		l.onEmit(e)
	}
	return e, nil
}

func (l *Log) appendFailed(err error) {
	l.mu.Lock()
	first := !l.errorLogged
	l.errorLogged = true
	l.mu.Unlock()
	if !first {
		return
	}

	l.log.Error().Err(err).Msg("event append failed")
	// Straight into the buffer; going through Emit would retry the appender.
	l.buffer.Add(Event{
		Timestamp: l.clock.Now().UTC(),
		Level:     "error",
		Name:      SystemError,
		Message:   "event append failed",
		Fields:    map[string]any{"error": err.Error()},
	})
}

// Recent returns the last n buffered events, oldest first. n <= 0 returns all.
func (l *Log) Recent(n int) []Event {
	all := l.buffer.Snapshot()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// History returns up to limit events, oldest first, from the appender when
// there is one and from the buffer otherwise.
func (l *Log) History(ctx context.Context, limit int) ([]Event, error) {
	if l.appender == nil {
		return l.Recent(limit), nil
	}
	rows, err := l.appender.Query(ctx, limit)
	if err != nil {
		return nil, err
	}
	// Reverse to chronological order (Query returns newest first)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Clear resets the buffer. Used for testing.
func (l *Log) Clear() {
	l.buffer.Clear()
}

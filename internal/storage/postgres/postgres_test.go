package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 200},
		{-5, 200},
		{50, 50},
		{10000, 10000},
		{20000, 10000},
	}
	for _, tt := range tests {
		if got := clampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// openTestDB connects to the database named by GRAPHICS_TEST_PG_DSN or skips.
func openTestDB(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("GRAPHICS_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("GRAPHICS_TEST_PG_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Open(ctx, dsn, "test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDocuments(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()

	id := "set-" + time.Now().Format("150405.000000000")
	if _, err := c.TransitionSet(ctx, id); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	hold := int64(1500)
	set := transitions.TransitionSet{ID: id, Transitions: []transitions.Transition{
		{ID: "a", SceneName: "Intro", HoldMS: &hold, State: transitions.StateDone},
		{ID: "b", SceneName: "Run", State: transitions.StatePending},
	}}
	if err := c.SaveTransitionSet(ctx, set); err != nil {
		t.Fatalf("SaveTransitionSet: %v", err)
	}
	set.Transitions[1].State = transitions.StateInProgress
	if err := c.SaveTransitionSet(ctx, set); err != nil {
		t.Fatalf("SaveTransitionSet (update): %v", err)
	}

	got, err := c.TransitionSet(ctx, id)
	if err != nil {
		t.Fatalf("TransitionSet: %v", err)
	}
	if got.State() != transitions.StateInProgress || got.Transitions[0].Hold() != 1500*time.Millisecond {
		t.Errorf("unexpected set %+v", got)
	}

	started := time.Date(2026, 7, 4, 18, 0, 0, 0, time.UTC)
	a := timing.Activity{ID: id, Kind: timing.KindRun, StartedAt: &started, PauseSeconds: 3}
	if err := c.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}
	back, err := c.Activity(ctx, id)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if !back.StartedAt.Equal(started) || back.PauseSeconds != 3 {
		t.Errorf("unexpected activity %+v", back)
	}
}

func TestEventsAppendQuery(t *testing.T) {
	c := openTestDB(t)
	ctx := context.Background()

	e := events.Event{
		Timestamp: time.Now().UTC(),
		Level:     "info",
		Name:      events.SequenceStarted,
		Fields:    map[string]any{"set_id": "s1"},
	}
	if err := c.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rows, err := c.Query(ctx, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != events.SequenceStarted || rows[0].Str("set_id") != "s1" {
		t.Errorf("unexpected rows %+v", rows)
	}
}

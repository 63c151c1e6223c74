// Package postgres stores schedules, transition sets, activities and the
// audit log in Postgres.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/spyrothon/graphics-sub000/internal/events"
	"github.com/spyrothon/graphics-sub000/internal/storage"
	"github.com/spyrothon/graphics-sub000/internal/timing"
	"github.com/spyrothon/graphics-sub000/internal/transitions"
)

// Client manages the Postgres connection. It implements storage.Store and
// events.Appender.
type Client struct {
	db       *sql.DB
	instance string
}

// Open connects with dsn and creates missing tables. instance tags the audit
// events this process writes.
func Open(ctx context.Context, dsn, instance string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	// Test connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:       db,
		instance: instance,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS events (
		event_id BIGSERIAL PRIMARY KEY,
		ts       TIMESTAMPTZ NOT NULL,
		level    TEXT NOT NULL,
		event    TEXT NOT NULL,
		msg      TEXT,
		fields   JSONB,
		instance TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);

	CREATE TABLE IF NOT EXISTS schedules (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS transition_sets (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS activities (
		id         TEXT PRIMARY KEY,
		doc        JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
`

func (c *Client) createTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// Append inserts an audit event.
func (c *Client) Append(ctx context.Context, e events.Event) error {
	var fieldsJSON []byte
	if e.Fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if e.Message != "" {
		msgPtr = &e.Message
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, instance)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, query, e.Timestamp, e.Level, e.Name, msgPtr, fieldsJSON, c.instance)
	return err
}

// Query returns the last N events in descending order by timestamp.
func (c *Client) Query(ctx context.Context, limit int) ([]events.Event, error) {
	limit = clampLimit(limit)

	query := `
		SELECT ts, level, event, msg, fields
		FROM events
		ORDER BY ts DESC, event_id DESC
		LIMIT $1
	`
	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var e events.Event
		var fieldsJSON []byte
		var msg sql.NullString

		if err := rows.Scan(&e.Timestamp, &e.Level, &e.Name, &msg, &fieldsJSON); err != nil {
			return nil, err
		}
		if msg.Valid {
			e.Message = msg.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Each document table has the same shape, so reads and writes share helpers.

func (c *Client) load(ctx context.Context, table, kind, id string, out any) error {
	var doc []byte
	err := c.db.QueryRowContext(ctx, `SELECT doc FROM `+table+` WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", kind, id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s %q: %w", kind, id, err)
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return fmt.Errorf("decode %s %q: %w", kind, id, err)
	}
	return nil
}

func (c *Client) save(ctx context.Context, table, kind, id string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kind, id, err)
	}
	query := `
		INSERT INTO ` + table + ` (id, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`
	if _, err := c.db.ExecContext(ctx, query, id, doc); err != nil {
		return fmt.Errorf("save %s %q: %w", kind, id, err)
	}
	return nil
}

func (c *Client) Schedule(ctx context.Context, id string) (storage.Schedule, error) {
	var s storage.Schedule
	err := c.load(ctx, "schedules", "schedule", id, &s)
	return s, err
}

func (c *Client) SaveSchedule(ctx context.Context, s storage.Schedule) error {
	return c.save(ctx, "schedules", "schedule", s.ID, s)
}

func (c *Client) TransitionSet(ctx context.Context, id string) (transitions.TransitionSet, error) {
	var set transitions.TransitionSet
	err := c.load(ctx, "transition_sets", "transition set", id, &set)
	return set, err
}

func (c *Client) SaveTransitionSet(ctx context.Context, set transitions.TransitionSet) error {
	return c.save(ctx, "transition_sets", "transition set", set.ID, set)
}

func (c *Client) Activity(ctx context.Context, id string) (timing.Activity, error) {
	var a timing.Activity
	err := c.load(ctx, "activities", "activity", id, &a)
	return a, err
}

func (c *Client) SaveActivity(ctx context.Context, a timing.Activity) error {
	return c.save(ctx, "activities", "activity", a.ID, a)
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

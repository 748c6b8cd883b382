package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"calevents/internal/model"
	"calevents/internal/recur"
)

// timeLayout is second-precision UTC with a fixed width, so lexicographic
// order of stored values matches chronological order and range predicates
// can compare strings directly.
const timeLayout = "2006-01-02T15:04:05Z"

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	location          TEXT NOT NULL DEFAULT '',
	start_at          TEXT NOT NULL,
	end_at            TEXT NOT NULL,
	timezone          TEXT NOT NULL DEFAULT 'UTC',
	recurrence_rule   TEXT NOT NULL DEFAULT '',
	repeat_horizon    TEXT NOT NULL DEFAULT '',
	all_day           INTEGER NOT NULL DEFAULT 0,
	access_level      TEXT NOT NULL DEFAULT 'members',
	visibility        TEXT NOT NULL DEFAULT 'private',
	status            TEXT NOT NULL DEFAULT 'draft',
	resource_required INTEGER NOT NULL DEFAULT 0,
	source_key        TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_events_source_key
	ON events(source_key) WHERE source_key <> '';
CREATE INDEX IF NOT EXISTS idx_events_span ON events(start_at, end_at);

CREATE TABLE IF NOT EXISTS event_participants (
	event_id       TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	participant_id TEXT NOT NULL,
	PRIMARY KEY (event_id, participant_id)
);

CREATE TABLE IF NOT EXISTS event_resources (
	event_id    TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	resource_id TEXT NOT NULL,
	PRIMARY KEY (event_id, resource_id)
);
`

const eventColumns = `id, title, description, location, start_at, end_at,
	timezone, recurrence_rule, all_day, access_level, visibility, status,
	resource_required`

// SQLite is the production Store implementation.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an ephemeral database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreateEvent validates and persists a new event with its assignment rows.
// Not part of the engine-facing Store interface; this is the external write
// path (seeding, admin tooling). Malformed rules and inverted spans are
// rejected here, never stored.
func (s *SQLite) CreateEvent(ctx context.Context, ev model.Event, participantIDs, resourceIDs []string) (string, error) {
	if !ev.End.After(ev.Start) {
		return "", errors.New("store: event end must be after start")
	}

	horizon := ""
	if ev.Recurring() {
		rule, err := recur.ParseRule(ev.RecurrenceRule)
		if err != nil {
			return "", err
		}
		if rule.Until != nil {
			horizon = repeatHorizon(ev, *rule.Until).UTC().Format(timeLayout)
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if err := insertEventTx(ctx, tx, ev, horizon, "", participantIDs, resourceIDs); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (s *SQLite) FetchEventsOverlapping(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.Event, error) {
	start := rangeStart.UTC().Format(timeLayout)
	end := rangeEnd.UTC().Format(timeLayout)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE (recurrence_rule = ''  AND start_at < ? AND end_at > ?)
		   OR (recurrence_rule <> '' AND start_at < ? AND (repeat_horizon = '' OR repeat_horizon >= ?))
		ORDER BY start_at, id`,
		end, start, end, start)
	if err != nil {
		return nil, fmt.Errorf("store: fetch overlapping: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLite) FetchEventByID(ctx context.Context, id string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return ev, err
}

func (s *SQLite) FetchParticipantAssignments(ctx context.Context, eventIDs []string) (map[string][]string, error) {
	return s.fetchAssignments(ctx, "event_participants", "participant_id", eventIDs)
}

func (s *SQLite) FetchResourceAssignments(ctx context.Context, eventIDs []string) (map[string][]string, error) {
	return s.fetchAssignments(ctx, "event_resources", "resource_id", eventIDs)
}

func (s *SQLite) fetchAssignments(ctx context.Context, table, column string, eventIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(eventIDs) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(eventIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, `+column+` FROM `+table+
			` WHERE event_id IN (`+placeholders+`) ORDER BY event_id, `+column,
		args...)
	if err != nil {
		return nil, fmt.Errorf("store: fetch %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var eventID, assigned string
		if err := rows.Scan(&eventID, &assigned); err != nil {
			return nil, err
		}
		out[eventID] = append(out[eventID], assigned)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertStandaloneEvent(ctx context.Context, ev model.Event, sourceKey string, participantIDs, resourceIDs []string) (string, error) {
	if sourceKey == "" {
		return "", errors.New("store: source key is required for standalone inserts")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// A retried materialization re-inserts the same (base, start) key; hand
	// back the row that already exists instead of duplicating history.
	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM events WHERE source_key = ?`, sourceKey).Scan(&existing)
	switch {
	case err == nil:
		return existing, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	ev.ID = uuid.NewString()
	ev.RecurrenceRule = ""

	if err := insertEventTx(ctx, tx, ev, "", sourceKey, participantIDs, resourceIDs); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (s *SQLite) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, ev model.Event, horizon, sourceKey string, participantIDs, resourceIDs []string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (id, title, description, location, start_at, end_at,
			timezone, recurrence_rule, repeat_horizon, all_day, access_level,
			visibility, status, resource_required, source_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Title, ev.Description, ev.Location,
		ev.Start.UTC().Format(timeLayout), ev.End.UTC().Format(timeLayout),
		ev.Timezone, ev.RecurrenceRule, horizon, boolToInt(ev.AllDay),
		string(ev.Access), string(ev.Visibility), string(ev.Status),
		boolToInt(ev.ResourceRequired), sourceKey)
	if err != nil {
		return fmt.Errorf("store: insert event %s: %w", ev.ID, err)
	}

	for _, pid := range participantIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_participants (event_id, participant_id) VALUES (?, ?)`,
			ev.ID, pid); err != nil {
			return fmt.Errorf("store: assign participant %s: %w", pid, err)
		}
	}
	for _, rid := range resourceIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO event_resources (event_id, resource_id) VALUES (?, ?)`,
			ev.ID, rid); err != nil {
			return fmt.Errorf("store: assign resource %s: %w", rid, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (model.Event, error) {
	var (
		ev               model.Event
		startAt, endAt   string
		allDay, required int
		access, vis, st  string
	)
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location,
		&startAt, &endAt, &ev.Timezone, &ev.RecurrenceRule,
		&allDay, &access, &vis, &st, &required)
	if err != nil {
		return model.Event{}, err
	}

	if ev.Start, err = time.Parse(timeLayout, startAt); err != nil {
		return model.Event{}, fmt.Errorf("store: bad start_at for %s: %w", ev.ID, err)
	}
	if ev.End, err = time.Parse(timeLayout, endAt); err != nil {
		return model.Event{}, fmt.Errorf("store: bad end_at for %s: %w", ev.ID, err)
	}

	ev.AllDay = allDay != 0
	ev.ResourceRequired = required != 0
	ev.Access = model.AccessLevel(access)
	ev.Visibility = model.Visibility(vis)
	ev.Status = model.Status(st)
	return ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package store defines the persistence surface the calendar core needs and
// provides a SQLite implementation plus an in-memory one for tests.
package store

import (
	"context"
	"errors"
	"time"

	"calevents/internal/model"
)

// ErrNotFound is returned when an event does not exist. It is a distinct
// result, not a storage failure.
var ErrNotFound = errors.New("store: event not found")

// Store is the narrow query interface the expansion engine, conflict
// detector and series deletion run against. Implementations must treat
// ranges as half-open [start, end).
type Store interface {
	// FetchEventsOverlapping returns every event that could produce an
	// occurrence inside the range: singletons whose stored span intersects
	// it, and recurring series whose start precedes the range end and whose
	// occurrence horizon (when bounded by UNTIL) has not passed the range
	// start.
	FetchEventsOverlapping(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.Event, error)

	// FetchEventByID returns the event or ErrNotFound.
	FetchEventByID(ctx context.Context, id string) (model.Event, error)

	// FetchParticipantAssignments returns participant IDs per event for the
	// given event IDs in one call. Events without assignments are absent
	// from the map.
	FetchParticipantAssignments(ctx context.Context, eventIDs []string) (map[string][]string, error)

	// FetchResourceAssignments is the resource-side twin of
	// FetchParticipantAssignments.
	FetchResourceAssignments(ctx context.Context, eventIDs []string) (map[string][]string, error)

	// InsertStandaloneEvent persists a non-recurring copy of an event
	// together with its participant and resource links, atomically.
	// sourceKey identifies the originating (base event, occurrence start);
	// inserting the same sourceKey twice returns the existing event's ID
	// instead of a duplicate row, so materialization retries are safe.
	InsertStandaloneEvent(ctx context.Context, ev model.Event, sourceKey string, participantIDs, resourceIDs []string) (string, error)

	// DeleteEvent removes an event definition and its assignment rows.
	// Returns ErrNotFound when the event does not exist.
	DeleteEvent(ctx context.Context, id string) error
}

// repeatHorizon is the last instant any occurrence of an UNTIL-bounded
// series can occupy. Until caps occurrence starts, so the final occurrence
// still runs one event duration past it; all-day spans snap to whole days
// and get a day of slack on top.
func repeatHorizon(ev model.Event, until time.Time) time.Time {
	dur := ev.End.Sub(ev.Start)
	if ev.AllDay {
		dur += 24 * time.Hour
	}
	return until.Add(dur)
}

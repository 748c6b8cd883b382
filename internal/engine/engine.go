// Package engine ties the store, recurrence evaluator and occurrence ID
// codec together into the calendar's read and delete surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appLog "calevents/internal/log"
	"calevents/internal/model"
	"calevents/internal/occid"
	"calevents/internal/recur"
	"calevents/internal/store"
)

// Engine exposes occurrence listing, conflict detection and series deletion
// over a Store. The read-side operations are pure computations over one or
// two batched store reads and are safe to run concurrently.
type Engine struct {
	store       store.Store
	maxPerEvent int

	now func() time.Time

	// deleteMu guards deleting; one mutex per series serializes concurrent
	// DeleteSeries calls so two deletes cannot both materialize history.
	// Entries are never removed: the map grows with distinct deleted
	// series, which is bounded and tiny.
	deleteMu sync.Mutex
	deleting map[string]*sync.Mutex
}

// New builds an Engine. maxPerEvent caps expansion per event; <= 0 selects
// the evaluator default.
func New(st store.Store, maxPerEvent int) *Engine {
	return &Engine{
		store:       st,
		maxPerEvent: maxPerEvent,
		now:         time.Now,
		deleting:    make(map[string]*sync.Mutex),
	}
}

// ListOccurrences returns every concrete occurrence intersecting the
// half-open range [rangeStart, rangeEnd), sorted by start and then by base
// event ID. Events whose rule fails to expand are logged and skipped, so the
// calendar degrades instead of going dark.
func (e *Engine) ListOccurrences(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.Occurrence, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, recur.ErrInvalidRange
	}

	events, err := e.store.FetchEventsOverlapping(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	occurrences := make([]model.Occurrence, 0, len(events))
	for _, ev := range events {
		spans, truncated, err := recur.Expand(ev, rangeStart, rangeEnd, e.maxPerEvent)
		if err != nil {
			appLog.Error("engine: expansion failed, skipping event", err, "event_id", ev.ID)
			continue
		}
		if truncated {
			appLog.Error("engine: occurrence cap hit, series truncated",
				errors.New("max occurrences reached"),
				"event_id", ev.ID, "cap", e.maxPerEvent)
		}

		for _, span := range spans {
			occ := occurrenceOf(ev, span)
			if seen[occ.ID] {
				continue
			}
			seen[occ.ID] = true
			occurrences = append(occurrences, occ)
		}
	}

	sort.SliceStable(occurrences, func(i, j int) bool {
		if !occurrences[i].Start.Equal(occurrences[j].Start) {
			return occurrences[i].Start.Before(occurrences[j].Start)
		}
		return occurrences[i].BaseID < occurrences[j].BaseID
	})
	return occurrences, nil
}

// ListPublicOccurrences is ListOccurrences restricted to events that are
// public, publicly visible and published. Feeds build on this.
func (e *Engine) ListPublicOccurrences(ctx context.Context, rangeStart, rangeEnd time.Time) ([]model.Occurrence, error) {
	occurrences, err := e.ListOccurrences(ctx, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	public := occurrences[:0]
	for _, occ := range occurrences {
		if occ.Access == model.AccessPublic &&
			occ.Visibility == model.VisibilityPublic &&
			occ.Status == model.StatusPublished {
			public = append(public, occ)
		}
	}
	return public, nil
}

// FindConflicts returns one Conflict for every occurrence that overlaps the
// candidate window and shares at least one of participantIDs. A recurring
// series can contribute several conflicts over a wide window.
// excludeBaseEventID skips the event being edited when re-checking it
// against itself; pass "" to skip nothing.
//
// The result is advisory: a second writer can still commit between this
// check and the caller's own write.
func (e *Engine) FindConflicts(ctx context.Context, candidateStart, candidateEnd time.Time, participantIDs []string, excludeBaseEventID string) ([]model.Conflict, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}
	if !candidateEnd.After(candidateStart) {
		return nil, recur.ErrInvalidRange
	}

	occurrences, err := e.ListOccurrences(ctx, candidateStart, candidateEnd)
	if err != nil {
		return nil, err
	}

	baseIDs := make([]string, 0, len(occurrences))
	distinct := make(map[string]bool)
	for _, occ := range occurrences {
		if occ.BaseID == excludeBaseEventID || distinct[occ.BaseID] {
			continue
		}
		distinct[occ.BaseID] = true
		baseIDs = append(baseIDs, occ.BaseID)
	}
	if len(baseIDs) == 0 {
		return nil, nil
	}

	assignments, err := e.store.FetchParticipantAssignments(ctx, baseIDs)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(participantIDs))
	for _, pid := range participantIDs {
		wanted[pid] = true
	}

	conflicts := make([]model.Conflict, 0)
	for _, occ := range occurrences {
		if occ.BaseID == excludeBaseEventID {
			continue
		}
		if !sharesParticipant(assignments[occ.BaseID], wanted) {
			continue
		}
		// Half-open intervals: back-to-back meetings do not conflict.
		if occ.Start.Before(candidateEnd) && candidateStart.Before(occ.End) {
			conflicts = append(conflicts, model.Conflict{
				EventID: occ.BaseID,
				Title:   occ.Title,
				Start:   occ.Start,
				End:     occ.End,
			})
		}
	}
	return conflicts, nil
}

// DeleteSeries removes an event. For recurring series every fully elapsed
// occurrence is first persisted as a standalone event so calendar history
// survives; only then is the series definition removed. An occurrence still
// in progress at delete time is not materialized, it simply ceases to exist.
//
// Materialization is all-or-nothing before the delete: any insert failure
// aborts with the storage error and leaves the series intact, so the call is
// safely retryable (inserts are keyed by base ID + occurrence start).
func (e *Engine) DeleteSeries(ctx context.Context, eventID string) error {
	lock := e.seriesLock(eventID)
	lock.Lock()
	defer lock.Unlock()

	ev, err := e.store.FetchEventByID(ctx, eventID)
	if err != nil {
		return err
	}

	if !ev.Recurring() {
		return e.store.DeleteEvent(ctx, ev.ID)
	}

	now := e.now()
	if now.After(ev.Start) {
		if err := e.materializeHistory(ctx, ev, now); err != nil {
			return err
		}
	}

	appLog.Info("engine: deleting series", "event_id", ev.ID)
	return e.store.DeleteEvent(ctx, ev.ID)
}

func (e *Engine) materializeHistory(ctx context.Context, ev model.Event, now time.Time) error {
	spans, truncated, err := recur.Expand(ev, ev.Start, now, e.maxPerEvent)
	if err != nil {
		return fmt.Errorf("expand history of %s: %w", ev.ID, err)
	}
	if truncated {
		return fmt.Errorf("series %s has too many past occurrences to materialize", ev.ID)
	}

	past := spans[:0]
	for _, span := range spans {
		if !span.End.After(now) {
			past = append(past, span)
		}
	}
	if len(past) == 0 {
		return nil
	}

	participants, err := e.store.FetchParticipantAssignments(ctx, []string{ev.ID})
	if err != nil {
		return err
	}
	resources, err := e.store.FetchResourceAssignments(ctx, []string{ev.ID})
	if err != nil {
		return err
	}

	for _, span := range past {
		cp := ev
		cp.ID = ""
		cp.RecurrenceRule = ""
		cp.Start = span.Start
		cp.End = span.End

		key := occid.Encode(ev.ID, span.Start)
		if _, err := e.store.InsertStandaloneEvent(ctx, cp, key, participants[ev.ID], resources[ev.ID]); err != nil {
			appLog.Error("engine: history materialization failed, series kept", err,
				"event_id", ev.ID, "occurrence_start", span.Start.Format(time.RFC3339))
			return err
		}
	}

	appLog.Info("engine: materialized series history", "event_id", ev.ID, "occurrences", len(past))
	return nil
}

// ResolveBaseEventID maps any occurrence ID, real or synthetic, to the
// underlying event ID. Edit and delete actions on a displayed occurrence
// route through this.
func (e *Engine) ResolveBaseEventID(occurrenceID string) (string, error) {
	return occid.BaseID(occurrenceID)
}

// ResolveBaseEvent resolves an occurrence ID and loads its base event.
func (e *Engine) ResolveBaseEvent(ctx context.Context, occurrenceID string) (model.Event, error) {
	baseID, err := occid.BaseID(occurrenceID)
	if err != nil {
		return model.Event{}, err
	}
	return e.store.FetchEventByID(ctx, baseID)
}

func (e *Engine) seriesLock(eventID string) *sync.Mutex {
	e.deleteMu.Lock()
	defer e.deleteMu.Unlock()

	lock, ok := e.deleting[eventID]
	if !ok {
		lock = &sync.Mutex{}
		e.deleting[eventID] = lock
	}
	return lock
}

// occurrenceOf projects an event onto one expanded span. The first instance
// of a series (and any singleton) keeps the event's own ID; later instances
// get a synthetic one.
func occurrenceOf(ev model.Event, span model.Span) model.Occurrence {
	id := ev.ID
	if !span.Start.Equal(ev.Start) {
		id = occid.Encode(ev.ID, span.Start)
	}
	return model.Occurrence{
		ID:          id,
		BaseID:      ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Start:       span.Start,
		End:         span.End,
		Access:      ev.Access,
		Visibility:  ev.Visibility,
		Status:      ev.Status,
	}
}

func sharesParticipant(assigned []string, wanted map[string]bool) bool {
	for _, pid := range assigned {
		if wanted[pid] {
			return true
		}
	}
	return false
}

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"calevents/internal/model"
)

func utc(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func baseEvent(title string, start, end time.Time, rule string) model.Event {
	return model.Event{
		Title:          title,
		Start:          start,
		End:            end,
		Timezone:       "UTC",
		RecurrenceRule: rule,
		Access:         model.AccessMembers,
		Visibility:     model.VisibilityPrivate,
		Status:         model.StatusPublished,
	}
}

// writableStore is what the tests need: the engine-facing Store plus the
// external create path both implementations share.
type writableStore interface {
	Store
	CreateEvent(ctx context.Context, ev model.Event, participantIDs, resourceIDs []string) (string, error)
}

// openStores returns one of each Store implementation so every subtest runs
// against both.
func openStores(t *testing.T) map[string]writableStore {
	t.Helper()

	sq, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sq.Close() })

	return map[string]writableStore{
		"sqlite": sq,
		"memory": NewMemory(),
	}
}

func TestFetchEventsOverlapping(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			inRange, err := st.CreateEvent(ctx, baseEvent("in range",
				utc(2024, 1, 10, 9, 0), utc(2024, 1, 10, 10, 0), ""), nil, nil)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := st.CreateEvent(ctx, baseEvent("before range",
				utc(2023, 12, 1, 9, 0), utc(2023, 12, 1, 10, 0), ""), nil, nil); err != nil {
				t.Fatalf("create: %v", err)
			}
			openSeries, err := st.CreateEvent(ctx, baseEvent("old open series",
				utc(2023, 1, 2, 9, 0), utc(2023, 1, 2, 10, 0), "FREQ=WEEKLY"), nil, nil)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := st.CreateEvent(ctx, baseEvent("expired series",
				utc(2023, 1, 2, 9, 0), utc(2023, 1, 2, 10, 0), "FREQ=WEEKLY;UNTIL=20230301T000000Z"), nil, nil); err != nil {
				t.Fatalf("create: %v", err)
			}

			events, err := st.FetchEventsOverlapping(ctx, utc(2024, 1, 1, 0, 0), utc(2024, 2, 1, 0, 0))
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}

			got := make(map[string]bool, len(events))
			for _, ev := range events {
				got[ev.ID] = true
			}
			if !got[inRange] {
				t.Fatalf("overlapping singleton missing")
			}
			if !got[openSeries] {
				t.Fatalf("open-ended series missing")
			}
			if len(events) != 2 {
				t.Fatalf("expected 2 events, got %d", len(events))
			}
		})
	}
}

func TestFetchEventsOverlappingKeepsStraddlingFinalOccurrence(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			// Final occurrence runs 01-08 09:00 through 10:00. UNTIL caps
			// starts, not ends, so a window opening mid-occurrence must still
			// see the series.
			id, err := st.CreateEvent(ctx, baseEvent("bounded series",
				utc(2024, 1, 1, 9, 0), utc(2024, 1, 1, 10, 0),
				"FREQ=WEEKLY;UNTIL=20240108T090000Z"), nil, nil)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			events, err := st.FetchEventsOverlapping(ctx, utc(2024, 1, 8, 9, 30), utc(2024, 1, 8, 12, 0))
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(events) != 1 || events[0].ID != id {
				t.Fatalf("straddling final occurrence lost: %+v", events)
			}

			// Past the final occurrence's end the series drops out.
			events, err = st.FetchEventsOverlapping(ctx, utc(2024, 1, 8, 11, 0), utc(2024, 1, 8, 12, 0))
			if err != nil {
				t.Fatalf("fetch: %v", err)
			}
			if len(events) != 0 {
				t.Fatalf("finished series still returned: %+v", events)
			}
		})
	}
}

func TestFetchEventByIDNotFound(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := st.FetchEventByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestCreateEventRejectsMalformed(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			bad := baseEvent("inverted", utc(2024, 1, 10, 10, 0), utc(2024, 1, 10, 9, 0), "")
			if _, err := st.CreateEvent(ctx, bad, nil, nil); err == nil {
				t.Fatalf("inverted span accepted")
			}

			badRule := baseEvent("bad rule", utc(2024, 1, 10, 9, 0), utc(2024, 1, 10, 10, 0), "FREQ=NOPE")
			if _, err := st.CreateEvent(ctx, badRule, nil, nil); err == nil {
				t.Fatalf("malformed rule accepted")
			}
		})
	}
}

func TestAssignmentsBatchFetch(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			a, err := st.CreateEvent(ctx, baseEvent("a",
				utc(2024, 1, 10, 9, 0), utc(2024, 1, 10, 10, 0), ""),
				[]string{"p1", "p2"}, []string{"room1"})
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			b, err := st.CreateEvent(ctx, baseEvent("b",
				utc(2024, 1, 11, 9, 0), utc(2024, 1, 11, 10, 0), ""),
				[]string{"p2"}, nil)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			parts, err := st.FetchParticipantAssignments(ctx, []string{a, b, "missing"})
			if err != nil {
				t.Fatalf("fetch participants: %v", err)
			}
			if len(parts[a]) != 2 || len(parts[b]) != 1 {
				t.Fatalf("participant map mismatch: %+v", parts)
			}
			if _, ok := parts["missing"]; ok {
				t.Fatalf("missing event should be absent from map")
			}

			res, err := st.FetchResourceAssignments(ctx, []string{a, b})
			if err != nil {
				t.Fatalf("fetch resources: %v", err)
			}
			if len(res[a]) != 1 || len(res[b]) != 0 {
				t.Fatalf("resource map mismatch: %+v", res)
			}
		})
	}
}

func TestInsertStandaloneEventIdempotent(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			copyEv := baseEvent("materialized", utc(2024, 1, 8, 9, 0), utc(2024, 1, 8, 10, 0), "")

			first, err := st.InsertStandaloneEvent(ctx, copyEv, "base1@20240108T090000Z", []string{"p1"}, nil)
			if err != nil {
				t.Fatalf("insert: %v", err)
			}
			second, err := st.InsertStandaloneEvent(ctx, copyEv, "base1@20240108T090000Z", []string{"p1"}, nil)
			if err != nil {
				t.Fatalf("re-insert: %v", err)
			}
			if first != second {
				t.Fatalf("same source key produced two events: %s vs %s", first, second)
			}

			if _, err := st.InsertStandaloneEvent(ctx, copyEv, "", nil, nil); err == nil {
				t.Fatalf("empty source key accepted")
			}
		})
	}
}

func TestDeleteEvent(t *testing.T) {
	for name, st := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := st.CreateEvent(ctx, baseEvent("doomed",
				utc(2024, 1, 10, 9, 0), utc(2024, 1, 10, 10, 0), ""), []string{"p1"}, nil)
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			if err := st.DeleteEvent(ctx, id); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := st.FetchEventByID(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := st.DeleteEvent(ctx, id); !errors.Is(err, ErrNotFound) {
				t.Fatalf("double delete: expected ErrNotFound, got %v", err)
			}
		})
	}
}

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"calevents/internal/model"
	"calevents/internal/recur"
)

// Memory is an in-memory Store with the same semantics as SQLite, used by
// tests and by engine/web tests that need failure injection.
type Memory struct {
	mu sync.RWMutex

	events        map[string]model.Event
	repeatHorizon map[string]time.Time // last occupied instant; absent = open-ended
	participants  map[string][]string
	resources     map[string][]string
	bySourceKey   map[string]string

	// InsertErr, when set, makes InsertStandaloneEvent fail with it. Lets
	// tests exercise the materialization abort path.
	InsertErr error

	// DeleteErr, when set, makes DeleteEvent fail with it.
	DeleteErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]model.Event),
		repeatHorizon: make(map[string]time.Time),
		participants:  make(map[string][]string),
		resources:     make(map[string][]string),
		bySourceKey:   make(map[string]string),
	}
}

// CreateEvent mirrors SQLite.CreateEvent: validate, assign an ID, store the
// event with its assignment rows.
func (m *Memory) CreateEvent(_ context.Context, ev model.Event, participantIDs, resourceIDs []string) (string, error) {
	if !ev.End.After(ev.Start) {
		return "", errors.New("store: event end must be after start")
	}

	var horizon time.Time
	if ev.Recurring() {
		rule, err := recur.ParseRule(ev.RecurrenceRule)
		if err != nil {
			return "", err
		}
		if rule.Until != nil {
			horizon = repeatHorizon(ev, *rule.Until)
		}
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[ev.ID] = ev
	if !horizon.IsZero() {
		m.repeatHorizon[ev.ID] = horizon
	}
	m.participants[ev.ID] = append([]string(nil), participantIDs...)
	m.resources[ev.ID] = append([]string(nil), resourceIDs...)
	return ev.ID, nil
}

func (m *Memory) FetchEventsOverlapping(_ context.Context, rangeStart, rangeEnd time.Time) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Event, 0)
	for id, ev := range m.events {
		if ev.Recurring() {
			if !ev.Start.Before(rangeEnd) {
				continue
			}
			if horizon, ok := m.repeatHorizon[id]; ok && horizon.Before(rangeStart) {
				continue
			}
			out = append(out, ev)
			continue
		}
		if ev.Start.Before(rangeEnd) && ev.End.After(rangeStart) {
			out = append(out, ev)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) FetchEventByID(_ context.Context, id string) (model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[id]
	if !ok {
		return model.Event{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) FetchParticipantAssignments(_ context.Context, eventIDs []string) (map[string][]string, error) {
	return m.fetchAssignments(m.participants, eventIDs), nil
}

func (m *Memory) FetchResourceAssignments(_ context.Context, eventIDs []string) (map[string][]string, error) {
	return m.fetchAssignments(m.resources, eventIDs), nil
}

func (m *Memory) fetchAssignments(src map[string][]string, eventIDs []string) map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]string)
	for _, id := range eventIDs {
		if assigned, ok := src[id]; ok && len(assigned) > 0 {
			out[id] = append([]string(nil), assigned...)
		}
	}
	return out
}

func (m *Memory) InsertStandaloneEvent(_ context.Context, ev model.Event, sourceKey string, participantIDs, resourceIDs []string) (string, error) {
	if sourceKey == "" {
		return "", errors.New("store: source key is required for standalone inserts")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return "", m.InsertErr
	}

	if existing, ok := m.bySourceKey[sourceKey]; ok {
		return existing, nil
	}

	ev.ID = uuid.NewString()
	ev.RecurrenceRule = ""

	m.events[ev.ID] = ev
	m.bySourceKey[sourceKey] = ev.ID
	m.participants[ev.ID] = append([]string(nil), participantIDs...)
	m.resources[ev.ID] = append([]string(nil), resourceIDs...)
	return ev.ID, nil
}

func (m *Memory) DeleteEvent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}

	if _, ok := m.events[id]; !ok {
		return ErrNotFound
	}
	delete(m.events, id)
	delete(m.repeatHorizon, id)
	delete(m.participants, id)
	delete(m.resources, id)
	return nil
}

// Put stores an event verbatim, bypassing CreateEvent validation. Test
// seam for corrupt-data scenarios.
func (m *Memory) Put(ev model.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
}

// Len reports how many events are stored. Test helper.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

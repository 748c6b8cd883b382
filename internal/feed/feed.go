// Package feed renders occurrence lists as an iCalendar feed. Only the
// public surface goes through here; filtering happens upstream in the
// engine.
package feed

import (
	"time"

	ics "github.com/arran4/golang-ical"

	"calevents/internal/model"
)

// Build emits a VCALENDAR with one VEVENT per occurrence. Occurrence IDs
// double as UIDs: stable across rebuilds, since synthetic IDs are a pure
// function of (base event, start).
func Build(name string, occurrences []model.Occurrence, now time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//calevents//feed//EN")
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	for _, occ := range occurrences {
		ev := cal.AddEvent(occ.ID)
		ev.SetDtStampTime(now.UTC())
		ev.SetSummary(occ.Title)
		if occ.Description != "" {
			ev.SetDescription(occ.Description)
		}
		if occ.Location != "" {
			ev.SetLocation(occ.Location)
		}

		if occ.AllDay {
			ev.SetAllDayStartAt(occ.Start)
			ev.SetAllDayEndAt(occ.End)
			continue
		}
		ev.SetStartAt(occ.Start.UTC())
		ev.SetEndAt(occ.End.UTC())
	}

	return cal
}

// Serialize renders the feed to its wire form.
func Serialize(name string, occurrences []model.Occurrence, now time.Time) string {
	return Build(name, occurrences, now).Serialize()
}

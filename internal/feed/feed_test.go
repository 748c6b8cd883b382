package feed

import (
	"strings"
	"testing"
	"time"

	"calevents/internal/model"
)

func TestSerialize(t *testing.T) {
	start := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{
			ID:       "ev1",
			BaseID:   "ev1",
			Title:    "Open day",
			Location: "Main hall",
			Start:    start,
			End:      start.Add(time.Hour),
		},
		{
			ID:     "ev1@20240115T090000Z",
			BaseID: "ev1",
			Title:  "Open day",
			Start:  start.AddDate(0, 0, 7),
			End:    start.AddDate(0, 0, 7).Add(time.Hour),
		},
	}

	out := Serialize("Public events", occs, start)

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"METHOD:PUBLISH",
		"UID:ev1",
		"UID:ev1@20240115T090000Z",
		"SUMMARY:Open day",
		"LOCATION:Main hall",
		"DTSTART:20240108T090000Z",
		"DTSTART:20240115T090000Z",
		"END:VCALENDAR",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("serialized feed missing %q:\n%s", want, out)
		}
	}

	if got := strings.Count(out, "BEGIN:VEVENT"); got != 2 {
		t.Fatalf("expected 2 VEVENTs, got %d", got)
	}
}

func TestSerializeAllDay(t *testing.T) {
	day := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	occs := []model.Occurrence{
		{
			ID:     "holiday",
			BaseID: "holiday",
			Title:  "Holiday",
			AllDay: true,
			Start:  day,
			End:    day.AddDate(0, 0, 1),
		},
	}

	out := Serialize("", occs, day)

	if !strings.Contains(out, "DTSTART;VALUE=DATE:20240108") {
		t.Fatalf("all-day DTSTART missing:\n%s", out)
	}
}

func TestSerializeEmpty(t *testing.T) {
	out := Serialize("Empty", nil, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !strings.Contains(out, "BEGIN:VCALENDAR") || strings.Contains(out, "BEGIN:VEVENT") {
		t.Fatalf("empty feed malformed:\n%s", out)
	}
}

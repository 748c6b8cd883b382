package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calevents/internal/log"
	"calevents/internal/model"
)

const defaultMaxOccurrences = 5000

// ErrInvalidRange marks a query range whose end is not after its start.
var ErrInvalidRange = errors.New("recur: range end must be after range start")

var rruleFreqs = map[model.Frequency]rrule.Frequency{
	model.FreqDaily:   rrule.DAILY,
	model.FreqWeekly:  rrule.WEEKLY,
	model.FreqMonthly: rrule.MONTHLY,
	model.FreqYearly:  rrule.YEARLY,
}

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
	time.Sunday:    rrule.SU,
}

// Expand produces every concrete (start, end) pair of ev that intersects the
// half-open range [rangeStart, rangeEnd). It is a pure function of its
// inputs.
//
//   - Singletons yield their stored span, or nothing.
//   - Recurring events step from the series start in the event's timezone,
//     carrying the fixed (end - start) duration onto every start. Instances
//     before rangeStart are clipped at the range, not walked from the series
//     origin, so open-ended series stay cheap.
//   - Monthly/yearly steps landing on a nonexistent date (the 31st of a
//     30-day month) are skipped for that cycle, never rolled forward.
//
// The second result reports whether maxOccurrences (default 5000) truncated
// the expansion.
func Expand(ev model.Event, rangeStart, rangeEnd time.Time, maxOccurrences int) ([]model.Span, bool, error) {
	if !rangeEnd.After(rangeStart) {
		return nil, false, ErrInvalidRange
	}
	if !ev.End.After(ev.Start) {
		return nil, false, fmt.Errorf("event %s: end not after start", ev.ID)
	}
	if maxOccurrences <= 0 {
		maxOccurrences = defaultMaxOccurrences
	}

	if !ev.Recurring() {
		if spanOverlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
			return []model.Span{occurrenceSpan(ev, ev.Start)}, false, nil
		}
		return nil, false, nil
	}

	rule, err := ParseRule(ev.RecurrenceRule)
	if err != nil {
		return nil, false, err
	}

	loc := eventLocation(ev)
	dur := ev.End.Sub(ev.Start)

	r, err := compile(rule, ev.Start.In(loc))
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrBadRule, err)
	}

	// Between is inclusive on both ends; widen the left edge by one duration
	// so an occurrence straddling rangeStart is still found, then filter
	// against the half-open window.
	from := rangeStart.Add(-dur).In(loc)
	through := rangeEnd.In(loc)

	spans := make([]model.Span, 0)
	truncated := false
	for _, start := range r.Between(from, through, true) {
		// Until is exclusive; a start at or past it is outside the series.
		if rule.Until != nil && !start.Before(*rule.Until) {
			break
		}
		end := start.Add(dur)
		if !start.Before(rangeEnd) || !end.After(rangeStart) {
			continue
		}
		if len(spans) >= maxOccurrences {
			truncated = true
			break
		}
		spans = append(spans, occurrenceSpan(ev, start))
	}

	return spans, truncated, nil
}

func compile(rule model.Rule, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     rruleFreqs[rule.Freq],
		Interval: rule.Interval,
		Dtstart:  dtstart,
	}
	if rule.Count > 0 {
		opt.Count = rule.Count
	}
	if rule.Until != nil {
		// rrule treats Until inclusively; the exact exclusive cut happens in
		// the expansion loop.
		opt.Until = rule.Until.In(dtstart.Location())
	}
	for _, wd := range rule.ByDay {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
	}
	return rrule.NewRRule(opt)
}

// occurrenceSpan builds the span for one occurrence start. All-day events
// cover whole local days; timed events carry the stored duration.
func occurrenceSpan(ev model.Event, start time.Time) model.Span {
	if ev.AllDay {
		day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		return model.Span{Start: day, End: day.AddDate(0, 0, 1)}
	}
	return model.Span{Start: start, End: start.Add(ev.End.Sub(ev.Start))}
}

// eventLocation resolves the event's IANA zone, falling back to UTC when the
// stored name does not load.
func eventLocation(ev model.Event) *time.Location {
	if ev.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(ev.Timezone)
	if err != nil {
		appLog.Error("recur: unknown event timezone, using UTC", err, "event_id", ev.ID, "timezone", ev.Timezone)
		return time.UTC
	}
	return loc
}

func spanOverlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

package recur

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"calevents/internal/model"
)

// ErrBadRule marks an unparseable or inconsistent recurrence rule. The raw
// text is rejected at this boundary; nothing downstream ever re-parses it.
var ErrBadRule = errors.New("recur: invalid recurrence rule")

const untilLayout = "20060102T150405Z"

var weekdayNames = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// ParseRule parses RFC-5545-like rule text ("FREQ=WEEKLY;INTERVAL=2;COUNT=10;
// BYDAY=MO,WE") into a model.Rule. FREQ is required; INTERVAL defaults to 1;
// COUNT and UNTIL are mutually exclusive; UNTIL is a UTC timestamp
// (20060102T150405Z) or a bare date (20060102) and covers occurrence starts
// through the second or day it names.
func ParseRule(text string) (model.Rule, error) {
	rule := model.Rule{Interval: 1}

	text = strings.TrimSpace(text)
	if text == "" {
		return rule, fmt.Errorf("%w: empty rule", ErrBadRule)
	}

	for _, part := range strings.Split(text, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok || value == "" {
			return rule, fmt.Errorf("%w: malformed component %q", ErrBadRule, part)
		}

		switch strings.ToUpper(key) {
		case "FREQ":
			switch model.Frequency(strings.ToUpper(value)) {
			case model.FreqDaily, model.FreqWeekly, model.FreqMonthly, model.FreqYearly:
				rule.Freq = model.Frequency(strings.ToUpper(value))
			default:
				return rule, fmt.Errorf("%w: unsupported frequency %q", ErrBadRule, value)
			}

		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return rule, fmt.Errorf("%w: bad interval %q", ErrBadRule, value)
			}
			rule.Interval = n

		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return rule, fmt.Errorf("%w: bad count %q", ErrBadRule, value)
			}
			rule.Count = n

		case "UNTIL":
			t, err := parseUntil(value)
			if err != nil {
				return rule, fmt.Errorf("%w: bad until %q", ErrBadRule, value)
			}
			rule.Until = &t

		case "BYDAY":
			for _, name := range strings.Split(value, ",") {
				wd, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
				if !ok {
					return rule, fmt.Errorf("%w: bad weekday %q", ErrBadRule, name)
				}
				rule.ByDay = append(rule.ByDay, wd)
			}

		default:
			return rule, fmt.Errorf("%w: unknown component %q", ErrBadRule, key)
		}
	}

	if rule.Freq == "" {
		return rule, fmt.Errorf("%w: missing FREQ", ErrBadRule)
	}
	if rule.Count > 0 && rule.Until != nil {
		return rule, fmt.Errorf("%w: COUNT and UNTIL are mutually exclusive", ErrBadRule)
	}
	if len(rule.ByDay) > 0 && rule.Freq != model.FreqWeekly {
		return rule, fmt.Errorf("%w: BYDAY only applies to WEEKLY rules", ErrBadRule)
	}

	return rule, nil
}

// parseUntil converts an UNTIL value into the exclusive instant the series
// must stay before. A timestamp covers starts through that second; a bare
// date covers the whole day.
func parseUntil(value string) (time.Time, error) {
	if t, err := time.Parse(untilLayout, value); err == nil {
		return t.Add(time.Second), nil
	}
	t, err := time.Parse("20060102", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(24 * time.Hour), nil
}

package model

import "time"

// AccessLevel classifies who may see an event at all.
type AccessLevel string

const (
	AccessPublic  AccessLevel = "public"
	AccessMembers AccessLevel = "members"
	AccessMag     AccessLevel = "mag"
)

// Visibility controls listing behavior within an access level.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
	VisibilityHidden  Visibility = "hidden"
)

// Status is the publication lifecycle state of an event.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusCancelled Status = "cancelled"
)

// Frequency is the repetition unit of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "DAILY"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

// Rule is the parsed form of an event's textual recurrence rule. It is built
// once at the boundary (recur.ParseRule); everything downstream operates on
// this struct, never on the raw string.
type Rule struct {
	Freq     Frequency
	Interval int // step between occurrences in Freq units, >= 1

	// At most one of Count/Until is set. Count == 0 and Until == nil means
	// the series is open-ended. Until is exclusive: every occurrence starts
	// strictly before it.
	Count int
	Until *time.Time

	// ByDay restricts WEEKLY rules to the given weekdays. Empty means the
	// weekday of the series start.
	ByDay []time.Weekday
}

// Bounded reports whether the rule has a hard stop.
func (r Rule) Bounded() bool {
	return r.Count > 0 || r.Until != nil
}

// Event is a stored calendar event: either a singleton or the head of a
// recurring series. Start/End define the duration of every occurrence the
// series generates.
type Event struct {
	ID    string
	Title string

	Description string
	Location    string

	// Start / End are absolute instants. Timezone names the IANA zone that
	// governs wall-clock repetition for recurring events.
	Start    time.Time
	End      time.Time
	Timezone string

	// RecurrenceRule is the raw rule text ("" for singletons), e.g.
	// "FREQ=WEEKLY;INTERVAL=2;COUNT=10".
	RecurrenceRule string

	AllDay bool

	Access     AccessLevel
	Visibility Visibility
	Status     Status

	// ResourceRequired marks events that must have a room/equipment
	// assignment before publishing. Informational for this core.
	ResourceRequired bool
}

// Recurring reports whether the event is the head of a series.
func (e Event) Recurring() bool {
	return e.RecurrenceRule != ""
}

// PubliclyListed reports whether the event qualifies for the public feed.
func (e Event) PubliclyListed() bool {
	return e.Access == AccessPublic && e.Visibility == VisibilityPublic && e.Status == StatusPublished
}

// Span is one concrete start/end pair produced by recurrence expansion.
type Span struct {
	Start time.Time
	End   time.Time
}

// Occurrence is a single displayable instance of an event. For recurring
// events it is derived, not stored; ID is either the base event ID (first
// instance, or singleton) or a synthetic ID from occid.Encode.
type Occurrence struct {
	ID     string
	BaseID string

	Title       string
	Description string
	Location    string

	AllDay bool

	Start time.Time
	End   time.Time

	Access     AccessLevel
	Visibility Visibility
	Status     Status
}

// Conflict reports one occurrence that overlaps a candidate window and shares
// at least one participant with it. EventID is the real (base) event ID.
type Conflict struct {
	EventID string
	Title   string
	Start   time.Time
	End     time.Time
}

// Package occid derives stable synthetic IDs for virtual occurrences of
// recurring events, and recovers the base event ID from any occurrence ID.
//
// A synthetic ID is the escaped base event ID, a "@" delimiter, and the
// occurrence start in UTC with second precision:
//
//	a1b2c3@20240115T090000Z
//
// "%" and "@" in the base ID are percent-escaped before joining, so no base
// ID can produce a delimiter collision. Encoding the same (base ID, start)
// always yields the same ID, which is what makes retried history inserts
// idempotent (store keys materialized rows by this value).
package occid

import (
	"errors"
	"strings"
	"time"
)

const (
	delimiter = "@"

	// startLayout is the canonical timestamp form, always UTC.
	startLayout = "20060102T150405Z"
)

// ErrMalformedID is returned when an ID carries the delimiter but its
// timestamp part does not parse. Decoding fails closed in that case instead
// of guessing a truncated base ID.
var ErrMalformedID = errors.New("occid: malformed occurrence id")

var (
	escaper   = strings.NewReplacer("%", "%25", delimiter, "%40")
	unescaper = strings.NewReplacer("%40", delimiter, "%25", "%")
)

// Encode builds the synthetic occurrence ID for (baseID, start).
func Encode(baseID string, start time.Time) string {
	return escaper.Replace(baseID) + delimiter + start.UTC().Format(startLayout)
}

// Decode splits an occurrence ID into its base event ID and, for synthetic
// IDs, the occurrence start. Plain base IDs (no delimiter) decode to
// themselves with virtual == false.
func Decode(id string) (baseID string, start time.Time, virtual bool, err error) {
	i := strings.LastIndex(id, delimiter)
	if i < 0 {
		return id, time.Time{}, false, nil
	}

	t, perr := time.Parse(startLayout, id[i+1:])
	if perr != nil {
		return "", time.Time{}, false, ErrMalformedID
	}

	return unescaper.Replace(id[:i]), t, true, nil
}

// BaseID returns just the base event ID behind an occurrence ID, real or
// synthetic.
func BaseID(id string) (string, error) {
	base, _, _, err := Decode(id)
	return base, err
}

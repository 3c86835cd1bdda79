package monitor

import (
	"time"
)

const dateLayout = "2006-01-02"

// ResetTracker decides when the daily state reset is due. It fires for the first
// observation at the configured local hour on each calendar date and never twice for
// the same date.
type ResetTracker struct {
	hour int
	loc  *time.Location
	last string
}

// NewResetTracker returns a tracker for hour in loc. A nil loc means UTC.
func NewResetTracker(hour int, loc *time.Location) *ResetTracker {
	if loc == nil {
		loc = time.UTC
	}
	return &ResetTracker{hour: hour, loc: loc}
}

// Due reports whether a reset should run at now and, if so, marks now's date as done.
func (r *ResetTracker) Due(now time.Time) bool {
	local := now.In(r.loc)
	if local.Hour() != r.hour {
		return false
	}
	date := local.Format(dateLayout)
	if date == r.last {
		return false
	}
	r.last = date
	return true
}

// LastDate returns the local date of the last reset, or "" if none ran yet.
func (r *ResetTracker) LastDate() string { return r.last }

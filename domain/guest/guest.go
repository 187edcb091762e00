// Package guest provides the per-IP daily allowance for anonymous callers.
// This package has NO dependencies on I/O.
package guest

import (
	"fmt"
	"time"
)

// DefaultDailyLimit is the anonymous allowance per client per UTC day.
const DefaultDailyLimit = 25

// Record is the usage of one anonymous client (value type).
type Record struct {
	Count int
	Day   string // UTC day bucket, see DayBucket
}

// Result is the outcome of a guest admission (value type).
type Result struct {
	Allowed   bool
	Count     int // requests counted today, including this one when allowed
	Limit     int
	Remaining int
	Day       string // bucket the request was counted in
	ResetAt   time.Time
}

// DayBucket returns the UTC calendar day containing t.
// This is a PURE function.
func DayBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// NextDay returns midnight UTC after t.
// This is a PURE function.
func NextDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}

// Admit counts one request when the client is below the daily limit.
// A record from an earlier day starts over at zero.
// This is a PURE function.
func Admit(rec Record, limit int, now time.Time) (Result, Record) {
	day := DayBucket(now)
	if rec.Day != day {
		rec = Record{Day: day}
	}

	res := Result{Limit: limit, Day: day, ResetAt: NextDay(now)}
	if rec.Count >= limit {
		res.Count = rec.Count
		return res, rec
	}

	rec.Count++
	res.Allowed = true
	res.Count = rec.Count
	res.Remaining = limit - rec.Count
	return res, rec
}

// Release gives back one request counted in day, for a request that was
// admitted but then failed. Records from another day are left as they are.
// This is a PURE function.
func Release(rec Record, day string) Record {
	if rec.Day != day || rec.Count == 0 {
		return rec
	}
	rec.Count--
	return rec
}

// LimitError is returned when an anonymous client has used today's allowance.
type LimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("guest limit of %d requests per day reached", e.Limit)
}

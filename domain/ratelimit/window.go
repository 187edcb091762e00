// Package ratelimit provides pure rate-limit annotation over fixed windows.
// All functions are deterministic - same input always produces same output.
// Annotation is advisory: nothing here ever denies a request.
package ratelimit

import (
	"math"
	"strconv"
	"time"
)

// DefaultWindow is the annotation window for a requests-per-second budget.
const DefaultWindow = time.Second

// WindowState represents the current state of a rate limit window (value type).
type WindowState struct {
	Count     int       // Requests in current window
	WindowEnd time.Time // When current window ends
}

// Annotation is the best-effort metadata attached to a response (value type).
type Annotation struct {
	Limit     float64   // plan requests-per-second budget
	Remaining int       // coarse; never negative
	ResetAt   time.Time // end of the current window
}

// Annotate counts one request against the window and returns the metadata
// to publish. The remaining count is a per-response approximation, not a
// sliding window.
// This is a PURE function - no side effects, deterministic.
//
// Returns:
//   - annotation: headers to publish
//   - newState: updated state (caller must persist if needed)
func Annotate(state WindowState, budget float64, window time.Duration, now time.Time) (Annotation, WindowState) {
	if window <= 0 {
		window = DefaultWindow
	}

	// New window - reset counter
	if state.WindowEnd.IsZero() || !now.Before(state.WindowEnd) {
		state = WindowState{
			WindowEnd: now.Truncate(window).Add(window),
		}
	}
	state.Count++

	ceiling := int(math.Ceil(budget))
	remaining := ceiling - state.Count
	if remaining < 0 {
		remaining = 0
	}

	return Annotation{
		Limit:     budget,
		Remaining: remaining,
		ResetAt:   state.WindowEnd,
	}, state
}

// Headers renders an annotation as X-RateLimit-* header values.
// This is a PURE function.
func (a Annotation) Headers() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.FormatFloat(a.Limit, 'f', -1, 64),
		"X-RateLimit-Remaining": strconv.Itoa(a.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(a.ResetAt.Unix(), 10),
	}
}

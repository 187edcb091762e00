// Package clock provides Clock implementations.
// Cycle arithmetic is defined in UTC, so every clock here reports UTC.
package clock

import (
	"sync"
	"time"
)

// Real returns the actual current time in UTC.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fake provides a controllable clock for testing.
type Fake struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFake creates a fake clock set to the given time.
func NewFake(t time.Time) *Fake {
	return &Fake{current: t.UTC()}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set sets the fake current time.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t.UTC()
}

// Advance moves the fake time forward by duration d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// NextDay moves the fake time to the next UTC midnight plus offset.
func (f *Fake) NextDay(offset time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.current
	f.current = time.Date(c.Year(), c.Month(), c.Day()+1, 0, 0, 0, 0, time.UTC).Add(offset)
}

// NextMonth moves the fake time to the first instant of the next UTC month
// plus offset.
func (f *Fake) NextMonth(offset time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.current
	f.current = time.Date(c.Year(), c.Month()+1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

// Package clock abstracts the ambient wall clock so evaluation timestamps,
// deterministic hashes and lifecycle stamps are reproducible in tests.
// Services receive a Clock through their constructor, never a global.
package clock

import "time"

// Clock supplies the current instant.
type Clock interface {
	// Now returns the current time in UTC.
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now().UTC() }

// Fixed always returns the same instant. It is intended for tests that need
// deterministic hashes and timestamps.
type Fixed struct {
	t time.Time
}

// NewFixed creates a Fixed clock pinned to t (normalized to UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{t: t.UTC()}
}

// Now implements Clock.
func (f *Fixed) Now() time.Time { return f.t }

// Advance moves the fixed clock forward by d and returns the new instant.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.t = f.t.Add(d)
	return f.t
}

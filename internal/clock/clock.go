// Package clock provides the process-wide timebase: one wall clock and one
// monotonic duration source. Components take a Clock so tests can substitute
// a fake and background loops are not seeded by raw wall-clock reads.
package clock

import (
	"sync"
	"time"
)

// Clock is the authoritative time source.
type Clock interface {
	// Now returns the current wall-clock time in UTC.
	Now() time.Time
	// Monotonic returns the time elapsed since the process clock started.
	// Unlike Now, it is unaffected by wall-clock adjustments.
	Monotonic() time.Duration
}

// System is the real clock backed by the runtime's monotonic reading.
type System struct {
	start time.Time
}

// NewSystem returns a system clock anchored at construction time.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) Now() time.Time { return time.Now().UTC() }

func (s *System) Monotonic() time.Duration { return time.Since(s.start) }

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu   sync.Mutex
	now  time.Time
	mono time.Duration
}

// NewFake returns a fake clock starting at the given instant.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Monotonic() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

// Advance moves both the wall and monotonic readings forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.mono += d
}

// Set pins the wall clock to t without touching the monotonic reading.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Package timeutil provides a testable abstraction over time operations.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MockClock is a Clock whose time only moves when told to.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a mock clock starting at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Since returns the mock duration since t.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// StageTimer records how long each named stage of a batch run took.
type StageTimer struct {
	clock   Clock
	current string
	started time.Time
	order   []string
	spent   map[string]time.Duration
}

// NewStageTimer creates a timer backed by clock. A nil clock uses RealClock.
func NewStageTimer(clock Clock) *StageTimer {
	if clock == nil {
		clock = RealClock{}
	}
	return &StageTimer{clock: clock, spent: make(map[string]time.Duration)}
}

// Begin closes the running stage, if any, and starts stage.
func (st *StageTimer) Begin(stage string) {
	st.End()
	st.current = stage
	st.started = st.clock.Now()
}

// End closes the running stage.
func (st *StageTimer) End() {
	if st.current == "" {
		return
	}
	if _, seen := st.spent[st.current]; !seen {
		st.order = append(st.order, st.current)
	}
	st.spent[st.current] += st.clock.Since(st.started)
	st.current = ""
}

// StageDuration is one entry of StageTimer.Durations.
type StageDuration struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
}

// Durations returns the closed stages in first-seen order.
func (st *StageTimer) Durations() []StageDuration {
	out := make([]StageDuration, 0, len(st.order))
	for _, s := range st.order {
		out = append(out, StageDuration{Stage: s, Duration: st.spent[s]})
	}
	return out
}

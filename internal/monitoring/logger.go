// Package monitoring carries the process-level logger of the neuroframes
// binary and a frame progress reporter built on it.
package monitoring

import (
	"log"
	"sync"
	"time"

	"github.com/banshee-data/neuroframes/internal/sim/frames"
	"github.com/banshee-data/neuroframes/internal/timeutil"
)

// Logf is the package-level logger. It defaults to log.Printf but may be
// replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Progress logs emission progress through Logf at most once per Interval.
// It satisfies the pipeline observer interface.
type Progress struct {
	Interval time.Duration
	Total    int

	clock timeutil.Clock

	mu     sync.Mutex
	frames int
	last   time.Time
}

// NewProgress reports on a run of total frames. A nil clock uses RealClock.
func NewProgress(total int, interval time.Duration, clock timeutil.Clock) *Progress {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Progress{Interval: interval, Total: total, clock: clock, last: clock.Now()}
}

// ObserveFrame counts f and logs when the interval has elapsed.
func (p *Progress) ObserveFrame(f *frames.Frame) {
	p.mu.Lock()
	p.frames++
	n := p.frames
	due := p.clock.Since(p.last) >= p.Interval
	if due {
		p.last = p.clock.Now()
	}
	p.mu.Unlock()

	if !due {
		return
	}
	if p.Total > 0 {
		Logf("emitted %d/%d frames (step %d)", n, p.Total, f.Step)
		return
	}
	Logf("emitted %d frames (step %d)", n, f.Step)
}

// Frames returns the number of frames seen.
func (p *Progress) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

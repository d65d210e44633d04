package pipeline

import (
	"log"
	"sync"

	"github.com/banshee-data/neuroframes/internal/sim"
)

var (
	logMu       sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the pipeline streams and those of the stage
// packages. Pass nil for any writer to disable that stream.
func SetLogWriters(w sim.LogWriters) {
	logMu.Lock()
	opsLogger = sim.NewLogger("[pipeline] ", w.Ops)
	diagLogger = sim.NewLogger("[pipeline] ", w.Diag)
	traceLogger = sim.NewLogger("[pipeline] ", w.Trace)
	logMu.Unlock()
	sim.SetLogWriters(w)
}

func opsf(format string, args ...interface{}) {
	logMu.RLock()
	l := opsLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func diagf(format string, args ...interface{}) {
	logMu.RLock()
	l := diagLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func tracef(format string, args ...interface{}) {
	logMu.RLock()
	l := traceLogger
	logMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

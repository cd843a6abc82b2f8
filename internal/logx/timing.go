package logx

import (
	"time"

	"github.com/rs/zerolog"
)

type Timer struct {
	start time.Time
	id    string
	comp  string
	op    string
}

func Start(id, comp, op string) *Timer {
	return &Timer{
		start: time.Now(),
		id:    id,
		comp:  comp,
		op:    op,
	}
}

// Duration returns the time elapsed since Start.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// End logs the elapsed time and returns it.
func (t *Timer) End() time.Duration {
	elapsed := time.Since(t.start)
	logGeneric(zerolog.DebugLevel, t.id, t.comp, "[TIMING] %s = %v", t.op, elapsed)
	return elapsed
}

package llm

import (
	"bytes"
	"strings"
)

// sseEvent is a single Server-Sent Event.
type sseEvent struct {
	Type string
	Data string
}

// sseAccumulator assembles events from SSE lines. Events end at a blank
// line; comment lines and unknown fields are ignored, and several data
// lines are joined with newlines.
type sseAccumulator struct {
	eventType string
	data      []string
	hasData   bool
}

func (a *sseAccumulator) line(line []byte) (sseEvent, bool) {
	if len(line) == 0 {
		return a.dispatch()
	}
	if line[0] == ':' {
		return sseEvent{}, false
	}

	field, value, found := bytes.Cut(line, []byte{':'})
	if found {
		value = bytes.TrimPrefix(value, []byte{' '})
	}
	switch string(field) {
	case "event":
		a.eventType = string(value)
	case "data":
		a.data = append(a.data, string(value))
		a.hasData = true
	}
	return sseEvent{}, false
}

// dispatch emits the accumulated event, if any, and resets the state.
func (a *sseAccumulator) dispatch() (sseEvent, bool) {
	if !a.hasData {
		a.eventType = ""
		return sseEvent{}, false
	}
	ev := sseEvent{Type: a.eventType, Data: strings.Join(a.data, "\n")}
	a.eventType, a.data, a.hasData = "", a.data[:0], false
	return ev, true
}

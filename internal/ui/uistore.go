// Package ui keeps a timeline of recent assistant requests and serves it
// as HTML and JSON.
package ui

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"sort"
	"sync"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// DefaultMaxRequests bounds how many request timelines are kept.
const DefaultMaxRequests = 200

type Event struct {
	Time      time.Time `json:"time"`
	Component string    `json:"component"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Duration  string    `json:"duration,omitempty"`
}

type UIStore struct {
	mu       sync.RWMutex
	requests map[string][]Event
	order    []string // insertion order, oldest first
	limit    int
}

func NewUIStore() *UIStore {
	return NewUIStoreSize(DefaultMaxRequests)
}

// NewUIStoreSize keeps at most limit timelines, evicting the oldest.
func NewUIStoreSize(limit int) *UIStore {
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	return &UIStore{
		requests: make(map[string][]Event),
		limit:    limit,
	}
}

// AddEvent appends an event to the timeline of request id.
func (s *UIStore) AddEvent(id, component, kind, msg, duration string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[id]; !ok {
		s.order = append(s.order, id)
		for len(s.order) > s.limit {
			delete(s.requests, s.order[0])
			s.order = s.order[1:]
		}
	}
	s.requests[id] = append(s.requests[id], Event{
		Time:      time.Now(),
		Component: component,
		Kind:      kind,
		Message:   msg,
		Duration:  duration,
	})
}

// Events returns a copy of the timeline of id.
func (s *UIStore) Events(id string) ([]Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs, ok := s.requests[id]
	if !ok {
		return nil, false
	}
	cp := make([]Event, len(evs))
	copy(cp, evs)
	return cp, true
}

// snapshot returns a deep copy of the store.
func (s *UIStore) snapshot() map[string][]Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Event, len(s.requests))
	for k, v := range s.requests {
		cp := make([]Event, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

type row struct {
	ID        string `json:"id"`
	LastEvent Event  `json:"last_event"`
	Count     int    `json:"count"`
}

// rows lists requests, most recently active first.
func (s *UIStore) rows() []row {
	data := s.snapshot()
	rows := make([]row, 0, len(data))
	for id, evs := range data {
		if len(evs) == 0 {
			continue
		}
		rows = append(rows, row{ID: id, LastEvent: evs[len(evs)-1], Count: len(evs)})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].LastEvent.Time.After(rows[j].LastEvent.Time)
	})
	return rows
}

// HandleIndex renders the request list.
func (s *UIStore) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "index.html", s.rows()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleRequest renders the timeline of one request.
func (s *UIStore) HandleRequest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Redirect(w, r, "/ui", http.StatusFound)
		return
	}
	events, ok := s.Events(id)
	if !ok {
		http.Error(w, "request not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := templates.ExecuteTemplate(w, "request.html", struct {
		ID     string
		Events []Event
	}{ID: id, Events: events}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleRequestsJSON serves the request list, or one timeline when id
// is given.
func (s *UIStore) HandleRequestsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if id := r.URL.Query().Get("id"); id != "" {
		events, ok := s.Events(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "request not found"})
			return
		}
		json.NewEncoder(w).Encode(struct {
			ID     string  `json:"id"`
			Events []Event `json:"events"`
		}{id, events})
		return
	}
	json.NewEncoder(w).Encode(s.rows())
}

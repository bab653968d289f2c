package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// StaticSource keeps busy periods and events in memory. Used when no Google credentials are
// configured, and in tests.
type StaticSource struct {
	mu     sync.Mutex
	busy   map[string][]Period
	events map[string]map[string]Event
	seq    int
}

func NewStaticSource() *StaticSource {
	return &StaticSource{busy: map[string][]Period{}, events: map[string]map[string]Event{}}
}

func (s *StaticSource) AddBusy(calendarID string, start, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy[calendarID] = append(s.busy[calendarID], Period{Start: start, End: end})
}

func (s *StaticSource) Busy(_ context.Context, calendarID string, from, to time.Time) ([]Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Period
	for _, p := range s.busy[calendarID] {
		if p.Overlaps(from, to) {
			out = append(out, p)
		}
	}
	for _, ev := range s.events[calendarID] {
		p := Period{Start: ev.Start, End: ev.End}
		if p.Overlaps(from, to) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *StaticSource) CreateEvent(_ context.Context, calendarID string, ev Event) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("evt-%d", s.seq)
	if s.events[calendarID] == nil {
		s.events[calendarID] = map[string]Event{}
	}
	s.events[calendarID][id] = ev
	return id, nil
}

func (s *StaticSource) DeleteEvent(_ context.Context, calendarID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events[calendarID], eventID)
	return nil
}

// Events returns a copy of the events on one calendar.
func (s *StaticSource) Events(calendarID string) map[string]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Event, len(s.events[calendarID]))
	for k, v := range s.events[calendarID] {
		out[k] = v
	}
	return out
}

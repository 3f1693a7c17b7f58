package audit

import (
	"context"
	"sync"
)

// MemorySink keeps events in memory. Used by tests and the dev server.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Write(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

// Events returns a snapshot of recorded events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Actions returns the recorded action names in order.
func (s *MemorySink) Actions() []string {
	evs := s.Events()
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Action)
	}
	return out
}

// Last returns the most recent event with the given action.
func (s *MemorySink) Last(action string) (Event, bool) {
	evs := s.Events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i].Action == action {
			return evs[i], true
		}
	}
	return Event{}, false
}

package incident

import (
	"sync"
	"time"
)

type timerEntry struct {
	gen   uint64
	timer *time.Timer
}

// escalationScheduler holds the one-shot escalation timer per incident.
// Every armed timer carries a generation number; firing only proceeds if
// the generation still matches, so a cancel racing a concurrent fire can
// never double-send an escalation.
type escalationScheduler struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	nextGen uint64
}

func newEscalationScheduler() *escalationScheduler {
	return &escalationScheduler{entries: make(map[string]*timerEntry)}
}

// Arm schedules fire after delay, replacing any previous timer for the
// incident. fire runs on the timer goroutine only if the timer is still
// the current generation at that moment.
func (s *escalationScheduler) Arm(incidentID string, delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[incidentID]; ok {
		prev.timer.Stop()
	}
	s.nextGen++
	gen := s.nextGen
	entry := &timerEntry{gen: gen}
	entry.timer = time.AfterFunc(delay, func() {
		if s.claim(incidentID, gen) {
			fire()
		}
	})
	s.entries[incidentID] = entry
}

// claim atomically retires the timer if it is still current
func (s *escalationScheduler) claim(incidentID string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[incidentID]
	if !ok || entry.gen != gen {
		return false
	}
	delete(s.entries, incidentID)
	return true
}

// Cancel stops and removes the incident's timer. Returns true when a
// pending timer was actually cancelled.
func (s *escalationScheduler) Cancel(incidentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[incidentID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, incidentID)
	return true
}

// Active reports whether a timer is pending for the incident
func (s *escalationScheduler) Active(incidentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[incidentID]
	return ok
}

// StopAll cancels every pending timer, for shutdown
func (s *escalationScheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		entry.timer.Stop()
		delete(s.entries, id)
	}
}

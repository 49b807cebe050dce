package storage

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"sentinel/core"
)

// MemoryStore is the in-memory Store implementation used in tests and for
// ephemeral deployments. All returned entities are deep copies so callers
// can never mutate stored state outside the store's lock.
type MemoryStore struct {
	mu         sync.RWMutex
	events     map[string]*core.SecurityEvent
	eventOrder []string
	indicators map[string]*core.ThreatIndicator
	rules      map[string]*core.AlertRule
	incidents  map[string]*core.Incident
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:     make(map[string]*core.SecurityEvent),
		indicators: make(map[string]*core.ThreatIndicator),
		rules:      make(map[string]*core.AlertRule),
		incidents:  make(map[string]*core.Incident),
	}
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error { return nil }

func copyVia[T any](src *T) *T {
	data, err := json.Marshal(src)
	if err != nil {
		return src
	}
	dst := new(T)
	if err := json.Unmarshal(data, dst); err != nil {
		return src
	}
	return dst
}

// SaveEvent stores an event (upsert by ID)
func (s *MemoryStore) SaveEvent(ctx context.Context, event *core.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; !exists {
		s.eventOrder = append(s.eventOrder, event.ID)
	}
	s.events[event.ID] = copyVia(event)
	return nil
}

// GetEvent retrieves an event by ID
func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return copyVia(event), nil
}

// FindRecent returns events in the window matching all conditions
func (s *MemoryStore) FindRecent(ctx context.Context, conditions []core.Condition, window time.Duration) ([]*core.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-window)
	var result []*core.SecurityEvent
	for _, id := range s.eventOrder {
		event := s.events[id]
		if event.Timestamp.Before(cutoff) {
			continue
		}
		ok, err := core.MatchesAll(conditions, event)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, copyVia(event))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// CountByType aggregates event counts by type since the given time
func (s *MemoryStore) CountByType(ctx context.Context, since time.Time) (map[core.EventType]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[core.EventType]int64)
	for _, event := range s.events {
		if !event.Timestamp.Before(since) {
			counts[event.Type]++
		}
	}
	return counts, nil
}

// SaveIndicator stores an indicator (upsert by ID)
func (s *MemoryStore) SaveIndicator(ctx context.Context, indicator *core.ThreatIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[indicator.ID] = copyVia(indicator)
	return nil
}

// GetIndicator retrieves an indicator by ID
func (s *MemoryStore) GetIndicator(ctx context.Context, id string) (*core.ThreatIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	indicator, ok := s.indicators[id]
	if !ok {
		return nil, ErrIndicatorNotFound
	}
	return copyVia(indicator), nil
}

// ListActive returns active, non-expired indicators
func (s *MemoryStore) ListActive(ctx context.Context) ([]*core.ThreatIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.ThreatIndicator
	for _, ind := range s.indicators {
		if ind.Active && !ind.IsExpired() {
			result = append(result, copyVia(ind))
		}
	}
	return result, nil
}

// DeactivateExpired flips Active off for expired indicators
func (s *MemoryStore) DeactivateExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, ind := range s.indicators {
		if ind.Active && ind.IsExpired() {
			ind.Active = false
			n++
		}
	}
	return n, nil
}

// IncrementHitCount bumps the hit counter of an indicator
func (s *MemoryStore) IncrementHitCount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ind, ok := s.indicators[id]
	if !ok {
		return ErrIndicatorNotFound
	}
	ind.HitCount++
	return nil
}

// SaveRule stores a rule (upsert by ID)
func (s *MemoryStore) SaveRule(ctx context.Context, rule *core.AlertRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = copyVia(rule)
	return nil
}

// GetRule retrieves a rule by ID
func (s *MemoryStore) GetRule(ctx context.Context, id string) (*core.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, ErrRuleNotFound
	}
	return copyVia(rule), nil
}

// ListEnabled returns all enabled rules
func (s *MemoryStore) ListEnabled(ctx context.Context) ([]*core.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.AlertRule
	for _, rule := range s.rules {
		if rule.Enabled {
			result = append(result, copyVia(rule))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// RecordTrigger increments the trigger counter and sets last-triggered
func (s *MemoryStore) RecordTrigger(ctx context.Context, ruleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.TriggerCount++
	rule.LastTriggered = &at
	return nil
}

// SaveIncident stores an incident document (upsert by ID)
func (s *MemoryStore) SaveIncident(ctx context.Context, incident *core.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[incident.ID] = copyVia(incident)
	return nil
}

// GetIncident retrieves an incident by ID
func (s *MemoryStore) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	return copyVia(incident), nil
}

// ListIncidents returns incidents matching the filters, newest first
func (s *MemoryStore) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.Incident
	for _, inc := range s.incidents {
		if filters.Status != "" && inc.Status != filters.Status {
			continue
		}
		if filters.Severity != "" && inc.Severity != filters.Severity {
			continue
		}
		if filters.Category != "" && inc.Category != filters.Category {
			continue
		}
		if filters.AssignedTo != "" && inc.AssignedTo != filters.AssignedTo {
			continue
		}
		if filters.Since != nil && inc.CreatedAt.Before(*filters.Since) {
			continue
		}
		if filters.Until != nil && inc.CreatedAt.After(*filters.Until) {
			continue
		}
		result = append(result, copyVia(inc))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return nil, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && len(result) > filters.Limit {
		result = result[:filters.Limit]
	}
	return result, nil
}

// ListOpen returns incidents not yet resolved or closed
func (s *MemoryStore) ListOpen(ctx context.Context) ([]*core.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*core.Incident
	for _, inc := range s.incidents {
		if !inc.Status.IsTerminalOrResolved() {
			result = append(result, copyVia(inc))
		}
	}
	return result, nil
}

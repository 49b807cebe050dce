// Package correlate maintains sliding time-windowed groups of related
// events and evaluates pattern detectors against each group on every
// arrival.
package correlate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/metrics"
)

// DefaultWindow is the correlation window applied when none is configured
const DefaultWindow = 300 * time.Second

// group holds the ordered events for one correlation key. Each group is a
// unit of serializability: all mutation happens under its lock, and
// distinct keys proceed fully in parallel.
type group struct {
	mu     sync.Mutex
	events []*core.SecurityEvent
}

// Engine is the correlation engine. Group map membership is guarded by mu;
// per-group state is guarded by the group's own lock.
type Engine struct {
	window    time.Duration
	detectors []Detector
	groups    map[string]*group
	mu        sync.RWMutex
	logger    *zap.SugaredLogger
	cancel    context.CancelFunc
}

// NewEngine creates a correlation engine with the default detector set
func NewEngine(window time.Duration, logger *zap.SugaredLogger) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		window:    window,
		detectors: DefaultDetectors(),
		groups:    make(map[string]*group),
		logger:    logger,
	}
}

// RegisterDetector adds a detector to the evaluation set
func (e *Engine) RegisterDetector(d Detector) {
	e.detectors = append(e.detectors, d)
}

// CorrelationKey derives the grouping identity for an event, concatenating
// available identifiers in priority order user > ip > resource > session.
// Events with no identifiers fall back to their event type.
func CorrelationKey(event *core.SecurityEvent) string {
	key := ""
	if event.UserID != "" {
		key += "user:" + event.UserID
	}
	if event.SourceIP != "" {
		if key != "" {
			key += "|"
		}
		key += "ip:" + event.SourceIP
	}
	if event.Resource != "" {
		if key != "" {
			key += "|"
		}
		key += "resource:" + event.Resource
	}
	if event.SessionID != "" {
		if key != "" {
			key += "|"
		}
		key += "session:" + event.SessionID
	}
	if key == "" {
		key = "type:" + string(event.Type)
	}
	return key
}

// Observe appends the event to its group, prunes entries older than the
// window and evaluates every detector over the pruned group. Detector
// errors are isolated per detector and never stop ingestion.
func (e *Engine) Observe(event *core.SecurityEvent) []*core.PatternMatch {
	key := CorrelationKey(event)
	g := e.getOrCreateGroup(key)

	g.mu.Lock()
	g.events = insertOrdered(g.events, event)
	g.events = e.prune(g.events, event.Timestamp)

	if len(g.events) == 0 {
		g.mu.Unlock()
		e.removeIfEmpty(key, g)
		return nil
	}

	// Copy out for detection so detectors never run under the group lock
	snapshot := make([]*core.SecurityEvent, len(g.events))
	copy(snapshot, g.events)
	g.mu.Unlock()

	var matches []*core.PatternMatch
	for _, d := range e.detectors {
		match, err := e.runDetector(d, key, snapshot)
		if err != nil {
			e.logger.Errorf("Detector %s failed for key %s: %v", d.Name(), key, err)
			continue
		}
		if match != nil {
			matches = append(matches, match)
			metrics.PatternMatches.WithLabelValues(d.Name()).Inc()
		}
	}
	return matches
}

// runDetector isolates detector panics as errors
func (e *Engine) runDetector(d Detector, key string, events []*core.SecurityEvent) (match *core.PatternMatch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()
	return d.Detect(key, events), nil
}

func (e *Engine) getOrCreateGroup(key string) *group {
	e.mu.RLock()
	g, ok := e.groups[key]
	e.mu.RUnlock()
	if ok {
		return g
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok = e.groups[key]; ok {
		return g
	}
	g = &group{}
	e.groups[key] = g
	metrics.CorrelationGroups.Set(float64(len(e.groups)))
	return g
}

// removeIfEmpty deletes a drained group under both locks so a concurrent
// Observe for the same key cannot lose its append.
func (e *Engine) removeIfEmpty(key string, g *group) {
	e.mu.Lock()
	defer e.mu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.events) == 0 && e.groups[key] == g {
		delete(e.groups, key)
		metrics.CorrelationGroups.Set(float64(len(e.groups)))
	}
}

// prune drops events older than the window relative to now
func (e *Engine) prune(events []*core.SecurityEvent, now time.Time) []*core.SecurityEvent {
	cutoff := now.Add(-e.window)
	idx := 0
	for idx < len(events) && !events[idx].Timestamp.After(cutoff) {
		idx++
	}
	return events[idx:]
}

// insertOrdered inserts the event keeping the slice ordered by timestamp
func insertOrdered(events []*core.SecurityEvent, event *core.SecurityEvent) []*core.SecurityEvent {
	i := len(events)
	for i > 0 && events[i-1].Timestamp.After(event.Timestamp) {
		i--
	}
	events = append(events, nil)
	copy(events[i+1:], events[i:])
	events[i] = event
	return events
}

// GroupCount returns the number of live correlation groups
func (e *Engine) GroupCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.groups)
}

// StartSweep prunes idle groups on the interval. This is hygiene only; a
// skipped sweep delays memory reclamation but never affects detection.
func (e *Engine) StartSweep(parentCtx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.window / 2
	}
	ctx, cancel := context.WithCancel(parentCtx)
	e.cancel = cancel

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopSweep halts the sweep loop
func (e *Engine) StopSweep() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) sweep() {
	now := time.Now().UTC()

	e.mu.RLock()
	keys := make([]string, 0, len(e.groups))
	for key := range e.groups {
		keys = append(keys, key)
	}
	e.mu.RUnlock()

	for _, key := range keys {
		e.mu.RLock()
		g, ok := e.groups[key]
		e.mu.RUnlock()
		if !ok {
			continue
		}

		g.mu.Lock()
		g.events = e.prune(g.events, now)
		empty := len(g.events) == 0
		g.mu.Unlock()

		if empty {
			e.removeIfEmpty(key, g)
		}
	}
}

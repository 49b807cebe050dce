package incident

import (
	"context"
	"sync"
	"time"

	"sentinel/core"
)

// MockActionRunner records executed actions for tests. Fail lists action
// types that should return FailErr.
type MockActionRunner struct {
	mu       sync.Mutex
	Executed []string
	Fail     map[string]bool
	FailErr  error
}

func NewMockActionRunner() *MockActionRunner {
	return &MockActionRunner{Fail: make(map[string]bool)}
}

func (m *MockActionRunner) Execute(ctx context.Context, actionType string, incident *core.Incident) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executed = append(m.Executed, actionType)
	if m.Fail[actionType] {
		return "", m.FailErr
	}
	return "ok", nil
}

func (m *MockActionRunner) ExecutedTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Executed))
	copy(out, m.Executed)
	return out
}

// MockCommanderAssigner returns a fixed commander
type MockCommanderAssigner struct {
	Commander string
	Err       error
}

func (m *MockCommanderAssigner) Assign(ctx context.Context, severity core.IncidentSeverity) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Commander == "" {
		return "commander-on-call", nil
	}
	return m.Commander, nil
}

// MockReviewScheduler records scheduled reviews
type MockReviewScheduler struct {
	mu        sync.Mutex
	Scheduled []string
	Err       error
}

func (m *MockReviewScheduler) SchedulePostIncidentReview(ctx context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Scheduled = append(m.Scheduled, incident.ID)
	return nil
}

func (m *MockReviewScheduler) ScheduledIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Scheduled))
	copy(out, m.Scheduled)
	return out
}

// MockSnapshotCache is an in-memory SnapshotCache. Err makes writes fail
// without touching the stored snapshots.
type MockSnapshotCache struct {
	mu        sync.Mutex
	Snapshots map[string]*core.Incident
	Writes    int
	Err       error
}

func NewMockSnapshotCache() *MockSnapshotCache {
	return &MockSnapshotCache{Snapshots: make(map[string]*core.Incident)}
}

func (m *MockSnapshotCache) CacheIncident(ctx context.Context, incident *core.Incident, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.Err != nil {
		return m.Err
	}
	m.Snapshots[incident.ID] = incident
	return nil
}

func (m *MockSnapshotCache) GetIncident(ctx context.Context, id string) (*core.Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.Snapshots[id]
	return inc, ok
}

// Put seeds a snapshot directly
func (m *MockSnapshotCache) Put(inc *core.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Snapshots[inc.ID] = inc
}

// MockEventIngester records self-logged events
type MockEventIngester struct {
	mu     sync.Mutex
	Events []*core.SecurityEvent
}

func (m *MockEventIngester) IngestEvent(ctx context.Context, event *core.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockEventIngester) Ingested() []*core.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.SecurityEvent, len(m.Events))
	copy(out, m.Events)
	return out
}

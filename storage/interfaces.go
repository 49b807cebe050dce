// Package storage defines the durable-store contracts consumed by the
// correlation and incident engines, with in-memory and SQLite
// implementations. Correlation groups and in-flight escalation timers are
// volatile by design; everything here is the durable state they are
// reconstructed from at process restart.
package storage

import (
	"context"
	"time"

	"sentinel/core"
)

// EventStore persists scored security events and serves windowed queries
// for the alert rule engine.
type EventStore interface {
	SaveEvent(ctx context.Context, event *core.SecurityEvent) error
	GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error)
	// FindRecent returns events within the window (relative to now) that
	// match all conditions, ordered by timestamp.
	FindRecent(ctx context.Context, conditions []core.Condition, window time.Duration) ([]*core.SecurityEvent, error)
	// CountByType aggregates event counts by type since the given time
	CountByType(ctx context.Context, since time.Time) (map[core.EventType]int64, error)
}

// IndicatorStore persists threat indicators
type IndicatorStore interface {
	SaveIndicator(ctx context.Context, indicator *core.ThreatIndicator) error
	GetIndicator(ctx context.Context, id string) (*core.ThreatIndicator, error)
	// ListActive returns non-expired active indicators
	ListActive(ctx context.Context) ([]*core.ThreatIndicator, error)
	// DeactivateExpired flips Active off for indicators past expiry,
	// returning how many were deactivated.
	DeactivateExpired(ctx context.Context) (int64, error)
	IncrementHitCount(ctx context.Context, id string) error
}

// RuleStore persists alert rules
type RuleStore interface {
	SaveRule(ctx context.Context, rule *core.AlertRule) error
	GetRule(ctx context.Context, id string) (*core.AlertRule, error)
	ListEnabled(ctx context.Context) ([]*core.AlertRule, error)
	RecordTrigger(ctx context.Context, ruleID string, at time.Time) error
}

// IncidentFilters narrows ListIncidents results
type IncidentFilters struct {
	Status     core.IncidentStatus
	Severity   core.IncidentSeverity
	Category   core.IncidentCategory
	AssignedTo string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// IncidentStore persists incidents as full documents including their
// embedded timeline, communications, actions and evidence.
type IncidentStore interface {
	SaveIncident(ctx context.Context, incident *core.Incident) error
	GetIncident(ctx context.Context, id string) (*core.Incident, error)
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, error)
	// ListOpen returns incidents not yet RESOLVED or CLOSED, used to
	// re-arm escalation timers at startup.
	ListOpen(ctx context.Context) ([]*core.Incident, error)
}

// Store bundles all four stores as one backend
type Store interface {
	EventStore
	IndicatorStore
	RuleStore
	IncidentStore
	Close() error
}

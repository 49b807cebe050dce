// Package incident owns the incident lifecycle: creation, automated
// response actions, escalation timers, status transitions, stakeholder
// communications and closure. All mutation runs through the Manager under
// a per-incident lock; collaborator I/O happens with the lock released.
package incident

import (
	"context"
	"time"

	"sentinel/core"
)

// ActionRunner executes automated response actions against the
// environment (the script runner). Destructive actions are gated by
// ConfirmationRequired before they ever reach the runner.
type ActionRunner interface {
	Execute(ctx context.Context, actionType string, incident *core.Incident) (result string, err error)
}

// CommanderAssigner picks an incident commander for a severity
type CommanderAssigner interface {
	Assign(ctx context.Context, severity core.IncidentSeverity) (string, error)
}

// ReviewScheduler books a post-incident review after resolution
type ReviewScheduler interface {
	SchedulePostIncidentReview(ctx context.Context, incident *core.Incident) error
}

// SnapshotCache holds hot incident snapshots alongside the durable
// store. The manager refreshes the snapshot after every persisted
// mutation and reads consult it before the store; a miss falls through.
// Satisfied by core.RedisCache.
type SnapshotCache interface {
	CacheIncident(ctx context.Context, incident *core.Incident, ttl time.Duration) error
	GetIncident(ctx context.Context, id string) (*core.Incident, bool)
}

// EventIngester feeds the manager's own audit events back into the event
// stream. The manager tags these events so the detection pipeline does not
// loop them back into new incidents.
type EventIngester interface {
	IngestEvent(ctx context.Context, event *core.SecurityEvent) error
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sentinel/core"
)

// The contract tests run against every backend so the memory and SQLite
// stores cannot drift apart.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	memory := NewMemoryStore()
	t.Cleanup(func() { memory.Close() })

	return map[string]Store{"memory": memory, "sqlite": sqlite}
}

func storedEvent(userID string, ts time.Time) *core.SecurityEvent {
	e := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	e.UserID = userID
	e.SourceIP = "10.0.0.5"
	e.Attributes[core.AttrOutcome] = core.OutcomeFailure
	e.Timestamp = ts
	e.ThreatScore = 40
	return e
}

func TestEventRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			event := storedEvent("alice", time.Now().UTC())
			event.Processed = true

			require.NoError(t, store.SaveEvent(ctx, event))

			got, err := store.GetEvent(ctx, event.ID)
			require.NoError(t, err)
			assert.Equal(t, event.ID, got.ID)
			assert.Equal(t, event.Type, got.Type)
			assert.Equal(t, "alice", got.UserID)
			assert.Equal(t, 40, got.ThreatScore)
			assert.True(t, got.Processed)
			assert.Equal(t, core.OutcomeFailure, got.Outcome())

			_, err = store.GetEvent(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestFindRecentFiltersByWindowAndConditions(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, store.SaveEvent(ctx, storedEvent("alice", now.Add(-30*time.Second))))
			require.NoError(t, store.SaveEvent(ctx, storedEvent("alice", now.Add(-10*time.Second))))
			require.NoError(t, store.SaveEvent(ctx, storedEvent("alice", now.Add(-10*time.Minute)))) // outside window
			require.NoError(t, store.SaveEvent(ctx, storedEvent("bob", now.Add(-5*time.Second))))    // wrong user

			conditions := []core.Condition{
				{Field: "user_id", Operator: core.OpEquals, Value: "alice"},
				{Field: "attributes.outcome", Operator: core.OpEquals, Value: core.OutcomeFailure},
			}
			recent, err := store.FindRecent(ctx, conditions, time.Minute)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.True(t, recent[0].Timestamp.Before(recent[1].Timestamp))
		})
	}
}

func TestCountByType(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, store.SaveEvent(ctx, storedEvent("alice", now)))
			require.NoError(t, store.SaveEvent(ctx, storedEvent("bob", now)))

			admin := core.NewSecurityEvent(core.EventTypeAdminOperation, core.SeverityHigh, "console")
			admin.Timestamp = now
			require.NoError(t, store.SaveEvent(ctx, admin))

			old := storedEvent("carol", now.Add(-2*time.Hour))
			require.NoError(t, store.SaveEvent(ctx, old))

			counts, err := store.CountByType(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(2), counts[core.EventTypeAuthentication])
			assert.Equal(t, int64(1), counts[core.EventTypeAdminOperation])
		})
	}
}

func TestIndicatorLifecycle(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			active, err := core.NewThreatIndicator(core.IndicatorTypeIP, "203.0.113.9", "feed-a")
			require.NoError(t, err)
			require.NoError(t, store.SaveIndicator(ctx, active))

			expired, err := core.NewThreatIndicator(core.IndicatorTypeDomain, "evil.example.com", "feed-a")
			require.NoError(t, err)
			past := time.Now().UTC().Add(-time.Hour)
			expired.ExpiresAt = &past
			require.NoError(t, store.SaveIndicator(ctx, expired))

			listed, err := store.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.Equal(t, active.ID, listed[0].ID)

			deactivated, err := store.DeactivateExpired(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deactivated)

			got, err := store.GetIndicator(ctx, expired.ID)
			require.NoError(t, err)
			assert.False(t, got.Active)

			require.NoError(t, store.IncrementHitCount(ctx, active.ID))
			require.NoError(t, store.IncrementHitCount(ctx, active.ID))
			got, err = store.GetIndicator(ctx, active.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.HitCount)
		})
	}
}

func TestRulePersistenceAndTrigger(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			enabled := core.NewAlertRule("failed login burst",
				[]core.Condition{{Field: "type", Operator: core.OpEquals, Value: "AUTHENTICATION"}},
				time.Minute, 5, core.SeverityHigh)
			enabled.Actions = []core.RuleAction{{Type: core.RuleActionSlack, Target: "#sec"}}
			enabled.SuppressionTime = 5 * time.Minute
			require.NoError(t, store.SaveRule(ctx, enabled))

			disabled := core.NewAlertRule("dormant rule",
				[]core.Condition{{Field: "type", Operator: core.OpEquals, Value: "API_ACCESS"}},
				time.Minute, 1, core.SeverityLow)
			disabled.Enabled = false
			require.NoError(t, store.SaveRule(ctx, disabled))

			listed, err := store.ListEnabled(ctx)
			require.NoError(t, err)
			require.Len(t, listed, 1)
			got := listed[0]
			assert.Equal(t, enabled.ID, got.ID)
			assert.Equal(t, time.Minute, got.Window)
			assert.Equal(t, 5*time.Minute, got.SuppressionTime)
			require.Len(t, got.Conditions, 1)
			require.Len(t, got.Actions, 1)
			assert.Equal(t, "#sec", got.Actions[0].Target)

			at := time.Now().UTC()
			require.NoError(t, store.RecordTrigger(ctx, enabled.ID, at))
			stored, err := store.GetRule(ctx, enabled.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), stored.TriggerCount)
			require.NotNil(t, stored.LastTriggered)
		})
	}
}

func newStoredIncident(t *testing.T, severity core.IncidentSeverity) *core.Incident {
	t.Helper()
	inc, err := core.NewIncident(
		"Unauthorized admin console access",
		"Repeated privileged operations from an unrecognized workstation",
		severity, core.CategorySecurityBreach, "detection-pipeline")
	require.NoError(t, err)
	return inc
}

func TestIncidentDocumentRoundTrip(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			inc := newStoredIncident(t, core.IncidentSeverityP2)
			inc.AppendTimeline("system", core.TimelineCreated, "Incident created", nil)
			action := core.NewIncidentAction(inc.ID, "collect-evidence", true, false)
			inc.Actions = append(inc.Actions, *action)

			require.NoError(t, store.SaveIncident(ctx, inc))

			got, err := store.GetIncident(ctx, inc.ID)
			require.NoError(t, err)
			assert.Equal(t, inc.ID, got.ID)
			assert.Equal(t, core.StatusNew, got.Status)
			require.Len(t, got.Timeline, 1)
			require.Len(t, got.Actions, 1)
			assert.Equal(t, "collect-evidence", got.Actions[0].Type)

			// Saves are full-document upserts.
			got.Status = core.StatusInvestigating
			got.AssignedTo = "rowan"
			require.NoError(t, store.SaveIncident(ctx, got))
			again, err := store.GetIncident(ctx, inc.ID)
			require.NoError(t, err)
			assert.Equal(t, core.StatusInvestigating, again.Status)
			assert.Equal(t, "rowan", again.AssignedTo)

			_, err = store.GetIncident(ctx, "missing")
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestListIncidentsFilters(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			p1 := newStoredIncident(t, core.IncidentSeverityP1)
			p1.AssignedTo = "rowan"
			require.NoError(t, store.SaveIncident(ctx, p1))

			p3 := newStoredIncident(t, core.IncidentSeverityP3)
			p3.Status = core.StatusResolved
			require.NoError(t, store.SaveIncident(ctx, p3))

			bySeverity, err := store.ListIncidents(ctx, IncidentFilters{Severity: core.IncidentSeverityP1})
			require.NoError(t, err)
			require.Len(t, bySeverity, 1)
			assert.Equal(t, p1.ID, bySeverity[0].ID)

			byStatus, err := store.ListIncidents(ctx, IncidentFilters{Status: core.StatusResolved})
			require.NoError(t, err)
			require.Len(t, byStatus, 1)
			assert.Equal(t, p3.ID, byStatus[0].ID)

			byAssignee, err := store.ListIncidents(ctx, IncidentFilters{AssignedTo: "rowan"})
			require.NoError(t, err)
			require.Len(t, byAssignee, 1)

			limited, err := store.ListIncidents(ctx, IncidentFilters{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			open, err := store.ListOpen(ctx)
			require.NoError(t, err)
			require.Len(t, open, 1)
			assert.Equal(t, p1.ID, open[0].ID)
		})
	}
}

func TestListIncidentsTimeRange(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			old := newStoredIncident(t, core.IncidentSeverityP3)
			old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
			require.NoError(t, store.SaveIncident(ctx, old))

			recent := newStoredIncident(t, core.IncidentSeverityP3)
			require.NoError(t, store.SaveIncident(ctx, recent))

			since := time.Now().UTC().Add(-time.Hour)
			got, err := store.ListIncidents(ctx, IncidentFilters{Since: &since})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, recent.ID, got[0].ID)
		})
	}
}

package score

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"sentinel/core"
)

type stubIPRep struct {
	value int
	err   error
}

func (s stubIPRep) Reputation(ctx context.Context, ip string) (int, error) { return s.value, s.err }

type stubUserRisk struct {
	value int
	err   error
}

func (s stubUserRisk) Risk(ctx context.Context, userID string) (int, error) { return s.value, s.err }

type stubGeo struct {
	value int
	err   error
}

func (s stubGeo) Anomaly(ctx context.Context, userID, ip string) (int, error) {
	return s.value, s.err
}

// businessHours fixes the event timestamp at 14:00 local so the off-hours
// bonus never bleeds into assertions that don't test it.
func businessHours() time.Time {
	now := time.Now().Local()
	return time.Date(now.Year(), now.Month(), now.Day(), 14, 0, 0, 0, time.Local)
}

func scoringEvent(eventType core.EventType, severity core.Severity) *core.SecurityEvent {
	e := core.NewSecurityEvent(eventType, severity, "test-source")
	e.UserID = "alice"
	e.SourceIP = "203.0.113.9"
	e.Timestamp = businessHours()
	return e
}

func TestScoreBaseTimesSeverityMultiplier(t *testing.T) {
	scorer := NewScorer(nil, nil, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	tests := []struct {
		name      string
		eventType core.EventType
		severity  core.Severity
		want      int
	}{
		{"auth low", core.EventTypeAuthentication, core.SeverityLow, 15},
		{"auth medium", core.EventTypeAuthentication, core.SeverityMedium, 20},
		{"admin high", core.EventTypeAdminOperation, core.SeverityHigh, 62},
		{"threat critical clamps", core.EventTypeThreatDetected, core.SeverityCritical, 100},
		{"api access info", core.EventTypeAPIAccess, core.SeverityInfo, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.Score(ctx, scoringEvent(tt.eventType, tt.severity))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScoreSeverityMonotonicity(t *testing.T) {
	scorer := NewScorer(nil, nil, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	severities := []core.Severity{
		core.SeverityInfo, core.SeverityLow, core.SeverityMedium,
		core.SeverityHigh, core.SeverityCritical,
	}
	prev := -1
	for _, sev := range severities {
		got := scorer.Score(ctx, scoringEvent(core.EventTypeDataAccess, sev))
		assert.GreaterOrEqual(t, got, prev, "severity %s scored below a lower severity", sev)
		prev = got
	}
}

func TestScoreProviderContributions(t *testing.T) {
	scorer := NewScorer(
		stubIPRep{value: 20},
		stubUserRisk{value: 10},
		stubGeo{value: 5},
		zaptest.NewLogger(t).Sugar(),
	)

	// auth medium base 20 plus 35 provider points
	got := scorer.Score(context.Background(), scoringEvent(core.EventTypeAuthentication, core.SeverityMedium))
	assert.Equal(t, 55, got)
}

func TestScoreProviderFailureDegradesToZero(t *testing.T) {
	scorer := NewScorer(
		stubIPRep{err: errors.New("feed down")},
		stubUserRisk{value: 10},
		stubGeo{err: errors.New("timeout")},
		zaptest.NewLogger(t).Sugar(),
	)

	got := scorer.Score(context.Background(), scoringEvent(core.EventTypeAuthentication, core.SeverityMedium))
	assert.Equal(t, 30, got)
}

func TestScoreSkipsProvidersForMissingIdentifiers(t *testing.T) {
	scorer := NewScorer(
		stubIPRep{value: 50},
		stubUserRisk{value: 50},
		stubGeo{value: 50},
		zaptest.NewLogger(t).Sugar(),
	)

	event := scoringEvent(core.EventTypeAuthentication, core.SeverityMedium)
	event.SourceIP = ""
	event.UserID = ""

	got := scorer.Score(context.Background(), event)
	assert.Equal(t, 20, got)
}

func TestScoreOffHoursBonus(t *testing.T) {
	scorer := NewScorer(nil, nil, nil, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()
	now := time.Now().Local()

	event := scoringEvent(core.EventTypeAuthentication, core.SeverityMedium)
	event.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), 23, 30, 0, 0, time.Local)
	assert.Equal(t, 30, scorer.Score(ctx, event))

	event.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), 5, 59, 0, 0, time.Local)
	assert.Equal(t, 30, scorer.Score(ctx, event))

	event.Timestamp = time.Date(now.Year(), now.Month(), now.Day(), 6, 0, 0, 0, time.Local)
	assert.Equal(t, 20, scorer.Score(ctx, event))
}

func TestScoreClampedToBounds(t *testing.T) {
	scorer := NewScorer(stubIPRep{value: 500}, nil, nil, zaptest.NewLogger(t).Sugar())

	got := scorer.Score(context.Background(), scoringEvent(core.EventTypeThreatDetected, core.SeverityCritical))
	assert.Equal(t, MaxScore, got)
}

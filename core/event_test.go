package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityInfo.Rank(), SeverityLow.Rank())
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
}

func TestNewSecurityEvent(t *testing.T) {
	event := NewSecurityEvent(EventTypeAuthentication, SeverityMedium, "auth-service")
	require.NotEmpty(t, event.ID)
	assert.Equal(t, EventTypeAuthentication, event.Type)
	assert.Equal(t, SeverityMedium, event.Severity)
	assert.NotNil(t, event.Attributes)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, time.Second)
	assert.False(t, event.Processed)
}

func TestEventOutcomeHelpers(t *testing.T) {
	event := NewSecurityEvent(EventTypeAuthentication, SeverityMedium, "auth")
	assert.False(t, event.IsAuthFailure())
	assert.False(t, event.IsAuthSuccess())

	event.Attributes[AttrOutcome] = OutcomeFailure
	assert.True(t, event.IsAuthFailure())
	assert.False(t, event.IsAuthSuccess())

	event.Attributes[AttrOutcome] = OutcomeSuccess
	assert.True(t, event.IsAuthSuccess())

	// Outcome only counts for authentication events
	event.Type = EventTypeDataAccess
	assert.False(t, event.IsAuthSuccess())
}

func TestEventFieldLookup(t *testing.T) {
	event := NewSecurityEvent(EventTypeDataAccess, SeverityLow, "api")
	event.UserID = "alice"
	event.SourceIP = "10.0.0.1"
	event.ThreatScore = 42
	event.Attributes["request"] = map[string]interface{}{
		"path":   "/admin/users",
		"method": "DELETE",
	}
	event.Attributes["bytes"] = 1024

	tests := []struct {
		field string
		want  interface{}
	}{
		{"user_id", "alice"},
		{"source_ip", "10.0.0.1"},
		{"threat_score", 42},
		{"bytes", 1024},
		{"request.path", "/admin/users"},
		{"request.method", "DELETE"},
		{"request.missing", nil},
		{"nonexistent", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, event.Field(tt.field), "field %s", tt.field)
	}
}

package core

import (
	"time"

	"github.com/google/uuid"
)

// PatternType identifies a correlation pattern detector
type PatternType string

const (
	PatternVelocity            PatternType = "velocity"
	PatternBruteForce          PatternType = "brute_force_then_success"
	PatternPrivilegeEscalation PatternType = "privilege_escalation"
	PatternExfiltration        PatternType = "exfiltration"
)

// PatternMatch is emitted when a detector fires over a correlation group
type PatternMatch struct {
	ID             string           `json:"id"`
	Pattern        PatternType      `json:"pattern"`
	CorrelationKey string           `json:"correlation_key"`
	Severity       Severity         `json:"severity"`
	Description    string           `json:"description"`
	Events         []*SecurityEvent `json:"events"` // contributing payload
	DetectedAt     time.Time        `json:"detected_at"`
}

// NewPatternMatch creates a match record for a detector firing
func NewPatternMatch(pattern PatternType, key string, severity Severity, description string, events []*SecurityEvent) *PatternMatch {
	return &PatternMatch{
		ID:             uuid.New().String(),
		Pattern:        pattern,
		CorrelationKey: key,
		Severity:       severity,
		Description:    description,
		Events:         events,
		DetectedAt:     time.Now().UTC(),
	}
}

// DetectionKind distinguishes the sources of a detection on the bus
type DetectionKind string

const (
	DetectionPattern   DetectionKind = "pattern"
	DetectionAlert     DetectionKind = "alert"
	DetectionIndicator DetectionKind = "indicator"
)

// Detection is the bus payload connecting the correlation outputs to the
// incident lifecycle manager and external subscribers. Exactly one of the
// payload fields is set, per Kind.
type Detection struct {
	Kind           DetectionKind   `json:"kind"`
	Pattern        *PatternMatch   `json:"pattern,omitempty"`
	Alert          *TriggeredAlert `json:"alert,omitempty"`
	IndicatorMatch *IndicatorMatch `json:"indicator_match,omitempty"`
	Event          *SecurityEvent  `json:"event,omitempty"` // triggering event
}

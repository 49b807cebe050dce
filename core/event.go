package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security event by the kind of activity observed
type EventType string

const (
	EventTypeAuthentication      EventType = "AUTHENTICATION"
	EventTypeAuthorization       EventType = "AUTHORIZATION"
	EventTypeDataAccess          EventType = "DATA_ACCESS"
	EventTypeFileOperation       EventType = "FILE_OPERATION"
	EventTypeAdminOperation      EventType = "ADMIN_OPERATION"
	EventTypeAPIAccess           EventType = "API_ACCESS"
	EventTypeSystemOperation     EventType = "SYSTEM_OPERATION"
	EventTypeThreatDetected      EventType = "THREAT_DETECTED"
	EventTypeAnomalyDetected     EventType = "ANOMALY_DETECTED"
	EventTypeComplianceViolation EventType = "COMPLIANCE_VIOLATION"
	EventTypeSecurityAlert       EventType = "SECURITY_ALERT"
)

// AllEventTypes returns all valid event types for validation
var AllEventTypes = []EventType{
	EventTypeAuthentication, EventTypeAuthorization, EventTypeDataAccess,
	EventTypeFileOperation, EventTypeAdminOperation, EventTypeAPIAccess,
	EventTypeSystemOperation, EventTypeThreatDetected, EventTypeAnomalyDetected,
	EventTypeComplianceViolation, EventTypeSecurityAlert,
}

// IsValid checks if the event type is valid
func (t EventType) IsValid() bool {
	for _, valid := range AllEventTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Severity represents the severity of a security event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal position of the severity, INFO being lowest.
// Unknown severities rank as INFO.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// Event outcome attribute values for AUTHENTICATION events
const (
	AttrOutcome    = "outcome"
	OutcomeSuccess = "SUCCESS"
	OutcomeFailure = "FAILURE"
)

// SecurityEvent is an immutable record of one observed occurrence.
// It is created once at ingestion and never mutated afterwards except to
// flip Processed and attach the computed threat score.
type SecurityEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Severity    Severity               `json:"severity"`
	Source      string                 `json:"source"`
	UserID      string                 `json:"user_id,omitempty"`
	SiteID      string                 `json:"site_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	SourceIP    string                 `json:"source_ip,omitempty"`
	Resource    string                 `json:"resource,omitempty"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	ThreatScore int                    `json:"threat_score"`
	Processed   bool                   `json:"processed"`
}

// NewSecurityEvent creates a new event with a generated ID and UTC timestamp
func NewSecurityEvent(eventType EventType, severity Severity, source string) *SecurityEvent {
	return &SecurityEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Severity:   severity,
		Source:     source,
		Attributes: make(map[string]interface{}),
		Timestamp:  time.Now().UTC(),
	}
}

// Outcome returns the event's outcome attribute, or "" if absent
func (e *SecurityEvent) Outcome() string {
	if e.Attributes == nil {
		return ""
	}
	if v, ok := e.Attributes[AttrOutcome].(string); ok {
		return v
	}
	return ""
}

// IsAuthFailure reports whether the event is a failed authentication attempt
func (e *SecurityEvent) IsAuthFailure() bool {
	return e.Type == EventTypeAuthentication && e.Outcome() == OutcomeFailure
}

// IsAuthSuccess reports whether the event is a successful authentication
func (e *SecurityEvent) IsAuthSuccess() bool {
	return e.Type == EventTypeAuthentication && e.Outcome() == OutcomeSuccess
}

// Field resolves a dotted field path against the event's top-level fields
// merged with its attribute map (e.g. "source_ip", "attributes.path.method").
// Returns nil when the path does not resolve.
func (e *SecurityEvent) Field(path string) interface{} {
	top := map[string]interface{}{
		"id":           e.ID,
		"type":         string(e.Type),
		"severity":     string(e.Severity),
		"source":       e.Source,
		"user_id":      e.UserID,
		"site_id":      e.SiteID,
		"session_id":   e.SessionID,
		"source_ip":    e.SourceIP,
		"resource":     e.Resource,
		"threat_score": e.ThreatScore,
		"timestamp":    e.Timestamp,
		"attributes":   e.Attributes,
	}
	for k, v := range e.Attributes {
		if _, shadowed := top[k]; !shadowed {
			top[k] = v
		}
	}
	return lookupPath(top, path)
}

func lookupPath(m map[string]interface{}, path string) interface{} {
	current := m
	for {
		dot := indexDot(path)
		if dot < 0 {
			return current[path]
		}
		next, ok := current[path[:dot]].(map[string]interface{})
		if !ok {
			return nil
		}
		current = next
		path = path[dot+1:]
	}
}

func indexDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}

package core

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IndicatorType represents the type of indicator of compromise
type IndicatorType string

const (
	IndicatorTypeIP        IndicatorType = "ip"
	IndicatorTypeDomain    IndicatorType = "domain"
	IndicatorTypeUserAgent IndicatorType = "user_agent"
	IndicatorTypeHash      IndicatorType = "hash"
	IndicatorTypeEmail     IndicatorType = "email"
	IndicatorTypeURL       IndicatorType = "url"
)

// AllIndicatorTypes returns all valid indicator types for validation
var AllIndicatorTypes = []IndicatorType{
	IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeUserAgent,
	IndicatorTypeHash, IndicatorTypeEmail, IndicatorTypeURL,
}

// IsValid checks if the indicator type is valid
func (t IndicatorType) IsValid() bool {
	for _, valid := range AllIndicatorTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// ThreatIndicator is a known-bad value consulted on every ingested event.
// Indicators past their expiry are deactivated lazily on match and by the
// periodic sweep.
type ThreatIndicator struct {
	ID          string        `json:"id"`
	Type        IndicatorType `json:"type"`
	Value       string        `json:"value"`
	Severity    Severity      `json:"severity"`
	Confidence  int           `json:"confidence"` // 0-100
	Description string        `json:"description,omitempty"`
	Source      string        `json:"source,omitempty"` // feed name or analyst
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	HitCount    int64         `json:"hit_count"`
}

// NewThreatIndicator creates an active indicator with a generated ID
func NewThreatIndicator(indicatorType IndicatorType, value, source string) (*ThreatIndicator, error) {
	if !indicatorType.IsValid() {
		return nil, NewValidationError("type", fmt.Sprintf("invalid indicator type: %s", indicatorType))
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, NewValidationError("value", "indicator value cannot be empty")
	}
	if indicatorType == IndicatorTypeIP && net.ParseIP(value) == nil {
		return nil, NewValidationError("value", "invalid IP address format")
	}
	return &ThreatIndicator{
		ID:         uuid.New().String(),
		Type:       indicatorType,
		Value:      value,
		Severity:   SeverityMedium,
		Confidence: 50,
		Source:     source,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// IsExpired reports whether the indicator is past its expiry.
// Indicators without an expiry never expire.
func (ti *ThreatIndicator) IsExpired() bool {
	return ti.ExpiresAt != nil && time.Now().After(*ti.ExpiresAt)
}

// Validate performs full validation on an indicator
func (ti *ThreatIndicator) Validate() error {
	if ti.ID == "" {
		return NewValidationError("id", "indicator ID is required")
	}
	if !ti.Type.IsValid() {
		return NewValidationError("type", fmt.Sprintf("invalid indicator type: %s", ti.Type))
	}
	if strings.TrimSpace(ti.Value) == "" {
		return NewValidationError("value", "indicator value cannot be empty")
	}
	if !ti.Severity.IsValid() {
		return NewValidationError("severity", fmt.Sprintf("invalid severity: %s", ti.Severity))
	}
	if ti.Confidence < 0 || ti.Confidence > 100 {
		return NewValidationError("confidence", "confidence must be between 0 and 100")
	}
	return nil
}

// IndicatorMatch records a direct hit of an event against an indicator.
// A match is a derived fact and is never stored on the event itself.
type IndicatorMatch struct {
	ID           string    `json:"id"`
	IndicatorID  string    `json:"indicator_id"`
	EventID      string    `json:"event_id"`
	MatchedField string    `json:"matched_field"`
	MatchedValue string    `json:"matched_value"`
	Severity     Severity  `json:"severity"`
	Confidence   int       `json:"confidence"`
	DetectedAt   time.Time `json:"detected_at"`
}

// NewIndicatorMatch creates a new match record
func NewIndicatorMatch(indicator *ThreatIndicator, eventID, matchedField, matchedValue string) *IndicatorMatch {
	return &IndicatorMatch{
		ID:           uuid.New().String(),
		IndicatorID:  indicator.ID,
		EventID:      eventID,
		MatchedField: matchedField,
		MatchedValue: matchedValue,
		Severity:     indicator.Severity,
		Confidence:   indicator.Confidence,
		DetectedAt:   time.Now().UTC(),
	}
}

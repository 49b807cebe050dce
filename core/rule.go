package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConditionOperator is a closed set of comparison operators for rule
// conditions. Conditions are data, never evaluated as code.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpContains    ConditionOperator = "contains"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpRegex       ConditionOperator = "regex"
)

// IsValid checks if the operator is valid
func (o ConditionOperator) IsValid() bool {
	switch o {
	case OpEquals, OpContains, OpGreaterThan, OpLessThan, OpRegex:
		return true
	default:
		return false
	}
}

// Condition is one field/operator/value test. A rule's conditions are
// AND-combined and short-circuit on the first failure.
type Condition struct {
	Field    string            `json:"field" yaml:"field"`
	Operator ConditionOperator `json:"operator" yaml:"operator"`
	Value    interface{}       `json:"value" yaml:"value"`
}

// RuleActionType enumerates the actions a triggered rule may dispatch
type RuleActionType string

const (
	RuleActionEmail          RuleActionType = "EMAIL"
	RuleActionWebhook        RuleActionType = "WEBHOOK"
	RuleActionSlack          RuleActionType = "SLACK"
	RuleActionSMS            RuleActionType = "SMS"
	RuleActionCreateIncident RuleActionType = "CREATE_INCIDENT"
)

// IsValid checks if the rule action type is valid
func (a RuleActionType) IsValid() bool {
	switch a {
	case RuleActionEmail, RuleActionWebhook, RuleActionSlack, RuleActionSMS, RuleActionCreateIncident:
		return true
	default:
		return false
	}
}

// RuleAction is one configured response to a triggered rule
type RuleAction struct {
	Type       RuleActionType `json:"type" yaml:"type"`
	Recipients []string       `json:"recipients,omitempty" yaml:"recipients,omitempty"`
	Target     string         `json:"target,omitempty" yaml:"target,omitempty"` // webhook URL, channel, etc.
}

// AlertRule is a declarative detection rule: AND-combined conditions, a
// time window, a trigger threshold and a per-rule suppression duration.
type AlertRule struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Description     string        `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Conditions      []Condition   `json:"conditions" yaml:"conditions"`
	Window          time.Duration `json:"window" yaml:"window"`
	Threshold       int           `json:"threshold" yaml:"threshold"` // >=N matching events in window
	Severity        Severity      `json:"severity" yaml:"severity"`
	Actions         []RuleAction  `json:"actions" yaml:"actions"`
	SuppressionTime time.Duration `json:"suppression_time,omitempty" yaml:"suppression_time,omitempty"`

	TriggerCount  int64      `json:"trigger_count"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// NewAlertRule creates an enabled rule with a generated ID
func NewAlertRule(name string, conditions []Condition, window time.Duration, threshold int, severity Severity) *AlertRule {
	now := time.Now().UTC()
	return &AlertRule{
		ID:         uuid.New().String(),
		Name:       name,
		Enabled:    true,
		Conditions: conditions,
		Window:     window,
		Threshold:  threshold,
		Severity:   severity,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Validate performs full validation on an alert rule
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name", "rule name is required")
	}
	if len(r.Conditions) == 0 {
		return NewValidationError("conditions", "at least one condition is required")
	}
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return NewValidationError("conditions", fmt.Sprintf("condition %d: field is required", i))
		}
		if !c.Operator.IsValid() {
			return NewValidationError("conditions", fmt.Sprintf("condition %d: invalid operator %q", i, c.Operator))
		}
	}
	if r.Window <= 0 {
		return NewValidationError("window", "window must be positive")
	}
	if r.Threshold < 1 {
		return NewValidationError("threshold", "threshold must be at least 1")
	}
	if !r.Severity.IsValid() {
		return NewValidationError("severity", fmt.Sprintf("invalid severity: %s", r.Severity))
	}
	for i, a := range r.Actions {
		if !a.Type.IsValid() {
			return NewValidationError("actions", fmt.Sprintf("action %d: invalid type %q", i, a.Type))
		}
	}
	if r.SuppressionTime < 0 {
		return NewValidationError("suppression_time", "suppression time cannot be negative")
	}
	return nil
}

// SuppressionKey derives the cooldown key for a triggering event.
// Two bursts from the same rule/user/IP within the suppression window
// produce a single dispatched alert.
func (r *AlertRule) SuppressionKey(event *SecurityEvent) string {
	return fmt.Sprintf("%s:%s:%s", r.ID, event.UserID, event.SourceIP)
}

// TriggeredAlert is the result of a rule firing for an event
type TriggeredAlert struct {
	ID          string         `json:"id"`
	RuleID      string         `json:"rule_id"`
	RuleName    string         `json:"rule_name"`
	EventID     string         `json:"event_id"`
	Severity    Severity       `json:"severity"`
	MatchCount  int            `json:"match_count"` // matching events in the rule window
	Actions     []RuleAction   `json:"actions"`
	Event       *SecurityEvent `json:"event,omitempty"`
	TriggeredAt time.Time      `json:"triggered_at"`
}

// NewTriggeredAlert creates an alert record for a rule firing
func NewTriggeredAlert(rule *AlertRule, event *SecurityEvent, matchCount int) *TriggeredAlert {
	return &TriggeredAlert{
		ID:          uuid.New().String(),
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		EventID:     event.ID,
		Severity:    rule.Severity,
		MatchCount:  matchCount,
		Actions:     rule.Actions,
		Event:       event,
		TriggeredAt: time.Now().UTC(),
	}
}

package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinel/core"
)

const handlerTimeout = 30 * time.Second

// DetectionHandler turns bus detections into incidents. It subscribes the
// manager to the detection bus and carries the severity and category
// mapping from detection payloads to incident inputs.
type DetectionHandler struct {
	manager *Manager
	logger  *zap.SugaredLogger
}

func NewDetectionHandler(manager *Manager, logger *zap.SugaredLogger) *DetectionHandler {
	return &DetectionHandler{manager: manager, logger: logger}
}

// Handle processes one detection. Events the manager logged about itself
// are dropped here so audit logging cannot loop into incident creation.
func (h *DetectionHandler) Handle(detection *core.Detection) {
	if detection.Event != nil {
		if origin, ok := detection.Event.Attributes[OriginAttribute]; ok && origin == OriginIncidentManager {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	input, ok := h.buildInput(detection)
	if !ok {
		return
	}
	inc, err := h.manager.CreateIncident(ctx, input)
	if err != nil {
		h.logger.Errorw("failed to create incident from detection",
			"kind", detection.Kind,
			"error", err)
		return
	}
	h.logger.Infow("incident created from detection",
		"incident_id", inc.ID,
		"kind", detection.Kind)
}

func (h *DetectionHandler) buildInput(detection *core.Detection) (CreateIncidentInput, bool) {
	switch detection.Kind {
	case core.DetectionPattern:
		match := detection.Pattern
		if match == nil {
			return CreateIncidentInput{}, false
		}
		return CreateIncidentInput{
			Title:       fmt.Sprintf("Pattern detected: %s (%s)", match.Pattern, match.CorrelationKey),
			Description: fmt.Sprintf("Correlation pattern %s fired on key %s with %d events. %s", match.Pattern, match.CorrelationKey, len(match.Events), match.Description),
			Severity:    severityFor(match.Severity),
			Category:    categoryForPattern(match.Pattern),
			Reporter:    "correlation-engine",
			Metadata: map[string]interface{}{
				"pattern":         string(match.Pattern),
				"correlation_key": match.CorrelationKey,
				"event_count":     len(match.Events),
			},
		}, true
	case core.DetectionAlert:
		alert := detection.Alert
		if alert == nil {
			return CreateIncidentInput{}, false
		}
		return CreateIncidentInput{
			Title:       fmt.Sprintf("Alert rule triggered: %s", alert.RuleName),
			Description: fmt.Sprintf("Rule %s fired with %d matching events inside its window (event %s).", alert.RuleName, alert.MatchCount, alert.EventID),
			Severity:    severityFor(alert.Severity),
			Category:    core.CategorySecurityBreach,
			Reporter:    "alert-rule-engine",
			Metadata: map[string]interface{}{
				"rule_id":     alert.RuleID,
				"event_id":    alert.EventID,
				"match_count": alert.MatchCount,
			},
		}, true
	case core.DetectionIndicator:
		match := detection.IndicatorMatch
		if match == nil {
			return CreateIncidentInput{}, false
		}
		return CreateIncidentInput{
			Title:       fmt.Sprintf("Threat indicator hit on %s", match.MatchedField),
			Description: fmt.Sprintf("Event %s matched indicator %s on field %s with value %q (confidence %d).", match.EventID, match.IndicatorID, match.MatchedField, match.MatchedValue, match.Confidence),
			Severity:    severityFor(match.Severity),
			Category:    core.CategorySecurityBreach,
			Reporter:    "indicator-matcher",
			Metadata: map[string]interface{}{
				"indicator_id":  match.IndicatorID,
				"matched_field": match.MatchedField,
				"event_id":      match.EventID,
			},
		}, true
	}
	return CreateIncidentInput{}, false
}

// severityFor maps event severities onto the incident priority ladder
func severityFor(s core.Severity) core.IncidentSeverity {
	switch s {
	case core.SeverityCritical:
		return core.IncidentSeverityP1
	case core.SeverityHigh:
		return core.IncidentSeverityP2
	case core.SeverityMedium:
		return core.IncidentSeverityP3
	default:
		return core.IncidentSeverityP4
	}
}

func categoryForPattern(p core.PatternType) core.IncidentCategory {
	switch p {
	case core.PatternExfiltration:
		return core.CategoryDataLeak
	case core.PatternBruteForce, core.PatternPrivilegeEscalation, core.PatternVelocity:
		return core.CategorySecurityBreach
	default:
		return core.CategoryOther
	}
}

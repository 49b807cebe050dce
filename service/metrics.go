package service

import (
	"context"
	"fmt"
	"time"

	"sentinel/core"
	"sentinel/storage"
)

// SecurityMetricsReport is a point-in-time summary over a trailing window
type SecurityMetricsReport struct {
	TimeRange time.Duration `json:"time_range"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`

	TotalEvents  int64                    `json:"total_events"`
	EventsByType map[core.EventType]int64 `json:"events_by_type"`

	IncidentsInRange    int                           `json:"incidents_in_range"`
	IncidentsByStatus   map[core.IncidentStatus]int   `json:"incidents_by_status"`
	IncidentsBySeverity map[core.IncidentSeverity]int `json:"incidents_by_severity"`
	OpenIncidents       int                           `json:"open_incidents"`
	EscalatedIncidents  int                           `json:"escalated_incidents"`

	AvgResponseMinutes   float64 `json:"avg_response_minutes"`
	AvgResolutionMinutes float64 `json:"avg_resolution_minutes"`

	ActiveIndicators  int `json:"active_indicators"`
	CorrelationGroups int `json:"correlation_groups"`
}

// GetSecurityMetrics aggregates event and incident statistics for the
// trailing timeRange.
func (e *Engine) GetSecurityMetrics(ctx context.Context, timeRange time.Duration) (*SecurityMetricsReport, error) {
	if timeRange <= 0 {
		return nil, core.NewValidationError("time_range", "time range must be positive")
	}
	now := time.Now().UTC()
	since := now.Add(-timeRange)

	report := &SecurityMetricsReport{
		TimeRange:           timeRange,
		From:                since,
		To:                  now,
		IncidentsByStatus:   make(map[core.IncidentStatus]int),
		IncidentsBySeverity: make(map[core.IncidentSeverity]int),
		CorrelationGroups:   e.correlator.GroupCount(),
	}

	counts, err := e.store.CountByType(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	report.EventsByType = counts
	for _, n := range counts {
		report.TotalEvents += n
	}

	incidents, err := e.store.ListIncidents(ctx, storage.IncidentFilters{Since: &since})
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	report.IncidentsInRange = len(incidents)

	var responded, resolved int
	var responseSum, resolutionSum int
	for _, inc := range incidents {
		report.IncidentsByStatus[inc.Status]++
		report.IncidentsBySeverity[inc.Severity]++
		if !inc.Status.IsTerminalOrResolved() {
			report.OpenIncidents++
		}
		if inc.Escalated {
			report.EscalatedIncidents++
		}
		if inc.AcknowledgedAt != nil {
			responded++
			responseSum += inc.ResponseTime
		}
		if inc.ResolvedAt != nil {
			resolved++
			resolutionSum += inc.ResolutionTime
		}
	}
	if responded > 0 {
		report.AvgResponseMinutes = float64(responseSum) / float64(responded)
	}
	if resolved > 0 {
		report.AvgResolutionMinutes = float64(resolutionSum) / float64(resolved)
	}

	report.ActiveIndicators = len(e.matcher.Indicators())
	return report, nil
}

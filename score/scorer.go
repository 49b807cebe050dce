// Package score computes the bounded threat score for ingested security
// events. Scoring is a pure combinator over the event and the contextual
// signal providers; a failing provider degrades to a zero contribution.
package score

import (
	"context"

	"go.uber.org/zap"

	"sentinel/core"
)

// Context signal providers. Implementations are external collaborators;
// each returns an additive score contribution for the event.
type (
	// IPReputationProvider scores the reputation of a source IP (0 = clean)
	IPReputationProvider interface {
		Reputation(ctx context.Context, ip string) (int, error)
	}

	// UserRiskProvider scores the behavioral risk of a user (0 = baseline)
	UserRiskProvider interface {
		Risk(ctx context.Context, userID string) (int, error)
	}

	// GeoAnomalyProvider scores geographic anomalies for a user/IP pair
	GeoAnomalyProvider interface {
		Anomaly(ctx context.Context, userID, ip string) (int, error)
	}
)

// Score bounds
const (
	MinScore = 0
	MaxScore = 100

	// OffHoursBonus is added for events between 22:00 and 06:00 local time
	OffHoursBonus = 10
)

// baseScores is the per-event-type starting score
var baseScores = map[core.EventType]int{
	core.EventTypeAuthentication:      10,
	core.EventTypeAuthorization:       10,
	core.EventTypeDataAccess:          15,
	core.EventTypeFileOperation:       15,
	core.EventTypeAdminOperation:      25,
	core.EventTypeAPIAccess:           5,
	core.EventTypeSystemOperation:     5,
	core.EventTypeThreatDetected:      40,
	core.EventTypeAnomalyDetected:     30,
	core.EventTypeComplianceViolation: 20,
	core.EventTypeSecurityAlert:       35,
}

// severityMultiplier scales the base score by event severity
func severityMultiplier(s core.Severity) float64 {
	switch s {
	case core.SeverityLow:
		return 1.5
	case core.SeverityMedium:
		return 2.0
	case core.SeverityHigh:
		return 2.5
	case core.SeverityCritical:
		return 3.0
	default:
		return 1.0
	}
}

// Scorer turns a raw event plus contextual signals into a threat score
type Scorer struct {
	ipReputation IPReputationProvider
	userRisk     UserRiskProvider
	geoAnomaly   GeoAnomalyProvider
	logger       *zap.SugaredLogger
}

// NewScorer creates a scorer. Any provider may be nil; missing providers
// contribute zero.
func NewScorer(ipRep IPReputationProvider, userRisk UserRiskProvider, geo GeoAnomalyProvider, logger *zap.SugaredLogger) *Scorer {
	return &Scorer{
		ipReputation: ipRep,
		userRisk:     userRisk,
		geoAnomaly:   geo,
		logger:       logger,
	}
}

// Score computes the event's threat score, clamped to [0,100].
// Deterministic given the same event and provider responses.
func (s *Scorer) Score(ctx context.Context, event *core.SecurityEvent) int {
	base := baseScores[event.Type]
	score := float64(base) * severityMultiplier(event.Severity)

	score += float64(s.ipContribution(ctx, event))
	score += float64(s.userContribution(ctx, event))
	score += float64(s.geoContribution(ctx, event))

	hour := event.Timestamp.Local().Hour()
	if hour >= 22 || hour < 6 {
		score += OffHoursBonus
	}

	result := int(score)
	if result > MaxScore {
		return MaxScore
	}
	if result < MinScore {
		return MinScore
	}
	return result
}

func (s *Scorer) ipContribution(ctx context.Context, event *core.SecurityEvent) int {
	if s.ipReputation == nil || event.SourceIP == "" {
		return 0
	}
	v, err := s.ipReputation.Reputation(ctx, event.SourceIP)
	if err != nil {
		s.logger.Warnf("IP reputation lookup failed for %s: %v", event.SourceIP, err)
		return 0
	}
	return v
}

func (s *Scorer) userContribution(ctx context.Context, event *core.SecurityEvent) int {
	if s.userRisk == nil || event.UserID == "" {
		return 0
	}
	v, err := s.userRisk.Risk(ctx, event.UserID)
	if err != nil {
		s.logger.Warnf("User risk lookup failed for %s: %v", event.UserID, err)
		return 0
	}
	return v
}

func (s *Scorer) geoContribution(ctx context.Context, event *core.SecurityEvent) int {
	if s.geoAnomaly == nil || event.SourceIP == "" {
		return 0
	}
	v, err := s.geoAnomaly.Anomaly(ctx, event.UserID, event.SourceIP)
	if err != nil {
		s.logger.Warnf("Geo anomaly lookup failed for %s/%s: %v", event.UserID, event.SourceIP, err)
		return 0
	}
	return v
}

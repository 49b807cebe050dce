// Package service wires the detection pipeline together and exposes the
// engine's operations to callers. All dependencies are injected; the
// package holds no globals.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentinel/bus"
	"sentinel/core"
	"sentinel/correlate"
	"sentinel/detect"
	"sentinel/incident"
	"sentinel/metrics"
	"sentinel/storage"
	"sentinel/threat"
)

const cacheTTL = time.Hour

// Scorer computes the threat score for one event
type Scorer interface {
	Score(ctx context.Context, event *core.SecurityEvent) int
}

// Engine is the facade over scoring, matching, correlation, alerting and
// the incident lifecycle.
type Engine struct {
	store      storage.Store
	cache      *core.RedisCache // optional
	dedup      *core.Deduplicator
	scorer     Scorer
	matcher    *threat.Matcher
	correlator *correlate.Engine
	rules      *detect.RuleEngine
	bus        *bus.DetectionBus
	incidents  *incident.Manager
	pool       *core.WorkerPool
	logger     *zap.SugaredLogger
}

// EngineConfig bundles the engine's collaborators. Cache may be nil.
type EngineConfig struct {
	Store      storage.Store
	Cache      *core.RedisCache
	Dedup      *core.Deduplicator
	Scorer     Scorer
	Matcher    *threat.Matcher
	Correlator *correlate.Engine
	Rules      *detect.RuleEngine
	Bus        *bus.DetectionBus
	Incidents  *incident.Manager
	Pool       *core.WorkerPool
	Logger     *zap.SugaredLogger
}

// NewEngine assembles the pipeline
func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		store:      cfg.Store,
		cache:      cfg.Cache,
		dedup:      cfg.Dedup,
		scorer:     cfg.Scorer,
		matcher:    cfg.Matcher,
		correlator: cfg.Correlator,
		rules:      cfg.Rules,
		bus:        cfg.Bus,
		incidents:  cfg.Incidents,
		pool:       cfg.Pool,
		logger:     cfg.Logger,
	}
}

// IngestEvent runs one event through the pipeline: dedup, score, persist,
// then indicator matching, correlation and rule evaluation concurrently.
// Detections land on the bus for the incident pipeline.
func (e *Engine) IngestEvent(ctx context.Context, event *core.SecurityEvent) error {
	start := time.Now()
	if event == nil {
		return core.NewValidationError("event", "event is nil")
	}
	if !event.Type.IsValid() {
		return core.NewValidationError("type", fmt.Sprintf("invalid event type: %s", event.Type))
	}
	if !event.Severity.IsValid() {
		return core.NewValidationError("severity", fmt.Sprintf("invalid severity: %s", event.Severity))
	}

	if e.dedup.IsDuplicate(event) {
		metrics.EventsDeduplicated.Inc()
		e.logger.Debugw("duplicate event dropped", "event_id", event.ID)
		return nil
	}

	event.ThreatScore = e.scorer.Score(ctx, event)
	event.Processed = true

	if err := e.store.SaveEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}
	if e.cache != nil {
		if err := e.cache.CacheEvent(ctx, event, cacheTTL); err != nil {
			e.logger.Warnw("event cache write failed", "event_id", event.ID, "error", err)
		}
	}
	metrics.EventsIngested.WithLabelValues(string(event.Type)).Inc()

	// The three detection stages are independent; each runs on the worker
	// pool and publishes its own findings.
	e.submit(func() { e.runIndicatorMatch(ctx, event) })
	e.submit(func() { e.runCorrelation(event) })
	e.submit(func() { e.runRuleEvaluation(ctx, event) })

	metrics.EventProcessingDuration.Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) submit(task func()) {
	if err := e.pool.Submit(task); err != nil {
		e.logger.Warnw("worker pool rejected task, running inline", "error", err)
		task()
	}
}

func (e *Engine) runIndicatorMatch(ctx context.Context, event *core.SecurityEvent) {
	for _, match := range e.matcher.Match(event) {
		if err := e.store.IncrementHitCount(ctx, match.IndicatorID); err != nil {
			e.logger.Warnw("failed to record indicator hit", "indicator_id", match.IndicatorID, "error", err)
		}
		e.bus.Publish(&core.Detection{
			Kind:           core.DetectionIndicator,
			IndicatorMatch: match,
			Event:          event,
		})
	}
}

func (e *Engine) runCorrelation(event *core.SecurityEvent) {
	for _, match := range e.correlator.Observe(event) {
		e.bus.Publish(&core.Detection{
			Kind:    core.DetectionPattern,
			Pattern: match,
			Event:   event,
		})
	}
}

func (e *Engine) runRuleEvaluation(ctx context.Context, event *core.SecurityEvent) {
	// Triggered alerts dispatch their own notification actions inside the
	// rule engine; CREATE_INCIDENT actions arrive on the bus.
	e.rules.Evaluate(ctx, event)
}

// GetEvent retrieves one processed event, consulting the hot-event cache
// before the durable store.
func (e *Engine) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	if e.cache != nil {
		if event, ok := e.cache.GetEvent(ctx, id); ok {
			return event, nil
		}
	}
	return e.store.GetEvent(ctx, id)
}

// CreateIndicator validates and persists a threat indicator, then pushes
// the refreshed active set to the matcher so it takes effect immediately.
func (e *Engine) CreateIndicator(ctx context.Context, indicator *core.ThreatIndicator) error {
	if err := indicator.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveIndicator(ctx, indicator); err != nil {
		return fmt.Errorf("failed to persist indicator: %w", err)
	}
	active, err := e.store.ListActive(ctx)
	if err != nil {
		e.logger.Warnw("indicator snapshot refresh failed", "error", err)
		return nil
	}
	e.matcher.SetIndicators(active)
	return nil
}

// CreateAlertRule validates and persists a rule and reloads the rule
// engine snapshot.
func (e *Engine) CreateAlertRule(ctx context.Context, rule *core.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return fmt.Errorf("failed to persist rule: %w", err)
	}
	return e.rules.ReloadRules(ctx)
}

// CreateIncident opens an incident manually
func (e *Engine) CreateIncident(ctx context.Context, input incident.CreateIncidentInput) (*core.Incident, error) {
	return e.incidents.CreateIncident(ctx, input)
}

// UpdateIncident applies partial updates to an incident
func (e *Engine) UpdateIncident(ctx context.Context, incidentID string, input incident.UpdateIncidentInput) (*core.Incident, error) {
	return e.incidents.UpdateIncident(ctx, incidentID, input)
}

// ExecuteIncidentAction runs (or confirms) one incident action
func (e *Engine) ExecuteIncidentAction(ctx context.Context, incidentID, actionID string) error {
	return e.incidents.ExecuteIncidentAction(ctx, incidentID, actionID)
}

// SendIncidentCommunication dispatches a stakeholder communication
func (e *Engine) SendIncidentCommunication(ctx context.Context, incidentID string, commType core.CommunicationType, channel string, recipients []string, title, message string) (*core.Communication, error) {
	return e.incidents.SendIncidentCommunication(ctx, incidentID, commType, channel, recipients, title, message)
}

// GetIncident loads one incident
func (e *Engine) GetIncident(ctx context.Context, incidentID string) (*core.Incident, error) {
	return e.incidents.GetIncident(ctx, incidentID)
}

// ListIncidents returns incidents matching the filters
func (e *Engine) ListIncidents(ctx context.Context, filters storage.IncidentFilters) ([]*core.Incident, error) {
	return e.incidents.ListIncidents(ctx, filters)
}

// IngestEvent implements incident.EventIngester so the incident manager
// can feed its audit events back through the pipeline.
var _ incident.EventIngester = (*Engine)(nil)

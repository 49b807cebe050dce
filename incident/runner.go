package incident

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sentinel/core"
)

// WebhookActionRunner executes response actions by POSTing them to an
// external automation endpoint (the script runner service). The endpoint
// is expected to run the named playbook step and answer 2xx.
type WebhookActionRunner struct {
	endpoint string
	client   *http.Client
	logger   *zap.SugaredLogger
}

func NewWebhookActionRunner(endpoint string, timeout time.Duration, logger *zap.SugaredLogger) *WebhookActionRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookActionRunner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

func (r *WebhookActionRunner) Execute(ctx context.Context, actionType string, incident *core.Incident) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"action":           actionType,
		"incident_id":      incident.ID,
		"severity":         incident.Severity,
		"category":         incident.Category,
		"affected_systems": incident.AffectedSystems,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal action payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("action endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("action endpoint returned status %d", resp.StatusCode)
	}
	return fmt.Sprintf("action %s accepted by runner", actionType), nil
}

// LogActionRunner records actions in the log only. Used when no runner
// endpoint is configured so automated actions still complete their
// lifecycle in development setups.
type LogActionRunner struct {
	logger *zap.SugaredLogger
}

func NewLogActionRunner(logger *zap.SugaredLogger) *LogActionRunner {
	return &LogActionRunner{logger: logger}
}

func (r *LogActionRunner) Execute(ctx context.Context, actionType string, incident *core.Incident) (string, error) {
	r.logger.Infow("action executed (log only)",
		"action", actionType,
		"incident_id", incident.ID)
	return fmt.Sprintf("logged action %s", actionType), nil
}

// StaticCommanderAssigner picks commanders from a fixed severity roster
type StaticCommanderAssigner struct {
	Roster  map[core.IncidentSeverity]string
	Default string
}

func NewStaticCommanderAssigner(roster map[core.IncidentSeverity]string, fallback string) *StaticCommanderAssigner {
	if fallback == "" {
		fallback = "oncall-security"
	}
	return &StaticCommanderAssigner{Roster: roster, Default: fallback}
}

func (a *StaticCommanderAssigner) Assign(ctx context.Context, severity core.IncidentSeverity) (string, error) {
	if commander, ok := a.Roster[severity]; ok && commander != "" {
		return commander, nil
	}
	return a.Default, nil
}

// LogReviewScheduler logs review requests; a calendar integration slots
// in behind the same interface.
type LogReviewScheduler struct {
	logger *zap.SugaredLogger
}

func NewLogReviewScheduler(logger *zap.SugaredLogger) *LogReviewScheduler {
	return &LogReviewScheduler{logger: logger}
}

func (s *LogReviewScheduler) SchedulePostIncidentReview(ctx context.Context, incident *core.Incident) error {
	s.logger.Infow("post-incident review requested",
		"incident_id", incident.ID,
		"severity", incident.Severity,
		"resolution_minutes", incident.ResolutionTime)
	return nil
}

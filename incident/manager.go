package incident

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/metrics"
	"sentinel/notify"
	"sentinel/storage"
)

// Attribute key and value marking events the manager emits about itself.
// The detection pipeline must never open a new incident for these.
const (
	OriginAttribute       = "origin"
	OriginIncidentManager = "incident_manager"
)

const systemActor = "system"

// allowed communication channels, matching notify channel names
var validChannels = map[string]notify.Channel{
	"EMAIL":   notify.ChannelEmail,
	"WEBHOOK": notify.ChannelWebhook,
	"SLACK":   notify.ChannelSlack,
	"SMS":     notify.ChannelSMS,
}

// CreateIncidentInput is the validated request to open an incident
type CreateIncidentInput struct {
	Title           string                 `validate:"required,min=10"`
	Description     string                 `validate:"required,min=20"`
	Severity        core.IncidentSeverity  `validate:"required"`
	Category        core.IncidentCategory  `validate:"required"`
	Reporter        string                 `validate:"omitempty,max=128"`
	AffectedSystems []string               `validate:"omitempty,dive,required"`
	Metadata        map[string]interface{} `validate:"-"`
}

// UpdateIncidentInput carries partial updates; nil fields are untouched
type UpdateIncidentInput struct {
	Status         *core.IncidentStatus
	AssignedTo     *string
	Priority       *int
	ProgressNote   *string
	Resolution     *string
	LessonsLearned *string
	Metadata       map[string]interface{}
	Actor          string
}

// Manager drives the incident lifecycle. One lock per incident serializes
// its mutations; collaborator calls run with the lock released and their
// outcomes are applied in a second locked pass.
type Manager struct {
	store     storage.IncidentStore
	notifier  notify.Notifier
	runner    ActionRunner
	assigner  CommanderAssigner
	reviews   ReviewScheduler
	ingester  EventIngester
	cache     SnapshotCache
	cacheTTL  time.Duration
	policies  map[core.IncidentSeverity]SeverityPolicy
	playbooks map[core.IncidentCategory][]PlaybookAction
	validate  *validator.Validate
	logger    *zap.SugaredLogger

	escalations *escalationScheduler

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// ManagerConfig bundles the manager's collaborators. Policies and
// Playbooks fall back to the built-in defaults when nil. Ingester may be
// nil to disable audit self-logging; Cache may be nil to read straight
// from the store.
type ManagerConfig struct {
	Store     storage.IncidentStore
	Notifier  notify.Notifier
	Runner    ActionRunner
	Assigner  CommanderAssigner
	Reviews   ReviewScheduler
	Ingester  EventIngester
	Cache     SnapshotCache
	CacheTTL  time.Duration
	Policies  map[core.IncidentSeverity]SeverityPolicy
	Playbooks map[core.IncidentCategory][]PlaybookAction
	Logger    *zap.SugaredLogger
}

// NewManager creates an incident lifecycle manager
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Policies == nil {
		cfg.Policies = DefaultSeverityPolicies()
	}
	if cfg.Playbooks == nil {
		cfg.Playbooks = DefaultPlaybooks()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Manager{
		store:       cfg.Store,
		notifier:    cfg.Notifier,
		runner:      cfg.Runner,
		assigner:    cfg.Assigner,
		reviews:     cfg.Reviews,
		ingester:    cfg.Ingester,
		cache:       cfg.Cache,
		cacheTTL:    cfg.CacheTTL,
		policies:    cfg.Policies,
		playbooks:   cfg.Playbooks,
		validate:    validator.New(),
		logger:      cfg.Logger,
		escalations: newEscalationScheduler(),
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetIngester installs the audit event sink. Used at wiring time when the
// ingesting engine is constructed after the manager.
func (m *Manager) SetIngester(ingester EventIngester) {
	m.ingester = ingester
}

func (m *Manager) lockFor(incidentID string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	mu, ok := m.locks[incidentID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[incidentID] = mu
	}
	return mu
}

// withIncident runs fn on the loaded incident under its lock and persists
// the result. fn must not perform collaborator I/O.
func (m *Manager) withIncident(ctx context.Context, incidentID string, fn func(*core.Incident) error) (*core.Incident, error) {
	mu := m.lockFor(incidentID)
	mu.Lock()
	defer mu.Unlock()

	inc, err := m.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if err := fn(inc); err != nil {
		return nil, err
	}
	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to persist incident %s: %w", incidentID, err)
	}
	m.refreshSnapshot(ctx, inc)
	return inc, nil
}

// refreshSnapshot writes the incident back to the cache, best effort
func (m *Manager) refreshSnapshot(ctx context.Context, inc *core.Incident) {
	if m.cache == nil {
		return
	}
	if err := m.cache.CacheIncident(ctx, inc, m.cacheTTL); err != nil {
		m.logger.Warnw("incident cache refresh failed", "incident_id", inc.ID, "error", err)
	}
}

// CreateIncident validates the input, opens the incident and runs the
// creation side effects: commander assignment, playbook actions, DECLARED
// communication, escalation timer and the audit self-log. Validation
// errors abort creation; side-effect failures are recorded on the
// incident's timeline and never fail the call.
func (m *Manager) CreateIncident(ctx context.Context, input CreateIncidentInput) (*core.Incident, error) {
	if err := m.validate.Struct(input); err != nil {
		return nil, core.NewValidationError("input", err.Error())
	}

	inc, err := core.NewIncident(input.Title, input.Description, input.Severity, input.Category, input.Reporter)
	if err != nil {
		return nil, err
	}
	inc.AffectedSystems = input.AffectedSystems
	for k, v := range input.Metadata {
		inc.Metadata[k] = v
	}

	if commander, err := m.assigner.Assign(ctx, inc.Severity); err != nil {
		m.logger.Warnw("commander assignment failed", "incident_id", inc.ID, "error", err)
	} else {
		inc.Commander = commander
	}

	inc.AppendTimeline(systemActor, core.TimelineCreated,
		fmt.Sprintf("Incident created with severity %s, category %s", inc.Severity, inc.Category), nil)

	for _, step := range m.playbooks[inc.Category] {
		action := core.NewIncidentAction(inc.ID, step.Type, step.Automated, step.ConfirmationRequired)
		action.Description = describeAction(step)
		inc.Actions = append(inc.Actions, *action)
	}

	if err := m.store.SaveIncident(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to persist new incident: %w", err)
	}
	m.refreshSnapshot(ctx, inc)
	metrics.IncidentsCreated.WithLabelValues(string(inc.Severity), string(inc.Category)).Inc()
	m.logger.Infow("incident created",
		"incident_id", inc.ID,
		"severity", inc.Severity,
		"category", inc.Category,
		"commander", inc.Commander)

	// Side effects run against the persisted incident so their outcomes
	// land on the durable timeline.
	m.runAutomatedActions(ctx, inc.ID)

	policy := m.policies[inc.Severity]
	m.dispatchCommunication(ctx, inc.ID, core.CommDeclared, policy.Channel, policy.Stakeholders,
		fmt.Sprintf("Incident declared: %s", inc.Title),
		fmt.Sprintf("%s (%s/%s)\n%s", inc.ID, inc.Severity, inc.Category, inc.Description))

	if policy.AutoEscalate {
		m.armEscalation(inc.ID, policy.EscalationTime)
	}

	m.logSelfEvent(ctx, inc, "incident_created")

	final, err := m.store.GetIncident(ctx, inc.ID)
	if err != nil {
		return inc, nil
	}
	return final, nil
}

// runAutomatedActions executes every automated, confirmation-free pending
// action. Each failure is isolated to its own action.
func (m *Manager) runAutomatedActions(ctx context.Context, incidentID string) {
	inc, err := m.store.GetIncident(ctx, incidentID)
	if err != nil {
		m.logger.Errorw("failed to load incident for automated actions", "incident_id", incidentID, "error", err)
		return
	}
	for _, action := range inc.Actions {
		if !action.Automated || action.ConfirmationRequired || action.Status != core.ActionStatusPending {
			continue
		}
		if err := m.ExecuteIncidentAction(ctx, incidentID, action.ID); err != nil {
			m.logger.Errorw("automated action failed",
				"incident_id", incidentID,
				"action_id", action.ID,
				"action_type", action.Type,
				"error", err)
		}
	}
}

// UpdateIncident applies partial updates, writing exactly one timeline
// entry per changed field. A first transition into RESOLVED cancels the
// escalation timer, sends the resolution communication and schedules the
// post-incident review.
func (m *Manager) UpdateIncident(ctx context.Context, incidentID string, input UpdateIncidentInput) (*core.Incident, error) {
	actor := input.Actor
	if actor == "" {
		actor = systemActor
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, core.NewValidationError("status", fmt.Sprintf("invalid incident status: %s", *input.Status))
	}

	var firstResolve bool
	inc, err := m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		if input.Status != nil && *input.Status != inc.Status {
			from := inc.Status
			firstResolve = inc.ApplyStatus(*input.Status)
			var meta map[string]interface{}
			if firstResolve {
				meta = map[string]interface{}{"resolution_minutes": inc.ResolutionTime}
			}
			inc.AppendTimeline(actor, core.TimelineStatusChanged,
				fmt.Sprintf("Status changed from %s to %s", from, *input.Status), meta)
		}
		if input.AssignedTo != nil && *input.AssignedTo != inc.AssignedTo {
			inc.AssignedTo = *input.AssignedTo
			inc.AppendTimeline(actor, core.TimelineAssigned,
				fmt.Sprintf("Assigned to %s", *input.AssignedTo), nil)
		}
		if input.Priority != nil && *input.Priority != inc.Priority {
			if *input.Priority < 1 || *input.Priority > 5 {
				return core.NewValidationError("priority", "priority must be between 1 and 5")
			}
			inc.AppendTimeline(actor, core.TimelinePriorityChange,
				fmt.Sprintf("Priority changed from %d to %d", inc.Priority, *input.Priority), nil)
			inc.Priority = *input.Priority
		}
		if input.ProgressNote != nil && strings.TrimSpace(*input.ProgressNote) != "" {
			inc.AppendTimeline(actor, core.TimelineProgressNote, *input.ProgressNote, nil)
		}
		if input.Resolution != nil {
			inc.Resolution = *input.Resolution
		}
		if input.LessonsLearned != nil {
			inc.LessonsLearned = *input.LessonsLearned
		}
		if len(input.Metadata) > 0 {
			for k, v := range input.Metadata {
				inc.Metadata[k] = v
			}
			inc.AppendTimeline(actor, core.TimelineMetadataMerged,
				fmt.Sprintf("Merged %d metadata keys", len(input.Metadata)), nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if firstResolve {
		if m.escalations.Cancel(incidentID) {
			m.logger.Debugw("escalation timer cancelled on resolution", "incident_id", incidentID)
		}
		policy := m.policies[inc.Severity]
		m.dispatchCommunication(ctx, incidentID, core.CommResolution, policy.Channel, policy.Stakeholders,
			fmt.Sprintf("Incident resolved: %s", inc.Title),
			fmt.Sprintf("%s resolved after %d minutes.\n%s", inc.ID, inc.ResolutionTime, inc.Resolution))
		if err := m.reviews.SchedulePostIncidentReview(ctx, inc); err != nil {
			m.logger.Warnw("post-incident review scheduling failed", "incident_id", incidentID, "error", err)
			m.recordFailure(ctx, incidentID, core.TimelineCommFailed,
				fmt.Sprintf("Post-incident review scheduling failed: %v", err))
		}
		m.logSelfEvent(ctx, inc, "incident_resolved")
	}
	return inc, nil
}

// ExecuteIncidentAction runs one action through the action runner.
// Actions already in a terminal state are left untouched, making retries
// idempotent. Calling this for a confirmation-gated action is the
// confirmation.
func (m *Manager) ExecuteIncidentAction(ctx context.Context, incidentID, actionID string) error {
	var actionType string
	alreadyDone := false
	_, err := m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		action := inc.FindAction(actionID)
		if action == nil {
			return fmt.Errorf("action %s: %w", actionID, core.ErrNotFound)
		}
		if action.Status.IsTerminal() {
			alreadyDone = true
			return nil
		}
		now := time.Now().UTC()
		action.Status = core.ActionStatusInProgress
		action.StartedAt = &now
		actionType = action.Type
		return nil
	})
	if err != nil || alreadyDone {
		return err
	}

	// Runner I/O happens without the incident lock.
	snapshot, err := m.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	result, runErr := m.runner.Execute(ctx, actionType, snapshot)

	_, err = m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		action := inc.FindAction(actionID)
		if action == nil {
			return fmt.Errorf("action %s: %w", actionID, core.ErrNotFound)
		}
		now := time.Now().UTC()
		action.CompletedAt = &now
		if runErr != nil {
			action.Status = core.ActionStatusFailed
			action.Result = runErr.Error()
			inc.AppendTimeline(systemActor, core.TimelineActionFailed,
				fmt.Sprintf("Action %s failed: %v", action.Type, runErr), nil)
		} else {
			action.Status = core.ActionStatusCompleted
			action.Result = result
			inc.AppendTimeline(systemActor, core.TimelineActionExecuted,
				fmt.Sprintf("Action %s completed", action.Type), nil)
		}
		metrics.ActionsExecuted.WithLabelValues(action.Type, string(action.Status)).Inc()
		return nil
	})
	if err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("action %s failed: %w", actionType, runErr)
	}
	return nil
}

// SendIncidentCommunication persists a PENDING communication, dispatches
// it and records the outcome. A dispatch failure marks the record FAILED
// but does not fail the call.
func (m *Manager) SendIncidentCommunication(ctx context.Context, incidentID string, commType core.CommunicationType, channel string, recipients []string, title, message string) (*core.Communication, error) {
	channel = strings.ToUpper(channel)
	if _, ok := validChannels[channel]; !ok {
		return nil, core.NewValidationError("channel", fmt.Sprintf("unknown channel: %s", channel))
	}
	if len(recipients) == 0 {
		return nil, core.NewValidationError("recipients", "at least one recipient is required")
	}
	return m.dispatchCommunication(ctx, incidentID, commType, channel, recipients, title, message)
}

// dispatchCommunication implements the PENDING -> SENT/FAILED flow
func (m *Manager) dispatchCommunication(ctx context.Context, incidentID string, commType core.CommunicationType, channel string, recipients []string, title, message string) (*core.Communication, error) {
	comm := core.Communication{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Type:       commType,
		Channel:    channel,
		Recipients: recipients,
		Title:      title,
		Message:    message,
		Status:     core.CommStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	var severity core.IncidentSeverity
	_, err := m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		inc.Communications = append(inc.Communications, comm)
		severity = inc.Severity
		return nil
	})
	if err != nil {
		return nil, err
	}

	sendErr := m.notifier.Send(ctx, notify.Message{
		Channel:    validChannels[channel],
		Recipients: recipients,
		Title:      title,
		Body:       message,
		Severity:   string(severity),
	})

	_, err = m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		for i := range inc.Communications {
			if inc.Communications[i].ID != comm.ID {
				continue
			}
			if sendErr != nil {
				inc.Communications[i].Status = core.CommStatusFailed
				inc.Communications[i].Error = sendErr.Error()
				inc.AppendTimeline(systemActor, core.TimelineCommFailed,
					fmt.Sprintf("%s communication via %s failed: %v", commType, channel, sendErr), nil)
			} else {
				now := time.Now().UTC()
				inc.Communications[i].Status = core.CommStatusSent
				inc.Communications[i].SentAt = &now
				inc.AppendTimeline(systemActor, core.TimelineCommSent,
					fmt.Sprintf("%s communication sent via %s to %d recipients", commType, channel, len(recipients)), nil)
			}
			comm = inc.Communications[i]
			return nil
		}
		return fmt.Errorf("communication %s vanished from incident %s", comm.ID, incidentID)
	})
	if err != nil {
		return nil, err
	}
	if sendErr != nil {
		m.logger.Errorw("communication dispatch failed",
			"incident_id", incidentID,
			"type", commType,
			"channel", channel,
			"error", sendErr)
	}
	return &comm, nil
}

// GetIncident loads one incident, consulting the snapshot cache before
// the store. A store read on a cache miss backfills the snapshot.
func (m *Manager) GetIncident(ctx context.Context, incidentID string) (*core.Incident, error) {
	if m.cache != nil {
		if inc, ok := m.cache.GetIncident(ctx, incidentID); ok {
			return inc, nil
		}
	}
	inc, err := m.store.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.refreshSnapshot(ctx, inc)
	return inc, nil
}

// ListIncidents returns incidents matching the filters
func (m *Manager) ListIncidents(ctx context.Context, filters storage.IncidentFilters) ([]*core.Incident, error) {
	return m.store.ListIncidents(ctx, filters)
}

// armEscalation schedules the one-shot escalation timer
func (m *Manager) armEscalation(incidentID string, after time.Duration) {
	if after < 0 {
		after = 0
	}
	m.escalations.Arm(incidentID, after, func() {
		m.fireEscalation(context.Background(), incidentID)
	})
	m.logger.Debugw("escalation timer armed", "incident_id", incidentID, "after", after)
}

// fireEscalation raises the incident's urgency unless it was resolved or
// already escalated in the meantime.
func (m *Manager) fireEscalation(ctx context.Context, incidentID string) {
	var skipped bool
	inc, err := m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		if inc.Status.IsTerminalOrResolved() || inc.Escalated {
			skipped = true
			return nil
		}
		inc.Escalated = true
		inc.AppendTimeline(systemActor, core.TimelineEscalated,
			"Incident unresolved at escalation deadline", nil)
		return nil
	})
	if err != nil {
		m.logger.Errorw("escalation failed", "incident_id", incidentID, "error", err)
		return
	}
	if skipped {
		return
	}

	metrics.IncidentEscalations.Inc()
	m.logger.Warnw("incident escalated", "incident_id", incidentID, "severity", inc.Severity)

	policy := m.policies[inc.Severity]
	stakeholders := policy.EscalatedStakeholders
	if len(stakeholders) == 0 {
		stakeholders = policy.Stakeholders
	}
	m.dispatchCommunication(ctx, incidentID, core.CommEscalation, policy.Channel, stakeholders,
		fmt.Sprintf("Incident escalated: %s", inc.Title),
		fmt.Sprintf("%s has not been resolved within its escalation window.", inc.ID))
	m.logSelfEvent(ctx, inc, "incident_escalated")
}

// RearmOpenIncidents re-arms escalation timers for open incidents after a
// restart. Overdue incidents escalate immediately.
func (m *Manager) RearmOpenIncidents(ctx context.Context) error {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open incidents: %w", err)
	}
	rearmed := 0
	for _, inc := range open {
		policy := m.policies[inc.Severity]
		if !policy.AutoEscalate || inc.Escalated {
			continue
		}
		remaining := policy.EscalationTime - time.Since(inc.CreatedAt)
		m.armEscalation(inc.ID, remaining)
		rearmed++
	}
	m.logger.Infow("escalation timers re-armed", "open_incidents", len(open), "rearmed", rearmed)
	return nil
}

// Stop cancels all pending escalation timers
func (m *Manager) Stop() {
	m.escalations.StopAll()
}

// recordFailure appends a failure entry to the timeline, best effort
func (m *Manager) recordFailure(ctx context.Context, incidentID, verb, description string) {
	_, err := m.withIncident(ctx, incidentID, func(inc *core.Incident) error {
		inc.AppendTimeline(systemActor, verb, description, nil)
		return nil
	})
	if err != nil {
		m.logger.Errorw("failed to record timeline failure", "incident_id", incidentID, "error", err)
	}
}

// logSelfEvent forwards a manager lifecycle event into the event stream,
// tagged so the pipeline never turns it into another incident.
func (m *Manager) logSelfEvent(ctx context.Context, inc *core.Incident, action string) {
	if m.ingester == nil {
		return
	}
	event := core.NewSecurityEvent(core.EventTypeSecurityAlert, core.SeverityInfo, "incident-manager")
	event.Attributes[OriginAttribute] = OriginIncidentManager
	event.Attributes["incident_id"] = inc.ID
	event.Attributes["incident_action"] = action
	event.Attributes["incident_severity"] = string(inc.Severity)
	if err := m.ingester.IngestEvent(ctx, event); err != nil {
		m.logger.Warnw("audit self-log failed", "incident_id", inc.ID, "error", err)
	}
}

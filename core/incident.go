package core

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IncidentSeverity represents the response priority of an incident
type IncidentSeverity string

const (
	IncidentSeverityP1 IncidentSeverity = "P1_CRITICAL"
	IncidentSeverityP2 IncidentSeverity = "P2_HIGH"
	IncidentSeverityP3 IncidentSeverity = "P3_MEDIUM"
	IncidentSeverityP4 IncidentSeverity = "P4_LOW"
)

// AllIncidentSeverities returns all valid incident severities
var AllIncidentSeverities = []IncidentSeverity{
	IncidentSeverityP1, IncidentSeverityP2, IncidentSeverityP3, IncidentSeverityP4,
}

// IsValid checks if the incident severity is valid
func (s IncidentSeverity) IsValid() bool {
	for _, valid := range AllIncidentSeverities {
		if s == valid {
			return true
		}
	}
	return false
}

// Prefix returns the short severity prefix used in incident IDs (P1..P4)
func (s IncidentSeverity) Prefix() string {
	if len(s) >= 2 {
		return string(s[:2])
	}
	return "P4"
}

// Priority derives the 1-5 numeric priority from the severity
func (s IncidentSeverity) Priority() int {
	switch s {
	case IncidentSeverityP1:
		return 1
	case IncidentSeverityP2:
		return 2
	case IncidentSeverityP3:
		return 3
	case IncidentSeverityP4:
		return 4
	default:
		return 5
	}
}

// IncidentCategory classifies the nature of an incident
type IncidentCategory string

const (
	CategorySecurityBreach      IncidentCategory = "SECURITY_BREACH"
	CategoryDataLeak            IncidentCategory = "DATA_LEAK"
	CategorySystemOutage        IncidentCategory = "SYSTEM_OUTAGE"
	CategoryMalwareInfection    IncidentCategory = "MALWARE_INFECTION"
	CategoryPhishingAttack      IncidentCategory = "PHISHING_ATTACK"
	CategoryComplianceViolation IncidentCategory = "COMPLIANCE_VIOLATION"
	CategoryOther               IncidentCategory = "OTHER"
)

// AllIncidentCategories returns all valid incident categories
var AllIncidentCategories = []IncidentCategory{
	CategorySecurityBreach, CategoryDataLeak, CategorySystemOutage,
	CategoryMalwareInfection, CategoryPhishingAttack, CategoryComplianceViolation,
	CategoryOther,
}

// IsValid checks if the incident category is valid
func (c IncidentCategory) IsValid() bool {
	for _, valid := range AllIncidentCategories {
		if c == valid {
			return true
		}
	}
	return false
}

// IncidentStatus represents a state in the incident lifecycle.
//
// NEW is the unique start state and CLOSED the unique terminal state.
// The intermediate states may be revisited in any order before RESOLVED.
// Status changes are permissive (any status is settable directly) but the
// set-once timestamp semantics below always hold.
type IncidentStatus string

const (
	StatusNew           IncidentStatus = "NEW"
	StatusAcknowledged  IncidentStatus = "ACKNOWLEDGED"
	StatusInvestigating IncidentStatus = "INVESTIGATING"
	StatusResponding    IncidentStatus = "RESPONDING"
	StatusMonitoring    IncidentStatus = "MONITORING"
	StatusResolved      IncidentStatus = "RESOLVED"
	StatusClosed        IncidentStatus = "CLOSED"
)

// AllIncidentStatuses returns all valid incident statuses
var AllIncidentStatuses = []IncidentStatus{
	StatusNew, StatusAcknowledged, StatusInvestigating, StatusResponding,
	StatusMonitoring, StatusResolved, StatusClosed,
}

// IsValid checks if the incident status is valid
func (s IncidentStatus) IsValid() bool {
	for _, valid := range AllIncidentStatuses {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminalOrResolved reports whether the incident no longer needs escalation
func (s IncidentStatus) IsTerminalOrResolved() bool {
	return s == StatusResolved || s == StatusClosed
}

// ActionStatus represents the execution status of an incident action
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "PENDING"
	ActionStatusInProgress ActionStatus = "IN_PROGRESS"
	ActionStatusCompleted  ActionStatus = "COMPLETED"
	ActionStatusFailed     ActionStatus = "FAILED"
	ActionStatusCancelled  ActionStatus = "CANCELLED"
)

// IsTerminal reports whether the action is in a final state
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusCancelled
}

// IncidentAction is one discrete response step, automated or manual
type IncidentAction struct {
	ID                   string       `json:"id"`
	IncidentID           string       `json:"incident_id"`
	Type                 string       `json:"type"` // registry key, e.g. "isolate-systems"
	Description          string       `json:"description,omitempty"`
	Status               ActionStatus `json:"status"`
	Automated            bool         `json:"automated"`
	ConfirmationRequired bool         `json:"confirmation_required"`
	AssignedTo           string       `json:"assigned_to,omitempty"`
	Result               string       `json:"result,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	StartedAt            *time.Time   `json:"started_at,omitempty"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
}

// NewIncidentAction creates a pending action for an incident
func NewIncidentAction(incidentID, actionType string, automated, confirmationRequired bool) *IncidentAction {
	return &IncidentAction{
		ID:                   uuid.New().String(),
		IncidentID:           incidentID,
		Type:                 actionType,
		Status:               ActionStatusPending,
		Automated:            automated,
		ConfirmationRequired: confirmationRequired,
		CreatedAt:            time.Now().UTC(),
	}
}

// TimelineEntry is an append-only audit fact on an incident.
// Entries are never mutated or deleted.
type TimelineEntry struct {
	ID          string                 `json:"id"`
	Actor       string                 `json:"actor"`
	Action      string                 `json:"action"` // verb, e.g. "CREATED", "STATUS_CHANGED"
	Description string                 `json:"description"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Timeline entry action verbs
const (
	TimelineCreated        = "CREATED"
	TimelineStatusChanged  = "STATUS_CHANGED"
	TimelineAssigned       = "ASSIGNED"
	TimelinePriorityChange = "PRIORITY_CHANGED"
	TimelineProgressNote   = "PROGRESS_NOTE"
	TimelineActionExecuted = "ACTION_EXECUTED"
	TimelineActionFailed   = "ACTION_FAILED"
	TimelineCommSent       = "COMMUNICATION_SENT"
	TimelineCommFailed     = "COMMUNICATION_FAILED"
	TimelineEscalated      = "ESCALATED"
	TimelineResolved       = "RESOLVED"
	TimelineMetadataMerged = "METADATA_MERGED"
)

// CommunicationType classifies a stakeholder communication
type CommunicationType string

const (
	CommDeclared   CommunicationType = "DECLARED"
	CommUpdate     CommunicationType = "UPDATE"
	CommEscalation CommunicationType = "ESCALATION"
	CommResolution CommunicationType = "RESOLUTION"
)

// CommunicationStatus tracks dispatch of a communication
type CommunicationStatus string

const (
	CommStatusPending CommunicationStatus = "PENDING"
	CommStatusSent    CommunicationStatus = "SENT"
	CommStatusFailed  CommunicationStatus = "FAILED"
)

// Communication is one stakeholder notification attached to an incident
type Communication struct {
	ID         string              `json:"id"`
	IncidentID string              `json:"incident_id"`
	Type       CommunicationType   `json:"type"`
	Channel    string              `json:"channel"` // email, slack, sms, webhook
	Recipients []string            `json:"recipients"`
	Title      string              `json:"title"`
	Message    string              `json:"message"`
	Status     CommunicationStatus `json:"status"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	SentAt     *time.Time          `json:"sent_at,omitempty"`
}

// Evidence is a reference to collected incident evidence
type Evidence struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Location    string    `json:"location"` // storage URI or path
	CollectedBy string    `json:"collected_by"`
	CollectedAt time.Time `json:"collected_at"`
}

// Incident validation limits
const (
	MinIncidentTitleLength       = 10
	MinIncidentDescriptionLength = 20
)

// Incident is the mutable unit of response. All mutation goes through the
// incident manager under the incident's lock; archived (never deleted)
// once CLOSED.
type Incident struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Severity        IncidentSeverity `json:"severity"`
	Category        IncidentCategory `json:"category"`
	Status          IncidentStatus   `json:"status"`
	Priority        int              `json:"priority"` // 1-5, derived from severity
	AffectedSystems []string         `json:"affected_systems,omitempty"`
	Reporter        string           `json:"reporter,omitempty"`
	AssignedTo      string           `json:"assigned_to,omitempty"`
	Commander       string           `json:"commander,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`

	// Derived durations, minutes
	ResponseTime   int `json:"response_time,omitempty"`   // created -> acknowledged
	ResolutionTime int `json:"resolution_time,omitempty"` // created -> resolved

	Resolution     string                 `json:"resolution,omitempty"`
	LessonsLearned string                 `json:"lessons_learned,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`

	Timeline       []TimelineEntry  `json:"timeline"`
	Communications []Communication  `json:"communications"`
	Actions        []IncidentAction `json:"actions"`
	Evidence       []Evidence       `json:"evidence"`

	Escalated bool `json:"escalated"`
}

// NewIncidentID generates an incident ID of the form
// INC-<severityPrefix>-<timestamp>-<rand>.
func NewIncidentID(severity IncidentSeverity) string {
	return fmt.Sprintf("INC-%s-%d-%04d", severity.Prefix(), time.Now().UTC().Unix(), rand.Intn(10000))
}

// NewIncident creates a NEW incident after validating its inputs.
// Validation errors abort creation with no partial state.
func NewIncident(title, description string, severity IncidentSeverity, category IncidentCategory, reporter string) (*Incident, error) {
	if len(strings.TrimSpace(title)) < MinIncidentTitleLength {
		return nil, NewValidationError("title", fmt.Sprintf("title must be at least %d characters", MinIncidentTitleLength))
	}
	if len(strings.TrimSpace(description)) < MinIncidentDescriptionLength {
		return nil, NewValidationError("description", fmt.Sprintf("description must be at least %d characters", MinIncidentDescriptionLength))
	}
	if !severity.IsValid() {
		return nil, NewValidationError("severity", fmt.Sprintf("invalid incident severity: %s", severity))
	}
	if !category.IsValid() {
		return nil, NewValidationError("category", fmt.Sprintf("invalid incident category: %s", category))
	}

	return &Incident{
		ID:             NewIncidentID(severity),
		Title:          strings.TrimSpace(title),
		Description:    strings.TrimSpace(description),
		Severity:       severity,
		Category:       category,
		Status:         StatusNew,
		Priority:       severity.Priority(),
		Reporter:       reporter,
		CreatedAt:      time.Now().UTC(),
		Metadata:       make(map[string]interface{}),
		Timeline:       []TimelineEntry{},
		Communications: []Communication{},
		Actions:        []IncidentAction{},
		Evidence:       []Evidence{},
	}, nil
}

// AppendTimeline appends one audit entry and returns it
func (inc *Incident) AppendTimeline(actor, action, description string, metadata map[string]interface{}) TimelineEntry {
	entry := TimelineEntry{
		ID:          uuid.New().String(),
		Actor:       actor,
		Action:      action,
		Description: description,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	}
	inc.Timeline = append(inc.Timeline, entry)
	return entry
}

// ApplyStatus sets the incident status and applies the set-once timestamp
// semantics: AcknowledgedAt on first ACKNOWLEDGED, ResolvedAt and
// ResolutionTime on first RESOLVED, ClosedAt on first CLOSED.
// Returns true when the first transition into RESOLVED happened.
func (inc *Incident) ApplyStatus(status IncidentStatus) (firstResolve bool) {
	now := time.Now().UTC()
	inc.Status = status

	switch status {
	case StatusAcknowledged:
		if inc.AcknowledgedAt == nil {
			inc.AcknowledgedAt = &now
			inc.ResponseTime = int(now.Sub(inc.CreatedAt).Minutes())
		}
	case StatusResolved:
		if inc.ResolvedAt == nil {
			inc.ResolvedAt = &now
			inc.ResolutionTime = int(now.Sub(inc.CreatedAt).Minutes())
			if inc.ResolutionTime < 1 {
				inc.ResolutionTime = 1
			}
			firstResolve = true
		}
	case StatusClosed:
		if inc.ClosedAt == nil {
			inc.ClosedAt = &now
		}
	}
	return firstResolve
}

// FindAction returns the action with the given ID, or nil
func (inc *Incident) FindAction(actionID string) *IncidentAction {
	for i := range inc.Actions {
		if inc.Actions[i].ID == actionID {
			return &inc.Actions[i]
		}
	}
	return nil
}

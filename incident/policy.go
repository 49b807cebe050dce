package incident

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel/core"
)

// SeverityPolicy drives escalation and stakeholder fan-out per severity
type SeverityPolicy struct {
	Stakeholders          []string      `yaml:"stakeholders"`
	EscalatedStakeholders []string      `yaml:"escalated_stakeholders"`
	AutoEscalate          bool          `yaml:"auto_escalate"`
	EscalationTime        time.Duration `yaml:"escalation_time"`
	Channel               string        `yaml:"channel"`
}

// DefaultSeverityPolicies returns the built-in escalation matrix.
// P1 and P2 auto-escalate; P3 and P4 wait for a human.
func DefaultSeverityPolicies() map[core.IncidentSeverity]SeverityPolicy {
	return map[core.IncidentSeverity]SeverityPolicy{
		core.IncidentSeverityP1: {
			Stakeholders:          []string{"oncall-security", "secops-lead"},
			EscalatedStakeholders: []string{"oncall-security", "secops-lead", "ciso", "engineering-vp"},
			AutoEscalate:          true,
			EscalationTime:        30 * time.Minute,
			Channel:               "SLACK",
		},
		core.IncidentSeverityP2: {
			Stakeholders:          []string{"oncall-security"},
			EscalatedStakeholders: []string{"oncall-security", "secops-lead"},
			AutoEscalate:          true,
			EscalationTime:        60 * time.Minute,
			Channel:               "SLACK",
		},
		core.IncidentSeverityP3: {
			Stakeholders: []string{"secops-queue"},
			Channel:      "EMAIL",
		},
		core.IncidentSeverityP4: {
			Stakeholders: []string{"secops-queue"},
			Channel:      "EMAIL",
		},
	}
}

// PlaybookAction is one step in a category playbook
type PlaybookAction struct {
	Type                 string `yaml:"type"`
	Description          string `yaml:"description"`
	Automated            bool   `yaml:"automated"`
	ConfirmationRequired bool   `yaml:"confirmation_required"`
}

// actionRegistry names the action types the runner knows how to execute.
// Playbooks referencing anything else are rejected at load time.
var actionRegistry = map[string]string{
	"isolate-systems":     "Isolate affected systems from the network",
	"block-ip":            "Block the offending source address at the perimeter",
	"disable-account":     "Disable the implicated user account",
	"collect-evidence":    "Snapshot logs and system state for forensics",
	"notify-stakeholders": "Page the stakeholder list for this severity",
	"revoke-sessions":     "Revoke active sessions for the implicated user",
	"quarantine-host":     "Quarantine the infected host",
	"rotate-credentials":  "Rotate credentials touched by the incident",
	"preserve-logs":       "Freeze log retention for the affected window",
}

// KnownActionTypes lists registry keys, for diagnostics
func KnownActionTypes() []string {
	out := make([]string, 0, len(actionRegistry))
	for k := range actionRegistry {
		out = append(out, k)
	}
	return out
}

// DefaultPlaybooks maps incident categories to their response steps
func DefaultPlaybooks() map[core.IncidentCategory][]PlaybookAction {
	return map[core.IncidentCategory][]PlaybookAction{
		core.CategorySecurityBreach: {
			{Type: "isolate-systems", Automated: true, ConfirmationRequired: true},
			{Type: "notify-stakeholders", Automated: true},
			{Type: "collect-evidence", Automated: true},
		},
		core.CategoryDataLeak: {
			{Type: "revoke-sessions", Automated: true},
			{Type: "preserve-logs", Automated: true},
			{Type: "notify-stakeholders", Automated: true},
		},
		core.CategoryMalwareInfection: {
			{Type: "quarantine-host", Automated: true, ConfirmationRequired: true},
			{Type: "collect-evidence", Automated: true},
		},
		core.CategoryPhishingAttack: {
			{Type: "disable-account", Automated: true, ConfirmationRequired: true},
			{Type: "rotate-credentials", Automated: true, ConfirmationRequired: true},
			{Type: "notify-stakeholders", Automated: true},
		},
		core.CategorySystemOutage: {
			{Type: "notify-stakeholders", Automated: true},
			{Type: "collect-evidence", Automated: true},
		},
		core.CategoryComplianceViolation: {
			{Type: "preserve-logs", Automated: true},
			{Type: "notify-stakeholders", Automated: true},
		},
		core.CategoryOther: {
			{Type: "collect-evidence", Automated: true},
		},
	}
}

type playbookFile struct {
	Playbooks map[string][]PlaybookAction `yaml:"playbooks"`
}

// LoadPlaybooks reads category playbooks from a YAML file and validates
// every step against the action registry and the category enum.
func LoadPlaybooks(path string) (map[core.IncidentCategory][]PlaybookAction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read playbook file %s: %w", path, err)
	}
	var pf playbookFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse playbook file %s: %w", path, err)
	}

	playbooks := make(map[core.IncidentCategory][]PlaybookAction, len(pf.Playbooks))
	for name, actions := range pf.Playbooks {
		category := core.IncidentCategory(name)
		if !category.IsValid() {
			return nil, fmt.Errorf("playbook %q: unknown incident category", name)
		}
		for i, action := range actions {
			if _, ok := actionRegistry[action.Type]; !ok {
				return nil, fmt.Errorf("playbook %q step %d: unknown action type %q", name, i, action.Type)
			}
			if actions[i].Description == "" {
				actions[i].Description = actionRegistry[action.Type]
			}
		}
		playbooks[category] = actions
	}
	return playbooks, nil
}

func describeAction(action PlaybookAction) string {
	if action.Description != "" {
		return action.Description
	}
	return actionRegistry[action.Type]
}

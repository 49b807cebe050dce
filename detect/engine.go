// Package detect evaluates alert rules against scored events. A rule fires
// when its conditions all match and the windowed event count reaches the
// rule's threshold; fired rules are suppressed per user and source address
// for the rule's suppression window so alert storms collapse to one alert.
package detect

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"sentinel/bus"
	"sentinel/core"
	"sentinel/metrics"
	"sentinel/notify"
	"sentinel/storage"
)

const suppressionSweepInterval = time.Minute

// RuleEngine matches events against the enabled alert rules
type RuleEngine struct {
	rules    atomic.Pointer[[]*core.AlertRule]
	store    storage.RuleStore
	events   storage.EventStore
	notifier notify.Notifier
	bus      *bus.DetectionBus
	logger   *zap.SugaredLogger

	supMu      sync.Mutex
	suppressed map[string]time.Time // suppression key -> expiry

	cancelSweep context.CancelFunc
}

// NewRuleEngine creates an engine with an empty rule snapshot. Call
// ReloadRules before the first Evaluate.
func NewRuleEngine(store storage.RuleStore, events storage.EventStore, notifier notify.Notifier, detectionBus *bus.DetectionBus, logger *zap.SugaredLogger) *RuleEngine {
	e := &RuleEngine{
		store:      store,
		events:     events,
		notifier:   notifier,
		bus:        detectionBus,
		logger:     logger,
		suppressed: make(map[string]time.Time),
	}
	empty := []*core.AlertRule{}
	e.rules.Store(&empty)
	return e
}

// ReloadRules replaces the rule snapshot from the store. Evaluations in
// flight keep the snapshot they started with.
func (e *RuleEngine) ReloadRules(ctx context.Context) error {
	rules, err := e.store.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}
	e.rules.Store(&rules)
	e.logger.Infow("alert rules loaded", "count", len(rules))
	return nil
}

// Rules returns the current snapshot
func (e *RuleEngine) Rules() []*core.AlertRule {
	return *e.rules.Load()
}

// Evaluate runs every enabled rule against the event and returns the
// alerts that fired. A failing rule is logged and skipped; it never stops
// the remaining rules.
func (e *RuleEngine) Evaluate(ctx context.Context, event *core.SecurityEvent) []*core.TriggeredAlert {
	var triggered []*core.TriggeredAlert
	for _, rule := range e.Rules() {
		alert, err := e.evaluateRule(ctx, rule, event)
		if err != nil {
			e.logger.Errorw("rule evaluation failed",
				"rule_id", rule.ID,
				"event_id", event.ID,
				"error", err)
			continue
		}
		if alert != nil {
			triggered = append(triggered, alert)
		}
	}
	return triggered
}

func (e *RuleEngine) evaluateRule(ctx context.Context, rule *core.AlertRule, event *core.SecurityEvent) (alert *core.TriggeredAlert, err error) {
	defer func() {
		if r := recover(); r != nil {
			alert = nil
			err = fmt.Errorf("rule panicked: %v", r)
		}
	}()

	matched, err := core.MatchesAll(rule.Conditions, event)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, nil
	}

	// Threshold above one needs rule.Threshold matching events inside the
	// rule's window, counting this one.
	matchCount := 1
	if rule.Threshold > 1 {
		recent, err := e.events.FindRecent(ctx, rule.Conditions, rule.Window)
		if err != nil {
			return nil, fmt.Errorf("windowed count failed: %w", err)
		}
		matchCount = len(recent)
		if !containsEvent(recent, event.ID) {
			matchCount++
		}
		if matchCount < rule.Threshold {
			return nil, nil
		}
	}

	if e.isSuppressed(rule, event) {
		metrics.AlertsSuppressed.Inc()
		e.logger.Debugw("alert suppressed",
			"rule_id", rule.ID,
			"user_id", event.UserID,
			"source_ip", event.SourceIP)
		return nil, nil
	}

	alert = core.NewTriggeredAlert(rule, event, matchCount)
	metrics.AlertsTriggered.WithLabelValues(string(rule.Severity)).Inc()
	if err := e.store.RecordTrigger(ctx, rule.ID, alert.TriggeredAt); err != nil {
		e.logger.Warnw("failed to record rule trigger", "rule_id", rule.ID, "error", err)
	}

	e.dispatchActions(ctx, rule, alert, event)
	return alert, nil
}

func containsEvent(events []*core.SecurityEvent, id string) bool {
	for _, ev := range events {
		if ev.ID == id {
			return true
		}
	}
	return false
}

// isSuppressed checks and arms the suppression window atomically so two
// concurrent matches of the same rule and actor produce one alert.
func (e *RuleEngine) isSuppressed(rule *core.AlertRule, event *core.SecurityEvent) bool {
	if rule.SuppressionTime <= 0 {
		return false
	}
	key := rule.SuppressionKey(event)
	now := time.Now()

	e.supMu.Lock()
	defer e.supMu.Unlock()
	if expiry, ok := e.suppressed[key]; ok && now.Before(expiry) {
		return true
	}
	e.suppressed[key] = now.Add(rule.SuppressionTime)
	return false
}

// dispatchActions executes the rule's actions. Notification failures are
// logged and do not affect the other actions; CREATE_INCIDENT is handed to
// the detection bus for the incident pipeline.
func (e *RuleEngine) dispatchActions(ctx context.Context, rule *core.AlertRule, alert *core.TriggeredAlert, event *core.SecurityEvent) {
	for _, action := range rule.Actions {
		switch action.Type {
		case core.RuleActionCreateIncident:
			e.bus.Publish(&core.Detection{
				Kind:  core.DetectionAlert,
				Alert: alert,
				Event: event,
			})
		case core.RuleActionEmail, core.RuleActionWebhook, core.RuleActionSlack, core.RuleActionSMS:
			msg := notify.Message{
				Channel:    channelFor(action.Type),
				Recipients: action.Recipients,
				Target:     action.Target,
				Title:      fmt.Sprintf("Alert: %s", rule.Name),
				Body:       alertBody(rule, event),
				Severity:   string(rule.Severity),
			}
			if err := e.notifier.Send(ctx, msg); err != nil {
				e.logger.Errorw("alert action failed",
					"rule_id", rule.ID,
					"action", action.Type,
					"error", err)
			}
		default:
			e.logger.Warnw("unknown alert action type", "rule_id", rule.ID, "action", action.Type)
		}
	}
}

func channelFor(t core.RuleActionType) notify.Channel {
	switch t {
	case core.RuleActionEmail:
		return notify.ChannelEmail
	case core.RuleActionWebhook:
		return notify.ChannelWebhook
	case core.RuleActionSlack:
		return notify.ChannelSlack
	case core.RuleActionSMS:
		return notify.ChannelSMS
	}
	return notify.ChannelWebhook
}

func alertBody(rule *core.AlertRule, event *core.SecurityEvent) string {
	return fmt.Sprintf("Rule %s matched event %s (type=%s user=%s ip=%s resource=%s score=%d)",
		rule.Name, event.ID, event.Type, event.UserID, event.SourceIP, event.Resource, event.ThreatScore)
}

// StartSuppressionSweep prunes expired suppression entries periodically
func (e *RuleEngine) StartSuppressionSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	e.cancelSweep = cancel
	go func() {
		ticker := time.NewTicker(suppressionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				e.sweepSuppressions(time.Now())
			}
		}
	}()
}

// StopSuppressionSweep stops the background sweep
func (e *RuleEngine) StopSuppressionSweep() {
	if e.cancelSweep != nil {
		e.cancelSweep()
	}
}

func (e *RuleEngine) sweepSuppressions(now time.Time) {
	e.supMu.Lock()
	defer e.supMu.Unlock()
	for key, expiry := range e.suppressed {
		if !now.Before(expiry) {
			delete(e.suppressed, key)
		}
	}
}

// SuppressionCount returns the number of live suppression entries
func (e *RuleEngine) SuppressionCount() int {
	e.supMu.Lock()
	defer e.supMu.Unlock()
	return len(e.suppressed)
}

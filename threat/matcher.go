// Package threat matches ingested events against the live set of threat
// indicators and keeps that set refreshed from the external feed.
package threat

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"sentinel/core"
	"sentinel/metrics"
)

// Matcher checks events against the active indicator set. The set is an
// immutable snapshot swapped atomically on refresh so readers never observe
// a partially-updated set.
type Matcher struct {
	snapshot atomic.Pointer[[]*core.ThreatIndicator]
	logger   *zap.SugaredLogger
}

// NewMatcher creates a matcher with an empty indicator set
func NewMatcher(logger *zap.SugaredLogger) *Matcher {
	m := &Matcher{logger: logger}
	empty := []*core.ThreatIndicator{}
	m.snapshot.Store(&empty)
	return m
}

// SetIndicators replaces the active indicator set. Expired and inactive
// indicators are filtered out of the snapshot.
func (m *Matcher) SetIndicators(indicators []*core.ThreatIndicator) {
	active := make([]*core.ThreatIndicator, 0, len(indicators))
	for _, ind := range indicators {
		if ind.Active && !ind.IsExpired() {
			active = append(active, ind)
		}
	}
	m.snapshot.Store(&active)
}

// Indicators returns the current active snapshot
func (m *Matcher) Indicators() []*core.ThreatIndicator {
	return *m.snapshot.Load()
}

// Match checks one event against every active indicator. Cost is
// O(active indicators); expired indicators are skipped lazily in case the
// sweep has not run since they lapsed.
func (m *Matcher) Match(event *core.SecurityEvent) []*core.IndicatorMatch {
	var matches []*core.IndicatorMatch
	for _, ind := range m.Indicators() {
		if ind.IsExpired() {
			continue
		}
		field, value, ok := matchIndicator(ind, event)
		if !ok {
			continue
		}
		matches = append(matches, core.NewIndicatorMatch(ind, event.ID, field, value))
		metrics.IndicatorMatches.WithLabelValues(string(ind.Type)).Inc()
	}
	return matches
}

// matchIndicator applies the type-specific comparator: exact equality for
// IPs and hashes, substring for domains and user agents.
func matchIndicator(ind *core.ThreatIndicator, event *core.SecurityEvent) (field, value string, ok bool) {
	switch ind.Type {
	case core.IndicatorTypeIP:
		if event.SourceIP != "" && event.SourceIP == ind.Value {
			return "source_ip", event.SourceIP, true
		}
	case core.IndicatorTypeDomain, core.IndicatorTypeURL:
		for _, attr := range []string{"domain", "url", "host"} {
			if v, found := stringAttr(event, attr); found && strings.Contains(strings.ToLower(v), strings.ToLower(ind.Value)) {
				return "attributes." + attr, v, true
			}
		}
	case core.IndicatorTypeUserAgent:
		if v, found := stringAttr(event, "user_agent"); found && strings.Contains(v, ind.Value) {
			return "attributes.user_agent", v, true
		}
	case core.IndicatorTypeHash:
		if v, found := stringAttr(event, "file_hash"); found && strings.EqualFold(v, ind.Value) {
			return "attributes.file_hash", v, true
		}
	case core.IndicatorTypeEmail:
		if v, found := stringAttr(event, "email"); found && strings.EqualFold(v, ind.Value) {
			return "attributes.email", v, true
		}
	}
	return "", "", false
}

func stringAttr(event *core.SecurityEvent, key string) (string, bool) {
	if event.Attributes == nil {
		return "", false
	}
	v, ok := event.Attributes[key].(string)
	return v, ok && v != ""
}

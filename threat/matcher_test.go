package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sentinel/core"
)

func mustIndicator(t *testing.T, indicatorType core.IndicatorType, value string) *core.ThreatIndicator {
	t.Helper()
	ind, err := core.NewThreatIndicator(indicatorType, value, "test-feed")
	require.NoError(t, err)
	return ind
}

func TestMatcherIPExactMatch(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())
	m.SetIndicators([]*core.ThreatIndicator{
		mustIndicator(t, core.IndicatorTypeIP, "203.0.113.9"),
	})

	event := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	event.SourceIP = "203.0.113.9"

	matches := m.Match(event)
	require.Len(t, matches, 1)
	assert.Equal(t, "source_ip", matches[0].MatchedField)
	assert.Equal(t, "203.0.113.9", matches[0].MatchedValue)
	assert.Equal(t, event.ID, matches[0].EventID)

	event.SourceIP = "203.0.113.10"
	assert.Empty(t, m.Match(event))
}

func TestMatcherDomainSubstring(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())
	m.SetIndicators([]*core.ThreatIndicator{
		mustIndicator(t, core.IndicatorTypeDomain, "evil.example.com"),
	})

	event := core.NewSecurityEvent(core.EventTypeAPIAccess, core.SeverityLow, "proxy")
	event.Attributes["domain"] = "cdn.EVIL.example.com"

	matches := m.Match(event)
	require.Len(t, matches, 1)
	assert.Equal(t, "attributes.domain", matches[0].MatchedField)
}

func TestMatcherHashCaseInsensitive(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())
	m.SetIndicators([]*core.ThreatIndicator{
		mustIndicator(t, core.IndicatorTypeHash, "d41d8cd98f00b204e9800998ecf8427e"),
	})

	event := core.NewSecurityEvent(core.EventTypeFileOperation, core.SeverityMedium, "endpoint-agent")
	event.Attributes["file_hash"] = "D41D8CD98F00B204E9800998ECF8427E"

	require.Len(t, m.Match(event), 1)
}

func TestMatcherMultipleIndicatorsAllReported(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())
	m.SetIndicators([]*core.ThreatIndicator{
		mustIndicator(t, core.IndicatorTypeIP, "203.0.113.9"),
		mustIndicator(t, core.IndicatorTypeUserAgent, "sqlmap"),
	})

	event := core.NewSecurityEvent(core.EventTypeAPIAccess, core.SeverityHigh, "waf")
	event.SourceIP = "203.0.113.9"
	event.Attributes["user_agent"] = "sqlmap/1.7"

	assert.Len(t, m.Match(event), 2)
}

func TestMatcherSkipsInactiveAndExpired(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())

	inactive := mustIndicator(t, core.IndicatorTypeIP, "203.0.113.9")
	inactive.Active = false

	expired := mustIndicator(t, core.IndicatorTypeIP, "203.0.113.9")
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past

	m.SetIndicators([]*core.ThreatIndicator{inactive, expired})
	assert.Empty(t, m.Indicators())

	event := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	event.SourceIP = "203.0.113.9"
	assert.Empty(t, m.Match(event))
}

func TestMatcherSnapshotSwap(t *testing.T) {
	m := NewMatcher(zaptest.NewLogger(t).Sugar())

	event := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	event.SourceIP = "203.0.113.9"

	assert.Empty(t, m.Match(event))

	m.SetIndicators([]*core.ThreatIndicator{mustIndicator(t, core.IndicatorTypeIP, "203.0.113.9")})
	assert.Len(t, m.Match(event), 1)

	m.SetIndicators(nil)
	assert.Empty(t, m.Match(event))
}

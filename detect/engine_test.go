package detect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sentinel/bus"
	"sentinel/core"
	"sentinel/notify"
	"sentinel/storage"
)

type engineFixture struct {
	engine   *RuleEngine
	store    *storage.MemoryStore
	notifier *notify.MockNotifier
	bus      *bus.DetectionBus
	received []*core.Detection
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	f := &engineFixture{
		store:    storage.NewMemoryStore(),
		notifier: &notify.MockNotifier{},
		bus:      bus.NewDetectionBus(16, logger),
	}
	f.engine = NewRuleEngine(f.store, f.store, f.notifier, f.bus, logger)
	return f
}

func (f *engineFixture) addRule(t *testing.T, rule *core.AlertRule) {
	t.Helper()
	require.NoError(t, f.store.SaveRule(context.Background(), rule))
	require.NoError(t, f.engine.ReloadRules(context.Background()))
}

func failedLogin(userID, ip string) *core.SecurityEvent {
	e := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	e.UserID = userID
	e.SourceIP = ip
	e.Attributes[core.AttrOutcome] = core.OutcomeFailure
	return e
}

func loginRule(threshold int) *core.AlertRule {
	return core.NewAlertRule(
		"failed login burst",
		[]core.Condition{
			{Field: "type", Operator: core.OpEquals, Value: "AUTHENTICATION"},
			{Field: "attributes.outcome", Operator: core.OpEquals, Value: core.OutcomeFailure},
		},
		time.Minute,
		threshold,
		core.SeverityHigh,
	)
}

func TestEvaluateSingleEventThreshold(t *testing.T) {
	f := newEngineFixture(t)
	f.addRule(t, loginRule(1))

	alerts := f.engine.Evaluate(context.Background(), failedLogin("alice", "10.0.0.5"))

	require.Len(t, alerts, 1)
	assert.Equal(t, 1, alerts[0].MatchCount)
	assert.Equal(t, core.SeverityHigh, alerts[0].Severity)

	rule, err := f.store.GetRule(context.Background(), alerts[0].RuleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rule.TriggerCount)
	require.NotNil(t, rule.LastTriggered)
}

func TestEvaluateNonMatchingEvent(t *testing.T) {
	f := newEngineFixture(t)
	f.addRule(t, loginRule(1))

	ok := core.NewSecurityEvent(core.EventTypeAuthentication, core.SeverityMedium, "auth-service")
	ok.Attributes[core.AttrOutcome] = core.OutcomeSuccess

	assert.Empty(t, f.engine.Evaluate(context.Background(), ok))
}

func TestEvaluateWindowedThreshold(t *testing.T) {
	f := newEngineFixture(t)
	f.addRule(t, loginRule(3))
	ctx := context.Background()

	// Two prior failures persisted inside the window.
	for i := 0; i < 2; i++ {
		require.NoError(t, f.store.SaveEvent(ctx, failedLogin("alice", "10.0.0.5")))
	}

	third := failedLogin("alice", "10.0.0.5")
	alerts := f.engine.Evaluate(ctx, third)

	require.Len(t, alerts, 1)
	assert.Equal(t, 3, alerts[0].MatchCount)
}

func TestEvaluateBelowThresholdStaysQuiet(t *testing.T) {
	f := newEngineFixture(t)
	f.addRule(t, loginRule(3))
	ctx := context.Background()

	require.NoError(t, f.store.SaveEvent(ctx, failedLogin("alice", "10.0.0.5")))

	assert.Empty(t, f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5")))
}

func TestSuppressionCoolsDownRepeatAlerts(t *testing.T) {
	f := newEngineFixture(t)
	rule := loginRule(1)
	rule.SuppressionTime = time.Hour
	f.addRule(t, rule)
	ctx := context.Background()

	require.Len(t, f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5")), 1)
	assert.Empty(t, f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5")))
	assert.Equal(t, 1, f.engine.SuppressionCount())

	// A different actor is a different cooldown bucket.
	require.Len(t, f.engine.Evaluate(ctx, failedLogin("bob", "10.0.0.6")), 1)
}

func TestSuppressionExpires(t *testing.T) {
	f := newEngineFixture(t)
	rule := loginRule(1)
	rule.SuppressionTime = 20 * time.Millisecond
	f.addRule(t, rule)
	ctx := context.Background()

	require.Len(t, f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5")), 1)
	time.Sleep(30 * time.Millisecond)
	require.Len(t, f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5")), 1)
}

func TestSweepDropsExpiredSuppressions(t *testing.T) {
	f := newEngineFixture(t)
	rule := loginRule(1)
	rule.SuppressionTime = 10 * time.Millisecond
	f.addRule(t, rule)

	f.engine.Evaluate(context.Background(), failedLogin("alice", "10.0.0.5"))
	require.Equal(t, 1, f.engine.SuppressionCount())

	f.engine.sweepSuppressions(time.Now().Add(time.Second))
	assert.Equal(t, 0, f.engine.SuppressionCount())
}

func TestNotificationActionsDispatch(t *testing.T) {
	f := newEngineFixture(t)
	rule := loginRule(1)
	rule.Actions = []core.RuleAction{
		{Type: core.RuleActionEmail, Recipients: []string{"soc@example.com"}},
		{Type: core.RuleActionSlack, Target: "#sec-alerts"},
	}
	f.addRule(t, rule)

	f.engine.Evaluate(context.Background(), failedLogin("alice", "10.0.0.5"))

	sent := f.notifier.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, notify.ChannelEmail, sent[0].Channel)
	assert.Equal(t, []string{"soc@example.com"}, sent[0].Recipients)
	assert.Equal(t, notify.ChannelSlack, sent[1].Channel)
	assert.Equal(t, "#sec-alerts", sent[1].Target)
	assert.Contains(t, sent[0].Title, rule.Name)
}

func TestCreateIncidentActionPublishesDetection(t *testing.T) {
	f := newEngineFixture(t)
	rule := loginRule(1)
	rule.Actions = []core.RuleAction{{Type: core.RuleActionCreateIncident}}
	f.addRule(t, rule)

	var got []*core.Detection
	done := make(chan struct{})
	f.bus.Subscribe("capture", func(d *core.Detection) {
		got = append(got, d)
		close(done)
	})

	event := failedLogin("alice", "10.0.0.5")
	f.engine.Evaluate(context.Background(), event)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("no detection published")
	}

	require.Len(t, got, 1)
	assert.Equal(t, core.DetectionAlert, got[0].Kind)
	require.NotNil(t, got[0].Alert)
	assert.Equal(t, rule.ID, got[0].Alert.RuleID)
	assert.Same(t, event, got[0].Event)
}

func TestRuleFailureIsIsolated(t *testing.T) {
	f := newEngineFixture(t)

	broken := core.NewAlertRule(
		"broken regex",
		[]core.Condition{{Field: "source", Operator: core.OpRegex, Value: `[unclosed`}},
		time.Minute, 1, core.SeverityLow,
	)
	working := loginRule(1)

	ctx := context.Background()
	require.NoError(t, f.store.SaveRule(ctx, broken))
	require.NoError(t, f.store.SaveRule(ctx, working))
	require.NoError(t, f.engine.ReloadRules(ctx))

	alerts := f.engine.Evaluate(ctx, failedLogin("alice", "10.0.0.5"))
	require.Len(t, alerts, 1)
	assert.Equal(t, working.ID, alerts[0].RuleID)
}

func TestReloadRulesSwapsActiveSet(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	assert.Empty(t, f.engine.Rules())

	f.addRule(t, loginRule(1))
	require.Len(t, f.engine.Rules(), 1)

	disabled := loginRule(1)
	disabled.Enabled = false
	require.NoError(t, f.store.SaveRule(ctx, disabled))
	require.NoError(t, f.engine.ReloadRules(ctx))

	// Only enabled rules participate.
	assert.Len(t, f.engine.Rules(), 1)
}

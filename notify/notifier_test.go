package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sentinel/core"
)

type capturingServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func newCapturingServer(t *testing.T, status int) *capturingServer {
	t.Helper()
	cs := &capturingServer{status: status}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.mu.Unlock()
		w.WriteHeader(cs.status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *capturingServer) received() [][]byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([][]byte, len(cs.bodies))
	copy(out, cs.bodies)
	return out
}

func testDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	cfg.RatePerSecond = 1000 // keep the limiter out of the way
	return NewDispatcher(cfg, zaptest.NewLogger(t).Sugar())
}

func TestSendWebhook(t *testing.T) {
	srv := newCapturingServer(t, http.StatusOK)
	d := testDispatcher(t, Config{WebhookURL: srv.URL})

	err := d.Send(context.Background(), Message{
		Channel:  ChannelWebhook,
		Title:    "Incident declared: data leak",
		Body:     "INC-P2-1234 declared",
		Severity: "P2",
	})
	require.NoError(t, err)

	bodies := srv.received()
	require.Len(t, bodies, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &payload))
	assert.Equal(t, "Incident declared: data leak", payload["title"])
	assert.Equal(t, "P2", payload["severity"])
}

func TestSendWebhookTargetOverridesDefault(t *testing.T) {
	fallback := newCapturingServer(t, http.StatusOK)
	target := newCapturingServer(t, http.StatusOK)
	d := testDispatcher(t, Config{WebhookURL: fallback.URL})

	err := d.Send(context.Background(), Message{
		Channel: ChannelWebhook,
		Target:  target.URL,
		Title:   "alert",
		Body:    "body",
	})
	require.NoError(t, err)
	assert.Len(t, target.received(), 1)
	assert.Empty(t, fallback.received())
}

func TestSendSlackPayloadShape(t *testing.T) {
	srv := newCapturingServer(t, http.StatusOK)
	d := testDispatcher(t, Config{SlackURL: srv.URL})

	err := d.Send(context.Background(), Message{
		Channel:  ChannelSlack,
		Title:    "Escalation",
		Body:     "still unresolved",
		Severity: "P1",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(srv.received()[0], &payload))
	text, ok := payload["text"].(string)
	require.True(t, ok)
	assert.Contains(t, text, "Escalation")
	assert.Contains(t, text, "P1")
}

func TestSendCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	d := testDispatcher(t, Config{
		WebhookURL: srv.URL,
		Headers:    map[string]string{"Authorization": "Bearer token-123"},
	})
	require.NoError(t, d.Send(context.Background(), Message{Channel: ChannelWebhook, Title: "t", Body: "b"}))
	assert.Equal(t, "Bearer token-123", gotAuth)
}

func TestSendNon2xxIsFailure(t *testing.T) {
	srv := newCapturingServer(t, http.StatusBadGateway)
	d := testDispatcher(t, Config{WebhookURL: srv.URL})

	err := d.Send(context.Background(), Message{Channel: ChannelWebhook, Title: "t", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	srv := newCapturingServer(t, http.StatusInternalServerError)
	d := testDispatcher(t, Config{WebhookURL: srv.URL})
	ctx := context.Background()
	msg := Message{Channel: ChannelWebhook, Title: "t", Body: "b"}

	for i := 0; i < 3; i++ {
		require.Error(t, d.Send(ctx, msg))
	}

	// Fourth send fails fast without reaching the endpoint.
	before := len(srv.received())
	err := d.Send(ctx, msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCircuitOpen)
	assert.Len(t, srv.received(), before)
}

func TestChannelIsolation(t *testing.T) {
	broken := newCapturingServer(t, http.StatusInternalServerError)
	healthy := newCapturingServer(t, http.StatusOK)
	d := testDispatcher(t, Config{WebhookURL: broken.URL, SlackURL: healthy.URL})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Error(t, d.Send(ctx, Message{Channel: ChannelWebhook, Title: "t", Body: "b"}))
	}

	// Slack keeps flowing while the webhook breaker is open.
	require.NoError(t, d.Send(ctx, Message{Channel: ChannelSlack, Title: "t", Body: "b"}))
}

func TestSendUnknownChannel(t *testing.T) {
	d := testDispatcher(t, Config{})
	err := d.Send(context.Background(), Message{Channel: "PAGER", Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification channel")
}

func TestSendUnconfiguredChannel(t *testing.T) {
	d := testDispatcher(t, Config{})

	err := d.Send(context.Background(), Message{Channel: ChannelEmail, Recipients: []string{"soc@example.com"}, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp host not configured")

	err = d.Send(context.Background(), Message{Channel: ChannelSMS, Recipients: []string{"+15550100"}, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sms gateway not configured")
}

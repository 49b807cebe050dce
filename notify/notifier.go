// Package notify delivers incident communications and alert actions over
// email, webhook, Slack and SMS channels. Every channel sits behind a
// circuit breaker and a rate limiter; a failing channel degrades to
// dropped sends instead of cascading into the incident pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sentinel/core"
	"sentinel/metrics"
)

// Channel identifies a delivery mechanism
type Channel string

const (
	ChannelEmail   Channel = "EMAIL"
	ChannelWebhook Channel = "WEBHOOK"
	ChannelSlack   Channel = "SLACK"
	ChannelSMS     Channel = "SMS"
)

// Message is one outbound notification
type Message struct {
	Channel    Channel
	Recipients []string
	Target     string // webhook URL or Slack webhook, overrides channel default
	Title      string
	Body       string
	Severity   string
}

// Notifier sends a notification over one channel. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Config holds channel endpoints and delivery limits
type Config struct {
	SMTPHost    string   `mapstructure:"smtp_host"`
	SMTPPort    int      `mapstructure:"smtp_port"`
	SMTPUser    string   `mapstructure:"smtp_user"`
	SMTPPass    string   `mapstructure:"smtp_pass"`
	FromAddress string   `mapstructure:"from_address"`
	WebhookURL  string   `mapstructure:"webhook_url"`
	SlackURL    string   `mapstructure:"slack_url"`
	SMSGateway  string   `mapstructure:"sms_gateway"` // HTTP gateway URL
	Headers     map[string]string `mapstructure:"headers"`

	// RatePerSecond limits sends per channel; zero means 5/s.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	HTTPTimeout   time.Duration `mapstructure:"http_timeout"`
}

// Dispatcher routes messages to channel senders with per-channel circuit
// breaking and rate limiting.
type Dispatcher struct {
	config Config
	client *http.Client
	logger *zap.SugaredLogger

	cbMu     sync.RWMutex
	breakers map[Channel]*core.CircuitBreaker
	limiters map[Channel]*rate.Limiter
}

// NewDispatcher creates a dispatcher for the configured channels
func NewDispatcher(config Config, logger *zap.SugaredLogger) *Dispatcher {
	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 10 * time.Second
	}
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 5
	}
	d := &Dispatcher{
		config:   config,
		client:   &http.Client{Timeout: config.HTTPTimeout},
		logger:   logger,
		breakers: make(map[Channel]*core.CircuitBreaker),
		limiters: make(map[Channel]*rate.Limiter),
	}
	for _, ch := range []Channel{ChannelEmail, ChannelWebhook, ChannelSlack, ChannelSMS} {
		d.breakers[ch] = core.NewCircuitBreaker(core.CircuitBreakerConfig{
			MaxFailures:         3,
			Timeout:             60 * time.Second,
			MaxHalfOpenRequests: 1,
		})
		d.limiters[ch] = rate.NewLimiter(rate.Limit(config.RatePerSecond), int(config.RatePerSecond)+1)
	}
	return d
}

// Send delivers the message over its channel. The circuit breaker is
// consulted first so a dead endpoint fails fast; the rate limiter then
// smooths bursts from alert storms.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	cb, ok := d.breakers[msg.Channel]
	if !ok {
		return fmt.Errorf("unknown notification channel: %s", msg.Channel)
	}
	if err := cb.Allow(); err != nil {
		metrics.CommunicationsSent.WithLabelValues("FAILED").Inc()
		return fmt.Errorf("channel %s unavailable: %w", msg.Channel, err)
	}
	if err := d.limiters[msg.Channel].Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait on %s: %w", msg.Channel, err)
	}

	var err error
	switch msg.Channel {
	case ChannelEmail:
		err = d.sendEmail(msg)
	case ChannelWebhook:
		err = d.sendWebhook(ctx, msg)
	case ChannelSlack:
		err = d.sendSlack(ctx, msg)
	case ChannelSMS:
		err = d.sendSMS(ctx, msg)
	}

	if err != nil {
		cb.RecordFailure()
		metrics.CommunicationsSent.WithLabelValues("FAILED").Inc()
		d.logger.Errorw("notification send failed",
			"channel", msg.Channel,
			"title", msg.Title,
			"error", err)
		return err
	}
	cb.RecordSuccess()
	metrics.CommunicationsSent.WithLabelValues("SENT").Inc()
	return nil
}

func (d *Dispatcher) sendEmail(msg Message) error {
	if d.config.SMTPHost == "" {
		return fmt.Errorf("smtp host not configured")
	}
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients for email notification")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", d.config.FromAddress)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", msg.Severity, msg.Title)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", d.config.SMTPHost, d.config.SMTPPort)
	var auth smtp.Auth
	if d.config.SMTPUser != "" {
		auth = smtp.PlainAuth("", d.config.SMTPUser, d.config.SMTPPass, d.config.SMTPHost)
	}
	return smtp.SendMail(addr, auth, d.config.FromAddress, msg.Recipients, []byte(b.String()))
}

func (d *Dispatcher) sendWebhook(ctx context.Context, msg Message) error {
	url := msg.Target
	if url == "" {
		url = d.config.WebhookURL
	}
	if url == "" {
		return fmt.Errorf("webhook url not configured")
	}
	payload := map[string]any{
		"title":      msg.Title,
		"message":    msg.Body,
		"severity":   msg.Severity,
		"recipients": msg.Recipients,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	return d.postJSON(ctx, url, payload)
}

func (d *Dispatcher) sendSlack(ctx context.Context, msg Message) error {
	url := msg.Target
	if url == "" {
		url = d.config.SlackURL
	}
	if url == "" {
		return fmt.Errorf("slack webhook url not configured")
	}
	payload := map[string]any{
		"text": fmt.Sprintf("*%s* [%s]\n%s", msg.Title, msg.Severity, msg.Body),
	}
	return d.postJSON(ctx, url, payload)
}

func (d *Dispatcher) sendSMS(ctx context.Context, msg Message) error {
	if d.config.SMSGateway == "" {
		return fmt.Errorf("sms gateway not configured")
	}
	payload := map[string]any{
		"to":   msg.Recipients,
		"text": fmt.Sprintf("[%s] %s: %s", msg.Severity, msg.Title, truncate(msg.Body, 140)),
	}
	return d.postJSON(ctx, d.config.SMSGateway, payload)
}

func (d *Dispatcher) postJSON(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

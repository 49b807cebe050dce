package threat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sentinel/core"
)

// IndicatorFeed is the external indicator source consulted on refresh
type IndicatorFeed interface {
	ListActive(ctx context.Context) ([]*core.ThreatIndicator, error)
}

// Refresher periodically pulls the active indicator set from the feed and
// swaps the matcher snapshot. A failed refresh keeps the previous snapshot;
// losing a refresh only delays detection, it never corrupts state.
type Refresher struct {
	feed     IndicatorFeed
	matcher  *Matcher
	interval time.Duration
	timeout  time.Duration
	logger   *zap.SugaredLogger
	cancel   context.CancelFunc
}

// NewRefresher creates a refresher for the given feed and matcher
func NewRefresher(feed IndicatorFeed, matcher *Matcher, interval, timeout time.Duration, logger *zap.SugaredLogger) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Refresher{
		feed:     feed,
		matcher:  matcher,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start runs an immediate refresh and then refreshes on the interval until
// the parent context is cancelled or Stop is called.
func (r *Refresher) Start(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	r.cancel = cancel

	r.Refresh(ctx)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Refresh(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the refresh loop
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Refresh pulls the feed once, bounded by the collaborator timeout
func (r *Refresher) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	indicators, err := r.feed.ListActive(ctx)
	if err != nil {
		r.logger.Warnf("Indicator feed refresh failed, keeping previous snapshot: %v", err)
		return
	}
	r.matcher.SetIndicators(indicators)
	r.logger.Debugf("Indicator snapshot refreshed: %d active", len(r.matcher.Indicators()))
}

// Package bootstrap assembles the sentinel engine from configuration and
// manages its lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sentinel/bus"
	"sentinel/config"
	"sentinel/core"
	"sentinel/correlate"
	"sentinel/detect"
	"sentinel/incident"
	"sentinel/notify"
	"sentinel/score"
	"sentinel/service"
	"sentinel/storage"
	"sentinel/threat"
)

const (
	redisPoolSize   = 10
	refreshTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// App holds every wired component and owns startup/shutdown ordering
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Store      storage.Store
	Cache      *core.RedisCache
	Matcher    *threat.Matcher
	Refresher  *threat.Refresher
	Correlator *correlate.Engine
	Rules      *detect.RuleEngine
	Bus        *bus.DetectionBus
	Incidents  *incident.Manager
	Pool       *core.WorkerPool
	Engine     *service.Engine

	metricsServer *http.Server
	shutdownCh    chan struct{}
}

// NewApp loads configuration and wires all components. Nothing starts
// running until Start.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, sugar, err := InitLogger(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		Config:     cfg,
		Logger:     logger,
		Sugar:      sugar,
		shutdownCh: make(chan struct{}),
	}
	sugar.Infow("sentinel starting", "storage", cfg.Storage.Backend)

	switch cfg.Storage.Backend {
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		app.Store = store
	default:
		app.Store = storage.NewMemoryStore()
	}

	if cfg.Redis.Enabled {
		cache := core.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisPoolSize, sugar)
		if err := cache.Ping(ctx); err != nil {
			sugar.Warnw("redis unreachable, continuing without cache", "addr", cfg.Redis.Addr, "error", err)
		} else {
			app.Cache = cache
		}
	}

	dedup, err := core.NewDeduplicator(cfg.Engine.DedupCacheSize, cfg.Engine.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to build deduplicator: %w", err)
	}

	app.Matcher = threat.NewMatcher(sugar)
	app.Refresher = threat.NewRefresher(app.Store, app.Matcher, cfg.Indicators.RefreshInterval, refreshTimeout, sugar)
	app.Correlator = correlate.NewEngine(cfg.Engine.CorrelationWindow, sugar)
	app.Bus = bus.NewDetectionBus(cfg.Engine.BusBufferSize, sugar)

	notifier := notify.NewDispatcher(notify.Config{
		SMTPHost:      cfg.Notify.SMTPHost,
		SMTPPort:      cfg.Notify.SMTPPort,
		SMTPUser:      cfg.Notify.SMTPUser,
		SMTPPass:      cfg.Notify.SMTPPass,
		FromAddress:   cfg.Notify.FromAddress,
		WebhookURL:    cfg.Notify.WebhookURL,
		SlackURL:      cfg.Notify.SlackURL,
		SMSGateway:    cfg.Notify.SMSGateway,
		Headers:       cfg.Notify.Headers,
		RatePerSecond: cfg.Notify.RatePerSecond,
		HTTPTimeout:   cfg.Notify.HTTPTimeout,
	}, sugar)

	var runner incident.ActionRunner
	if cfg.Actions.RunnerEndpoint != "" {
		runner = incident.NewWebhookActionRunner(cfg.Actions.RunnerEndpoint, cfg.Actions.Timeout, sugar)
	} else {
		runner = incident.NewLogActionRunner(sugar)
	}

	var playbooks map[core.IncidentCategory][]incident.PlaybookAction
	if cfg.Playbooks.File != "" {
		playbooks, err = incident.LoadPlaybooks(cfg.Playbooks.File)
		if err != nil {
			return nil, fmt.Errorf("failed to load playbooks: %w", err)
		}
	}

	mcfg := incident.ManagerConfig{
		Store:     app.Store,
		Notifier:  notifier,
		Runner:    runner,
		Assigner:  incident.NewStaticCommanderAssigner(nil, ""),
		Reviews:   incident.NewLogReviewScheduler(sugar),
		Playbooks: playbooks,
		Logger:    sugar,
	}
	if app.Cache != nil {
		mcfg.Cache = app.Cache
		mcfg.CacheTTL = cfg.Redis.TTL
	}
	app.Incidents = incident.NewManager(mcfg)

	app.Rules = detect.NewRuleEngine(app.Store, app.Store, notifier, app.Bus, sugar)
	app.Pool = core.NewWorkerPool(ctx, cfg.Engine.WorkerCount, cfg.Engine.QueueSize, "ingest", sugar)

	app.Engine = service.NewEngine(service.EngineConfig{
		Store:      app.Store,
		Cache:      app.Cache,
		Dedup:      dedup,
		Scorer:     score.NewScorer(nil, nil, nil, sugar),
		Matcher:    app.Matcher,
		Correlator: app.Correlator,
		Rules:      app.Rules,
		Bus:        app.Bus,
		Incidents:  app.Incidents,
		Pool:       app.Pool,
		Logger:     sugar,
	})
	app.Incidents.SetIngester(app.Engine)

	handler := incident.NewDetectionHandler(app.Incidents, sugar)
	app.Bus.Subscribe("incident-manager", handler.Handle)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		app.metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	}

	return app, nil
}

// Start brings the engine online: worker pool, rule and indicator
// snapshots, background sweeps, escalation timer reconciliation and the
// metrics endpoint.
func (a *App) Start(ctx context.Context) error {
	a.Pool.Start()

	if a.Config.Rules.Dir != "" {
		if _, err := os.Stat(a.Config.Rules.Dir); err == nil {
			rules, err := detect.LoadRulesFromDir(a.Config.Rules.Dir)
			if err != nil {
				return fmt.Errorf("failed to load rules: %w", err)
			}
			if err := detect.SeedRules(ctx, a.Store, a.Rules, rules, a.Sugar); err != nil {
				return err
			}
		}
	}
	if err := a.Rules.ReloadRules(ctx); err != nil {
		return err
	}

	a.Refresher.Start(ctx)
	a.Correlator.StartSweep(ctx, a.Config.Engine.SweepInterval)
	a.Rules.StartSuppressionSweep(ctx)
	go a.runExpirySweep(ctx)

	if err := a.Incidents.RearmOpenIncidents(ctx); err != nil {
		a.Sugar.Errorw("escalation timer reconciliation failed", "error", err)
	}

	if a.metricsServer != nil {
		go func() {
			a.Sugar.Infow("metrics endpoint listening", "addr", a.metricsServer.Addr)
			if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Sugar.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	a.Sugar.Info("sentinel started")
	return nil
}

// runExpirySweep periodically deactivates expired indicators
func (a *App) runExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(a.Config.Indicators.ExpirySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.shutdownCh:
			return
		case <-ticker.C:
			n, err := a.Store.DeactivateExpired(ctx)
			if err != nil {
				a.Sugar.Warnw("indicator expiry sweep failed", "error", err)
			} else if n > 0 {
				a.Sugar.Infow("expired indicators deactivated", "count", n)
			}
		}
	}
}

// WaitForShutdown blocks until SIGINT or SIGTERM
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown stops components in reverse dependency order
func (a *App) Shutdown() {
	a.Sugar.Info("shutting down")
	close(a.shutdownCh)

	a.Refresher.Stop()
	a.Correlator.StopSweep()
	a.Rules.StopSuppressionSweep()
	a.Incidents.Stop()

	// Drain in-flight detection work before closing the bus.
	a.Pool.Stop()
	a.Bus.Close()

	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.Sugar.Warnw("metrics server shutdown failed", "error", err)
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Sugar.Warnw("redis close failed", "error", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		a.Sugar.Warnw("store close failed", "error", err)
	}
	_ = a.Logger.Sync()
	a.Sugar.Info("shutdown complete")
}

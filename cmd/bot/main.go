package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/dfalkner/autotrader/internal/broker"
	"github.com/dfalkner/autotrader/internal/candidates"
	"github.com/dfalkner/autotrader/internal/config"
	"github.com/dfalkner/autotrader/internal/dashboard"
	"github.com/dfalkner/autotrader/internal/executor"
	"github.com/dfalkner/autotrader/internal/marketdata"
	"github.com/dfalkner/autotrader/internal/models"
	"github.com/dfalkner/autotrader/internal/positions"
	"github.com/dfalkner/autotrader/internal/rehydrate"
	"github.com/dfalkner/autotrader/internal/retry"
	"github.com/dfalkner/autotrader/internal/risk"
	"github.com/dfalkner/autotrader/internal/services"
	"github.com/dfalkner/autotrader/internal/signals"
	"github.com/dfalkner/autotrader/internal/storage"
	"github.com/dfalkner/autotrader/internal/util"
)

const (
	defaultStartupDelay = 10 * time.Second
	regimeCacheTTL      = 15 * time.Minute
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Secrets come from the environment; a local .env is optional.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting auto trader in %s mode", cfg.Environment.Mode)
	if cfg.IsLive() {
		logger.Println("LIVE TRADING MODE - real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	} else {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		logger.Fatalf("Failed to open datastore: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("Warning: closing datastore: %v", err)
		}
	}()

	// Retry handles transient gateway hiccups; the breaker on top fails fast
	// when the gateway is down outright.
	brk := broker.NewCircuitBreakerBroker(retry.Wrap(broker.NewGatewayClient(cfg.Gateway.BaseURL), logger))
	brk.OnConnectionChange(func(connected bool) {
		logger.Printf("Gateway connection changed: connected=%v", connected)
	})

	data := marketdata.NewClient(marketdata.Config{
		FinnhubBaseURL: cfg.MarketData.BaseURL,
		FinnhubAPIKey:  cfg.MarketData.Token,
		ChartBaseURL:   cfg.MarketData.ChartsURL,
	})
	sectors := marketdata.NewSectorCache(data)
	regime := marketdata.NewRegimeCache(data, cfg.MarketData.BroadSymbol, regimeCacheTTL)

	clock := util.NewClock()
	gate := risk.NewGate(store, sectors, data, clock, logger)
	exec := executor.New(brk, store, clock, logger)
	analysisGate := candidates.NewAnalysisGate(services.NewAnalysisClient(cfg.Services.AnalysisURL), data, logger)

	orch := &Orchestrator{
		cfg:          cfg,
		store:        store,
		broker:       brk,
		data:         data,
		scanner:      services.NewScannerClient(cfg.Services.ScannerURL),
		suggester:    services.NewSuggestionsClient(cfg.Services.SuggestionsURL),
		analysisGate: analysisGate,
		selector:     candidates.NewSuggestedSelector(services.NewAnalysisClient(cfg.Services.AnalysisURL), regime, logger),
		gate:         gate,
		exec:         exec,
		queuer:       signals.NewQueuer(store, clock, logger),
		processor:    signals.NewProcessor(store, gate, analysisGate, data, exec, clock, logger),
		manager:      positions.NewManager(store, gate, exec, clock, logger),
		rehydrator:   rehydrate.New(store, clock, logger),
		reconciler:   NewReconciler(store, brk, data, cfg.MarketData.BroadSymbol, clock, logger),
		clock:        clock,
		logger:       logger,
		state:        models.NewOrchestratorState(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cron triggers run in ET so market-hour expressions behave across DST.
	sched := cron.New(
		cron.WithLocation(util.ETLocation()),
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
	)
	for name, expr := range map[string]string{
		"market cycle": cfg.Schedule.MarketCycleCron,
		"open prep":    cfg.Schedule.OpenPrepCron,
		"post close":   cfg.Schedule.PostCloseCron,
	} {
		if _, err := sched.AddFunc(expr, func() { orch.RunCycle(ctx) }); err != nil {
			logger.Fatalf("Failed to register %s trigger: %v", name, err)
		}
		logger.Printf("Registered %s trigger: %q", name, expr)
	}
	sched.Start()

	// Realtime path: execution-only cycles debounced off trade-scan writes.
	go orch.runRealtimeLoop(ctx)

	// One startup cycle so a mid-day restart doesn't wait for the next tick.
	startupDelay := cfg.StartupDelayDuration()
	if startupDelay <= 0 {
		startupDelay = defaultStartupDelay
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-time.After(startupDelay):
			orch.RunCycle(ctx)
		}
	}()

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dlog := logrus.New()
		if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
			dlog.SetLevel(level)
		}
		dash = dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, orch, dlog)
		go func() {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("ERROR: dashboard server: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Println("Shutdown signal received, stopping...")
	cancel()

	if dash != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dash.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Warning: dashboard shutdown: %v", err)
		}
		shutdownCancel()
	}
	<-sched.Stop().Done()

	logger.Println("Auto trader stopped")
}

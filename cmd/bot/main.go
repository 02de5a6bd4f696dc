package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/botelyes/futroll/internal/broker"
	"github.com/botelyes/futroll/internal/catalog"
	"github.com/botelyes/futroll/internal/config"
	"github.com/botelyes/futroll/internal/contracts"
	"github.com/botelyes/futroll/internal/engine"
	"github.com/botelyes/futroll/internal/hedge"
	"github.com/botelyes/futroll/internal/journal"
	"github.com/botelyes/futroll/internal/server"
	"github.com/botelyes/futroll/internal/symbols"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting futures rollover bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Info("PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Warn("LIVE TRADING MODE - Real money at risk!")
		logger.Warn("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	// Broker client behind a circuit breaker.
	var kite *broker.KiteAPI
	if cfg.Broker.APIEndpoint != "" {
		kite = broker.NewKiteAPIWithBaseURL(cfg.Broker.APIKey, cfg.Broker.AccessToken, cfg.Broker.APIEndpoint)
	} else {
		kite = broker.NewKiteAPI(cfg.Broker.APIKey, cfg.Broker.AccessToken)
	}
	brk := broker.NewCircuitBreakerBroker(kite)

	stdLogger := logger.WriterLevel(logrus.InfoLevel)
	componentLogger := newComponentLogger(stdLogger)

	cat := catalog.New(brk, componentLogger)

	var policy contracts.RolloverPolicy
	switch cfg.Rollover.Policy {
	case config.PolicyDayOfMonth:
		policy = contracts.NewDayOfMonthPolicy(cfg.Rollover.CutoffDay)
	default:
		policy = contracts.NewDaysToExpiryPolicy(cfg.Rollover.Days)
	}
	resolver := contracts.NewResolver(cat, policy)
	logger.Infof("Rollover policy: %s", policy.Name())

	var hedger engine.Hedger
	if cfg.Hedge.Enabled {
		hedgeCfg := hedge.DefaultConfig
		hedgeCfg.OffsetPct = cfg.Hedge.OffsetPct
		hedger = hedge.NewCoordinator(brk, cat, componentLogger, hedgeCfg)
		logger.Infof("Hedge leg enabled at %.1f%% strike offset", cfg.Hedge.OffsetPct*100)
	}

	jnl, err := journal.New(cfg.Journal.Path)
	if err != nil {
		logger.Fatalf("Failed to open trade journal: %v", err)
	}

	eng := engine.New(brk, cat, resolver, symbols.NewResolver(cfg.Symbols.CommodityOnly), engine.Options{
		Hedger:     hedger,
		Journal:    jnl,
		Timeframes: cfg.Signals.Timeframes,
		Logger:     componentLogger,
	})

	srv := server.NewServer(server.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, stopping bot...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !isServerClosed(err) {
		logger.Fatalf("Bot error: %v", err)
	}
	logger.Info("Bot stopped successfully")
	_ = stdLogger.Close()
	os.Exit(0)
}

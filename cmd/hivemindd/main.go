// hivemindd is the orchestrator daemon: event kernel, trigger-file
// ingestion, delivery tracking, contract promotion and the HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/api"
	"github.com/hivemind/orchestrator/internal/config"
	"github.com/hivemind/orchestrator/internal/delivery"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/infra"
	"github.com/hivemind/orchestrator/internal/kernel"
	"github.com/hivemind/orchestrator/internal/monitoring"
	"github.com/hivemind/orchestrator/internal/promotion"
	"github.com/hivemind/orchestrator/internal/trigger"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HIVEMIND_CONFIG"))
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	setupLogging(cfg.Logging)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	prom := monitoring.New(registry)

	k := kernel.New(kernel.Options{
		Metrics:           prom,
		RingMaxEntries:    cfg.Kernel.RingMaxEntries,
		RingMaxAge:        cfg.Kernel.RingMaxAge.Std(),
		DeferTTL:          cfg.Kernel.DeferTTL.Std(),
		SafeModeWindow:    cfg.SafeMode.Window.Std(),
		SafeModeThreshold: cfg.SafeMode.Threshold,
		SafeModeCooldown:  cfg.SafeMode.Cooldown.Std(),
		DevMode:           cfg.Kernel.DevMode,
	})

	sequencer := delivery.NewSequencer(cfg.Delivery.StatePath, nil)
	if err := sequencer.Load(); err != nil {
		log.WithError(err).Warn("message state not restored, starting fresh")
	}
	tracker := delivery.NewTracker(delivery.TrackerOptions{
		Sequencer: sequencer,
		Prom:      prom,
		Emitter:   k,
		Timeout:   cfg.Delivery.AckTimeout.Std(),
	})

	promoter := promotion.NewEngine(promotion.Options{
		Kernel:      k,
		Path:        cfg.Promotion.StatsPath,
		MinSessions: cfg.Promotion.MinSessions,
		MinSignoffs: cfg.Promotion.MinSignoffs,
	})
	if err := promoter.Load(); err != nil {
		log.WithError(err).Warn("contract stats not restored, starting fresh")
	}
	if _, err := k.Subscribe(event.TypeContractShadowViolation, promoter.HandleShadowViolation); err != nil {
		log.WithError(err).Fatal("failed to wire promotion engine")
	}
	promoter.IncrementSession()

	if cfg.Redis.Enabled {
		mirror, err := infra.NewEventMirror(cfg.Redis.Addr, cfg.Redis.Channel)
		if err != nil {
			log.WithError(err).Warn("redis mirror disabled")
		} else {
			defer mirror.Close()
			if _, err := k.Subscribe(event.MatchAll, mirror.Handle); err != nil {
				log.WithError(err).Warn("failed to wire redis mirror")
			}
		}
	}

	ingestor := trigger.NewIngestor(trigger.Options{
		Dir:           cfg.Trigger.Dir,
		Table:         trigger.NewTable(cfg.Roles.Panes, cfg.Roles.Workers),
		Tracker:       tracker,
		Emitter:       k,
		Prom:          prom,
		AllowStates:   cfg.Trigger.AllowStates,
		StaleClaimAge: cfg.Trigger.StaleClaimAge.Std(),
		DedupeTTL:     cfg.Trigger.DedupeTTL.Std(),
		DedupeCap:     cfg.Trigger.DedupeCap,
	})
	watcher := trigger.NewWatcher(ingestor, cfg.Trigger.RescanInterval.Std())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := watcher.Run(ctx); err != nil && err != context.Canceled {
			log.WithError(err).Error("trigger watcher stopped")
		}
	}()

	server := api.NewServer(k, tracker, promoter, registry)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			log.WithError(err).Fatal("api server failed")
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Info("shutting down")
}

func setupLogging(cfg config.LoggingConfig) {
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

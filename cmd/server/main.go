package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loglane/backend/internal/analyzer"
	"github.com/loglane/backend/internal/api"
	"github.com/loglane/backend/internal/broadcast"
	"github.com/loglane/backend/internal/config"
	"github.com/loglane/backend/internal/core"
	"github.com/loglane/backend/internal/detect"
	"github.com/loglane/backend/internal/faults"
	"github.com/loglane/backend/internal/infra"
	"github.com/loglane/backend/internal/metrics"
	"github.com/loglane/backend/internal/notify"
	"github.com/loglane/backend/internal/parser"
	"github.com/loglane/backend/internal/pipeline"
	"github.com/loglane/backend/internal/queue"
	"github.com/loglane/backend/internal/store"
	"github.com/loglane/backend/internal/tail"
	"github.com/loglane/backend/internal/validate"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	log.Println("Starting loglane ingestion pipeline...")

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	} else {
		cfg = config.Default()
	}

	clock := core.NewClock()

	// Storage.
	var storage store.Store
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DSN != "" {
		pg, err := store.NewPostgresStore(cfg.Storage.DSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		storage = pg
	} else {
		log.Println("no DATABASE_URL; using in-memory store")
		storage = store.NewMemoryStore()
	}
	defer storage.Close()

	// Metrics.
	collector := metrics.NewCollector()
	prom := metrics.NewPromMetrics(prometheus.DefaultRegisterer)

	// Broadcast and fault handling. The broadcaster is the fault sink.
	caster := broadcast.New(clock)
	caster.SetMetrics(collector, prom)
	handler := faults.NewHandler(clock, caster, 256)
	handler.SetMetrics(prom)

	// Notification engine: log channel always, pubsub when configured, plus
	// rule-defined webhook channels from the environment.
	notifier := notify.NewEngine(clock)
	notifier.SetMetrics(collector, prom)
	if err := notifier.RegisterChannel(notify.NewLogChannel("log")); err != nil {
		log.Fatalf("notify: %v", err)
	}
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		ch := notify.NewWebhookChannel("webhook", url, os.Getenv("WEBHOOK_SECRET"))
		if err := notifier.RegisterChannel(ch); err != nil {
			log.Printf("webhook channel disabled: %v", err)
		}
	}
	if cfg.PubSub.Enabled {
		ch, err := notify.NewPubSubChannel("pubsub", cfg.PubSub.Project, cfg.PubSub.Topic)
		if err != nil {
			log.Printf("pubsub channel disabled: %v", err)
		} else {
			defer ch.Close()
			if err := notifier.RegisterChannel(ch); err != nil {
				log.Printf("pubsub channel disabled: %v", err)
			}
		}
	}
	for _, rc := range cfg.Rules {
		rule := &notify.Rule{
			RuleName:        rc.Name,
			Enabled:         rc.Enabled,
			MinSeverity:     rc.MinSeverity,
			MaxSeverity:     rc.MaxSeverity,
			Channels:        rc.Channels,
			ThrottleMinutes: rc.ThrottleMinutes,
			Sources:         rc.Sources,
		}
		for _, c := range rc.Categories {
			rule.Categories = append(rule.Categories, core.Category(c))
		}
		if err := notifier.AddRule(rule); err != nil {
			log.Printf("rule %s skipped: %v", rc.Name, err)
		}
	}

	// Validation, parsing, detection.
	limits := validate.Limits{
		MaxContentLength: cfg.Validate.MaxContentLength,
		MaxLineLength:    cfg.Validate.MaxLineLength,
	}
	validator := validate.NewValidator(limits)
	sanitizer := validate.NewSanitizer(validator.Limits(), cfg.Validate.MaxConsecutiveReplacements, clock)
	static := parser.NewStaticParser(clock)
	detector := detect.NewDetector()
	patterns := detect.NewPatternCache(cfg.Detect.MaxPatterns)

	// Optional Redis bridge: local envelopes fan out to the shared channel,
	// remote ones replay to local observers, and learned patterns are
	// mirrored so sibling instances skip re-learning.
	if cfg.Redis.Enabled {
		bridge, err := infra.NewRedisBridge(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
		if err != nil {
			log.Printf("redis disabled: %v", err)
		} else {
			defer bridge.Close()
			caster.Register(bridge)
			err := bridge.Relay(context.Background(), func(env broadcast.Envelope) {
				caster.Replay(env, bridge.ID())
			})
			if err != nil {
				log.Printf("redis relay disabled: %v", err)
			}
			patterns.SetMirror(bridge)
		}
	}

	// Queue and orchestrator.
	q := queue.New(clock, queue.Config{
		Capacity:      cfg.Queue.MaxQueueSize,
		Workers:       cfg.Queue.Workers,
		BatchSize:     cfg.Queue.BatchSize,
		FlushInterval: cfg.Queue.FlushInterval(),
		MaxRetries:    cfg.Queue.MaxRetries,
		RetryBase:     cfg.Queue.RetryBase(),
		RetryMax:      cfg.Queue.RetryMax(),
	})
	scorer := analyzer.NewGuard(analyzer.NewRuleScorer(clock), cfg.Analyzer.AnalyzerTimeout())
	orch := pipeline.New(pipeline.Deps{
		Clock:     clock,
		Validator: validator,
		Sanitizer: sanitizer,
		Static:    static,
		Detector:  detector,
		Patterns:  patterns,
		Store:     storage,
		Analyzer:  scorer,
		Notifier:  notifier,
		Caster:    caster,
		Faults:    handler,
		Queue:     q,
		Collector: collector,
		Prom:      prom,
	})
	q.SetBatchProcessor(orch.ProcessBatch)
	q.SetErrorHandler(func(entry *core.LogEntry, err error) {
		log.Printf("entry %s ended %s: %v", entry.EntryID, entry.CurrentStatus(), err)
	})
	if err := q.Start(); err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer q.Stop()

	// File tailing sources.
	if len(cfg.Sources) > 0 {
		tailer, err := tail.New(clock, q)
		if err != nil {
			log.Fatalf("tail: %v", err)
		}
		for _, src := range cfg.Sources {
			err := tailer.Watch(tail.Source{
				Path:     src.Path,
				Name:     src.Name,
				Priority: core.ParsePriority(src.Priority),
			})
			if err != nil {
				log.Printf("source %s skipped: %v", src.Path, err)
			}
		}
		tailer.Start()
		defer tailer.Stop()
	}

	// Periodic system status for dashboards.
	statusDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-statusDone:
				return
			case <-ticker.C:
				stats := q.Stats()
				prom.QueueDepth.Set(float64(stats.Pending))
				prom.QueuePressure.Set(q.Pressure())
				caster.BroadcastSystemStatus(map[string]interface{}{
					"queue":    stats,
					"pressure": q.Pressure(),
					"patterns": patterns.Len(),
					"uptime_s": collector.Uptime().Seconds(),
				})
			}
		}
	}()
	defer close(statusDone)

	// HTTP API plus WebSocket stream.
	streamer := api.NewStreamer(caster)
	go streamer.Run()
	defer streamer.Stop()

	server := api.NewServer(clock, q, patterns, handler, collector, storage, streamer)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil {
			log.Printf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

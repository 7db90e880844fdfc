// Package service is the top-level orchestrator. It wires the Redis
// bar-event consumer, the ring buffer, the snapshot engine, the sink
// fan-out and the persistence writers, manages tracker checkpointing,
// and coordinates graceful shutdown.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"snapsig/config"
	"snapsig/internal/engine"
	"snapsig/internal/gateway"
	"snapsig/internal/logger"
	"snapsig/internal/metrics"
	"snapsig/internal/model"
	"snapsig/internal/notification"
	"snapsig/internal/ringbuf"
	"snapsig/internal/sink"
	jsonlsink "snapsig/internal/sink/jsonl"
	redissink "snapsig/internal/sink/redis"
	sqlitesink "snapsig/internal/sink/sqlite"
	"snapsig/internal/source"
	redissource "snapsig/internal/source/redis"
	"snapsig/internal/tracker"
)

// Service wires all subsystems and manages their lifecycle.
type Service struct {
	cfg   *config.Config
	feeds []model.Feed
	runID string

	consumer    *redissource.Consumer
	history     *source.History
	tracker     *tracker.Tracker
	engine      *engine.Engine
	bus         *sink.Bus
	redisWriter *redissink.Writer
	sqlWriter   *sqlitesink.Writer
	jsonlWriter *jsonlsink.Writer
	hub         *gateway.Hub
	prom        *metrics.Metrics
	health      *metrics.HealthStatus
	httpSrv     *metrics.Server

	streams []string
	eventCh chan model.BarEvent
	ring    *ringbuf.Ring
}

// New creates a Service from the given config. It connects to Redis,
// opens SQLite and the JSONL file, and wires the pipeline.
func New(cfg *config.Config, feeds []model.Feed) (*Service, error) {
	svc := &Service{
		cfg:     cfg,
		feeds:   feeds,
		runID:   uuid.NewString(),
		prom:    metrics.NewMetrics(),
		eventCh: make(chan model.BarEvent, 4096),
		ring:    ringbuf.New(8192),
	}

	// ---- Connect to Redis (consumer side) ----
	var err error
	svc.consumer, err = redissource.NewConsumer(redissource.ConsumerConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
	})
	if err != nil {
		return nil, err
	}

	// ---- Connect to Redis (writer side) ----
	svc.redisWriter, err = redissink.New(redissink.WriterConfig{
		Addr:                cfg.RedisAddr,
		Password:            cfg.RedisPassword,
		BreakerMaxFailures:  cfg.BreakerMaxFailures,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
	})
	if err != nil {
		svc.consumer.Close()
		return nil, err
	}
	svc.redisWriter.WriteDur = svc.prom.RedisWriteDur.Observe

	// ---- Open SQLite ----
	if err := ensureParentDir(cfg.SQLitePath); err != nil {
		svc.redisWriter.Close()
		svc.consumer.Close()
		return nil, err
	}
	svc.sqlWriter, err = sqlitesink.New(sqlitesink.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Printf("[service] WARNING: sqlite writer init failed: %v (continuing without SQLite journal)", err)
	} else {
		svc.sqlWriter.CommitDur = svc.prom.SQLiteCommitDur.Observe
	}

	// ---- JSONL capture file ----
	if err := ensureParentDir(cfg.JSONLPath); err != nil {
		svc.redisWriter.Close()
		svc.consumer.Close()
		return nil, err
	}
	svc.jsonlWriter = jsonlsink.New(jsonlsink.WriterConfig{Path: cfg.JSONLPath})

	// ---- Pipeline core ----
	svc.history = source.NewHistory()
	svc.tracker = tracker.New()
	svc.bus = sink.NewBus(4096)
	svc.bus.OnDrop = func(name string) {
		svc.prom.SinkDropsTotal.WithLabelValues(name).Inc()
	}

	svc.engine = engine.New(feeds, svc.history, svc.history, svc.tracker, svc.bus, svc.runID)
	svc.engine.OnSnapshot = func(scope model.Scope) {
		svc.prom.SnapshotsTotal.WithLabelValues(string(scope)).Inc()
	}
	svc.engine.OnCorrection = func(v model.ViolationKind) {
		svc.prom.CorrectionsTotal.WithLabelValues(string(v)).Inc()
	}
	svc.engine.OnDiagnostic = func(reason model.DiagReason) {
		svc.prom.DiagnosticsTotal.WithLabelValues(string(reason)).Inc()
	}
	svc.engine.OnBias = func(kind model.BiasKind) {
		svc.prom.BiasTotal.WithLabelValues(string(kind)).Inc()
	}
	svc.engine.OnSuppressed = svc.prom.SuppressedTotal.Inc
	svc.engine.OnRescale = svc.prom.RescalesTotal.Inc

	// ---- WebSocket gateway ----
	svc.hub = gateway.NewHub()
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	// ---- HTTP: /metrics, /healthz, /ws ----
	feedKeys := make([]string, len(feeds))
	for i, f := range feeds {
		feedKeys[i] = f.Key()
	}
	svc.health = metrics.NewHealthStatus(feedKeys)
	srv, mux := metrics.NewServer(cfg.MetricsAddr, svc.health)
	svc.httpSrv = srv
	mux.HandleFunc("/ws", svc.hub.HandleWS)

	return svc, nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	log.Printf("[service] starting (run_id=%s, %d feeds)", svc.runID, len(svc.feeds))

	// ---- Restore tracker lineage from the last checkpoint ----
	svc.restoreTracker(ctx)

	// ---- Stream setup ----
	svc.streams = redissource.Streams(svc.feeds)
	log.Printf("[service] consuming from %d streams: %v", len(svc.streams), svc.streams)

	if err := svc.consumer.EnsureConsumerGroup(ctx, svc.streams); err != nil {
		log.Printf("[service] WARNING: consumer group setup: %v", err)
	}
	if err := svc.consumer.RecoverPending(ctx, svc.streams, svc.eventCh); err != nil {
		log.Printf("[service] pending recovery error: %v", err)
	}

	// ---- Sink subscribers ----
	go svc.redisWriter.Run(ctx, svc.bus.Subscribe("redis"))
	if svc.sqlWriter != nil {
		go svc.sqlWriter.Run(ctx, svc.bus.Subscribe("sqlite"))
	}
	go svc.jsonlWriter.Run(ctx, svc.bus.Subscribe("jsonl"))
	go svc.hub.Run(ctx, svc.bus.Subscribe("gateway"))

	watcher := notification.NewStreakWatcher(svc.buildNotifier(), svc.cfg.OutageThreshold)
	go watcher.Run(ctx, svc.bus.Subscribe("streak"))

	// ---- Event flow ----
	go func() {
		if err := svc.consumer.Consume(ctx, svc.streams, svc.eventCh); err != nil && ctx.Err() == nil {
			log.Printf("[service] consumer error: %v", err)
		}
	}()
	go svc.pumpLoop(ctx)
	go svc.processLoop(ctx)

	// ---- Housekeeping ----
	go svc.checkpointLoop(ctx)
	go svc.saturationLoop(ctx)
	svc.health.StartLivenessChecker(ctx, svc.redisWriter.Client(), svc.sqlDB(), 10*time.Second)
	svc.httpSrv.Start()

	log.Printf("[service] all systems running (checkpoint every %s)", svc.cfg.CheckpointInterval)

	<-ctx.Done()
	svc.shutdown()
	return nil
}

// pumpLoop moves consumed events from the channel into the ring buffer,
// decoupling Redis reads from engine cycles.
func (svc *Service) pumpLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-svc.eventCh:
			if !ok {
				return
			}
			if !svc.ring.Push(ev) {
				svc.prom.RingBufOverflow.Inc()
			}
		}
	}
}

// processLoop drains the ring buffer and runs one engine cycle per event.
func (svc *Service) processLoop(ctx context.Context) {
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		ev, ok := svc.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		svc.prom.BarEventsTotal.Inc()
		svc.health.SetLastEventTime(ev.TS)
		svc.history.Append(ev)

		cycleCtx := logger.WithTraceID(ctx, logger.GenerateTraceID(ev.Key(), ev.BarIndex))
		slog.Debug("cycle start", append(logger.LogWithTrace(cycleCtx),
			slog.String("feed", ev.Key()), slog.Int("bar_index", ev.BarIndex))...)

		start := time.Now()
		svc.engine.CycleEvent(ev)
		svc.prom.CyclesTotal.Inc()
		svc.prom.CycleDur.Observe(time.Since(start).Seconds())
	}
}

// checkpointLoop persists tracker lineage periodically so dedup survives
// restarts.
func (svc *Service) checkpointLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveCheckpoint(ctx, "interval")
		}
	}
}

func (svc *Service) saveCheckpoint(ctx context.Context, reason string) {
	cp := svc.tracker.Checkpoint(reason)
	data, err := cp.JSON()
	if err != nil {
		log.Printf("[service] checkpoint marshal error: %v", err)
		return
	}
	if err := svc.redisWriter.SaveCheckpoint(ctx, svc.cfg.CheckpointKey, data); err != nil {
		log.Printf("[service] redis checkpoint save error: %v", err)
	}
	if svc.sqlWriter != nil {
		if err := svc.sqlWriter.SaveCheckpoint(data); err != nil {
			log.Printf("[service] sqlite checkpoint save error: %v", err)
		}
	}
	svc.prom.CheckpointsTotal.Inc()
}

// restoreTracker loads the most recent checkpoint, preferring Redis and
// falling back to SQLite.
func (svc *Service) restoreTracker(ctx context.Context) {
	data, err := svc.redisWriter.ReadCheckpoint(ctx, svc.cfg.CheckpointKey)
	if err != nil {
		log.Printf("[service] redis checkpoint read error: %v", err)
	}
	if data == nil && svc.sqlWriter != nil {
		data, err = svc.sqlWriter.ReadLatestCheckpoint()
		if err != nil {
			log.Printf("[service] sqlite checkpoint read error: %v", err)
		}
	}

	cp, err := tracker.ParseCheckpoint(data)
	if err != nil {
		log.Printf("[service] checkpoint parse error: %v (starting cold)", err)
		return
	}
	if cp == nil {
		log.Printf("[service] no checkpoint found, starting cold")
		return
	}
	if err := svc.tracker.Restore(cp); err != nil {
		log.Printf("[service] checkpoint restore error: %v (starting cold)", err)
		return
	}
	log.Printf("[service] restored tracker lineage for %d feeds (taken %s, reason=%s)",
		len(cp.Feeds), cp.TakenAt.Format(time.RFC3339), cp.Reason)
}

// saturationLoop samples sink channel occupancy into the saturation gauge.
func (svc *Service) saturationLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range svc.bus.ChannelStats() {
				if st.Cap == 0 {
					continue
				}
				pct := float64(st.Len) / float64(st.Cap) * 100.0
				svc.prom.ChannelSaturationPct.WithLabelValues(st.Name).Set(pct)
			}
		}
	}
}

// buildNotifier assembles the alert delivery chain from config.
func (svc *Service) buildNotifier() notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if svc.cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(svc.cfg.WebhookURL))
	}
	if svc.cfg.TelegramBotToken != "" && svc.cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(svc.cfg.TelegramBotToken, svc.cfg.TelegramChatID))
	}
	if len(backends) == 1 {
		return backends[0]
	}
	return notification.NewMultiNotifier(backends...)
}

// ensureParentDir creates the directory holding path, so writers can be
// pointed anywhere the config says without a manual mkdir first.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sqlWriter == nil {
		return nil
	}
	return svc.sqlWriter.DB()
}

// shutdown saves a final checkpoint and closes all connections.
func (svc *Service) shutdown() {
	log.Println("[service] shutdown signal received, saving final checkpoint...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	svc.saveCheckpoint(shutCtx, "shutdown")

	svc.bus.Close()
	svc.httpSrv.Stop(shutCtx)

	svc.jsonlWriter.Close()
	if svc.sqlWriter != nil {
		svc.sqlWriter.Close()
	}
	svc.redisWriter.Close()
	svc.consumer.Close()

	log.Println("[service] shutdown complete.")
}

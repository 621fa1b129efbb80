package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-streamv1/config"
	"crypto-streamv1/internal/bus"
	"crypto-streamv1/internal/indicator"
	"crypto-streamv1/internal/logger"
	"crypto-streamv1/internal/metrics"
	"crypto-streamv1/internal/model"
	"crypto-streamv1/internal/pairs"
	"crypto-streamv1/internal/pipeline"
	"crypto-streamv1/internal/settings"
	redisstore "crypto-streamv1/internal/store/redis"
	sqlitestore "crypto-streamv1/internal/store/sqlite"
	"crypto-streamv1/internal/stream"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("streamengine", slog.LevelInfo)
	log.Println("[streamengine] starting...")

	cfg := config.Load()

	// ---- Pair selection ----
	pairCfg, err := pairs.LoadConfig(cfg.PairConfigPath)
	if err != nil {
		log.Fatalf("[streamengine] pair config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	universe := literalUniverse(pairCfg)
	if cfg.FetchUniverse {
		fetchCtx, fetchCancel := context.WithTimeout(ctx, 15*time.Second)
		fetched, err := pairs.Universe(fetchCtx, nil)
		fetchCancel()
		if err != nil {
			log.Printf("[streamengine] WARNING: exchange info fetch failed: %v (falling back to whitelist literals)", err)
		} else {
			universe = fetched
		}
	}

	selected := pairCfg.Select(universe)
	if len(selected) == 0 {
		log.Fatalf("[streamengine] pair selection is empty, nothing to stream")
	}
	log.Printf("[streamengine] selected %d pairs", len(selected))

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetPairCount(len(selected))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store ----
	os.MkdirAll("data", 0o755)
	store, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[streamengine] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetSQLiteOK(true)
	log.Println("[streamengine] sqlite store ready")

	// ---- Redis mirror (optional) ----
	var redisWriter *redisstore.Writer
	if cfg.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[streamengine] WARNING: redis init failed: %v (continuing without redis)", err)
			redisWriter = nil
		} else {
			health.SetRedisConnected(true)
			log.Println("[streamengine] redis mirror ready")
		}
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), store.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, store.DB(), 10*time.Second)
	}

	// ---- Runtime settings ----
	var settingsStore *settings.Store
	if redisWriter != nil {
		settingsStore = settings.New(redisWriter.Client())
	} else {
		settingsStore = settings.New(nil)
	}
	settingsStore.Load(ctx)

	// ---- Broadcast bus ----
	var external bus.ExternalPublisher
	if redisWriter != nil {
		external = redisWriter
	}
	broadcast := bus.New(cfg.BusBuffer, external)
	broadcast.OnDrop = func(string) { prom.BusDropsTotal.Inc() }
	defer broadcast.Close()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.BusSubscribers.Set(float64(broadcast.SubscriberCount()))
			}
		}
	}()

	// ---- Indicator engine ----
	engine := indicator.NewEngine(store, store, cfg.ROCPeriod)
	engine.OnCompute = func(n int) { prom.IndicatorsTotal.Add(float64(n)) }
	if redisWriter != nil {
		engine.OnValue = func(v model.IndicatorValue) {
			redisWriter.WriteIndicator(ctx, v)
		}
	}

	// ---- Tick processor ----
	var mirror pipeline.Mirror
	if redisWriter != nil {
		mirror = redisWriter
	}
	proc := pipeline.New(selected, store, engine, broadcast, settingsStore, mirror)
	proc.OnTick = func() {
		prom.KlinesTotal.Inc()
		health.SetLastKlineTime(time.Now())
	}
	proc.OnCandle = func() { prom.CandlesTotal.Inc() }
	proc.OnPersist = func(d time.Duration) { prom.SQLiteInsertDur.Observe(d.Seconds()) }
	proc.OnUnknownPair = func(string) { prom.UnknownPairDrops.Inc() }

	// ---- Metrics / health / settings HTTP server ----
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Handle("/settings", settingsStore)
	metricsSrv.Start()

	// ---- Stream client ----
	client, err := stream.New(stream.Config{
		BaseURL:  cfg.StreamURL,
		Pairs:    selected,
		Interval: "1m",
	})
	if err != nil {
		log.Fatalf("[streamengine] stream init failed: %v", err)
	}
	client.OnEvent = func(ev model.KlineEvent) { proc.Handle(ctx, ev) }
	client.OnConnect = func() { health.SetWSConnected(true) }
	client.OnDisconnect = func(err error) {
		health.SetWSConnected(false)
		prom.WSReconnects.Inc()
	}
	client.OnHeartbeatTimeout = func() { prom.HeartbeatTimeouts.Inc() }
	client.OnIgnored = func(string) { prom.IgnoredFrames.Inc() }

	go func() {
		if err := client.Run(ctx); err != nil {
			log.Printf("[streamengine] stream error: %v", err)
		}
	}()

	log.Printf("[streamengine] pipeline ready: [WS kline_1m] -> [SQLite] -> [Indicators] -> [Broadcast]")

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[streamengine] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[streamengine] shutdown complete.")
}

// literalUniverse extracts the non-glob whitelist entries as a fallback
// universe for when the exchange info endpoint is unavailable.
func literalUniverse(cfg *pairs.Config) []string {
	var out []string
	for _, e := range cfg.Whitelist {
		if !containsGlob(e) {
			out = append(out, model.NormalizeSymbol(e))
		}
	}
	return out
}

func containsGlob(s string) bool {
	for _, r := range s {
		if r == '*' {
			return true
		}
	}
	return false
}

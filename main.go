package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/troupehq/troupe/internal/activities"
	"github.com/troupehq/troupe/internal/archive"
	"github.com/troupehq/troupe/internal/backends"
	"github.com/troupehq/troupe/internal/config"
	"github.com/troupehq/troupe/internal/events"
	"github.com/troupehq/troupe/internal/health"
	"github.com/troupehq/troupe/internal/interceptors"
	"github.com/troupehq/troupe/internal/journal"
	"github.com/troupehq/troupe/internal/llm"
	"github.com/troupehq/troupe/internal/pricing"
	"github.com/troupehq/troupe/internal/registry"
	"github.com/troupehq/troupe/internal/temporal"
	"github.com/troupehq/troupe/internal/toolgw"
	"github.com/troupehq/troupe/internal/tracing"
)

func main() {
	// Root context for background services
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := buildLogger(cfg.Logging)
	defer logger.Sync()
	logger.Info("Starting worker",
		zap.String("service", cfg.Service.Name),
		zap.String("config", config.Path()),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Service.Name,
		OTLPEndpoint: cfg.Tracing.Endpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed; continuing without traces", zap.Error(err))
	}

	// ------------------------------------------------------------------
	// Bring up the health manager and admin HTTP endpoints early so they
	// respond while the slower components are still connecting.
	// ------------------------------------------------------------------
	hm := health.NewManager(logger)
	httpMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(httpMux)
	httpMux.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = hm.Start(ctx)
		server := &http.Server{
			Addr:         ":" + strconv.Itoa(cfg.Admin.Port),
			Handler:      httpMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Admin.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// Pricing table and the fallback chain built from it. A worker without
	// prices cannot cost runs or rank substitutes, so this one is fatal.
	table, err := pricing.Load(cfg.Backends.PricingPath)
	if err != nil {
		logger.Fatal("Failed to load pricing table",
			zap.String("path", cfg.Backends.PricingPath), zap.Error(err))
	}
	resolver := backends.NewResolver(table, cfg.Backends.FallbackDepth)
	executor := backends.NewExecutor(resolver, logger)
	if b := cfg.Backends.DefaultBackend; b != "" && !resolver.Known(b) {
		logger.Warn("Default backend is missing from the pricing table; its calls are priced at the default rate",
			zap.String("backend", b))
	}
	for resp, b := range cfg.Backends.Bindings {
		if !resolver.Known(b) {
			logger.Warn("Bound backend is missing from the pricing table; its calls are priced at the default rate",
				zap.String("responsibility", resp), zap.String("backend", b))
		}
	}

	// Generation clients: the chat-completions gateway always, Gemini when
	// a key is present. The mux routes google backends to the latter.
	apiKey := os.Getenv(cfg.Generation.APIKeyEnv)
	if apiKey == "" {
		logger.Warn("Generation API key not set; backend calls will be rejected upstream",
			zap.String("env", cfg.Generation.APIKeyEnv))
	}
	gatewayClient := llm.NewHTTPClient(cfg.Generation.BaseURL, apiKey, cfg.Generation.RPS, cfg.Generation.Burst, logger)
	var geminiClient llm.Generator
	if key := os.Getenv(cfg.Generation.GeminiAPIKeyEnv); key != "" {
		gc, err := llm.NewGeminiClient(ctx, key, cfg.Generation.RPS, cfg.Generation.Burst, logger)
		if err != nil {
			logger.Warn("Gemini client unavailable; google backends fall through to the gateway", zap.Error(err))
		} else {
			geminiClient = gc
		}
	}
	generator, err := llm.NewMux(gatewayClient, geminiClient)
	if err != nil {
		logger.Fatal("Failed to assemble generation clients", zap.Error(err))
	}

	// Search gateway, fronted by an in-process cache. Research units warn
	// and continue when this stays nil.
	var searchGW toolgw.Gateway
	if key := os.Getenv(cfg.Tools.TavilyAPIKeyEnv); key != "" && !cfg.Tools.DisableSearching {
		var httpClient *http.Client
		if cfg.Tools.TimeoutSeconds > 0 {
			httpClient = &http.Client{
				Timeout:   time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
				Transport: interceptors.NewRunHTTPRoundTripper(nil),
			}
		}
		tavily := toolgw.NewTavilyWithClient(key, httpClient, "", logger)
		searchGW = toolgw.NewCachedGateway(tavily, cfg.Tools.CacheSize, cfg.ToolCacheTTL())
	} else {
		logger.Warn("Search gateway disabled; research units run without sources")
	}

	// Redis backs the run archive and the progress event stream. Both are
	// best effort, so a dead Redis degrades runs instead of blocking boot.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not reachable at startup; archive and events degrade until it returns",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	archiveMgr := archive.NewManager(rdb, cfg.ArchiveTTL(), logger)
	archiveMgr.SetLocalCacheSize(cfg.Archive.CacheSize)
	publisher := events.NewPublisher(rdb, logger)
	_ = hm.Register(health.NewRedisChecker(rdb, logger))

	// Postgres journal. Optional: without it runs complete unjournaled.
	var journalWriter *journal.Journal
	jdb, err := journal.Open(cfg.Journal)
	if err != nil {
		logger.Warn("Journal database unavailable; runs will not be journaled", zap.Error(err))
	} else {
		if err := journal.EnsureSchema(ctx, jdb); err != nil {
			logger.Warn("Journal schema check failed; writes may error until migrated", zap.Error(err))
		}
		journalWriter = journal.New(jdb, logger)
		_ = hm.Register(health.NewPostgresChecker(jdb, logger))
		defer jdb.Close()
	}

	_ = hm.Register(health.NewGenerationChecker(cfg.Generation.BaseURL, logger))

	acts := activities.NewActivities(generator, searchGW, executor, table, archiveMgr, journalWriter, publisher, logger)
	acts.SetGenerationDefaults(llm.Config{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
	})

	// Hot-reload for run tunables. A broken watcher pins the boot-time
	// values rather than stopping the worker.
	var cfgMgr *config.Manager
	tun := config.TunablesFrom(cfg)
	if m, err := config.NewManager(config.Path(), tun, logger); err != nil {
		logger.Warn("Config watcher unavailable; run tunables are fixed for this process", zap.Error(err))
		acts.SetTunablesProvider(func() config.Tunables { return tun })
	} else {
		cfgMgr = m
		acts.SetTunablesProvider(m.Current)
		if err := m.Start(); err != nil {
			logger.Warn("Config watch failed to start", zap.Error(err))
		}
	}

	// Initialize Temporal client and worker in background
	var w worker.Worker
	go func() {
		host := cfg.Temporal.HostPort
		// TCP pre-check
		for i := 1; i <= 60; i++ {
			c, err := net.DialTimeout("tcp", host, 2*time.Second)
			if err == nil {
				_ = c.Close()
				break
			}
			logger.Warn("Waiting for Temporal TCP endpoint", zap.String("host", host), zap.Int("attempt", i))
			time.Sleep(1 * time.Second)
		}
		// Dial SDK with retry
		var tClient client.Client
		var err error
		for attempt := 1; ; attempt++ {
			tClient, err = client.Dial(client.Options{
				HostPort:  host,
				Namespace: cfg.Temporal.Namespace,
				Logger:    temporal.NewZapAdapter(logger),
			})
			if err == nil {
				break
			}
			delay := time.Duration(attempt)
			if delay > 15 {
				delay = 15
			}
			logger.Warn("Temporal not ready, retrying",
				zap.Int("attempt", attempt),
				zap.String("host", host),
				zap.Duration("sleep", delay*time.Second),
				zap.Error(err))
			time.Sleep(delay * time.Second)
		}
		_ = hm.Register(health.NewTemporalChecker(tClient, logger))

		wk := worker.New(tClient, cfg.Temporal.TaskQueue, worker.Options{
			MaxConcurrentActivityExecutionSize:     getEnvOrDefaultInt("WORKER_ACT", 10),
			MaxConcurrentWorkflowTaskExecutionSize: getEnvOrDefaultInt("WORKER_WF", 10),
		})
		if err := registry.NewRunRegistry(acts, logger).RegisterAll(wk); err != nil {
			logger.Fatal("Failed to register workflows and activities", zap.Error(err))
		}
		w = wk
		logger.Info("Temporal worker started",
			zap.String("queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace))
		if err := wk.Run(worker.InterruptCh()); err != nil {
			logger.Error("Temporal worker exited with error", zap.Error(err))
		}
	}()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down worker")

	if w != nil {
		w.Stop()
	}
	if cfgMgr != nil {
		_ = cfgMgr.Stop()
	}
	hm.Stop()
	_ = rdb.Close()
}

// buildLogger assembles the process logger: leveled JSON or console output
// on stdout, teed into a rotating file when logging.file is set.
func buildLogger(cfg config.LoggingConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	consoleCore := zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level)
	if cfg.File == "" {
		return zap.New(consoleCore, zap.AddCaller())
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level)
	return zap.New(zapcore.NewTee(consoleCore, fileCore), zap.AddCaller())
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

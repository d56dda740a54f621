// Command orchestrator runs the SentinelOps incident-response workflow
// engine: it wires storage, transport, the approval and recovery
// policies, and the workflow engine together, then serves the
// administrative HTTP surface until told to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sentinelops/orchestrator/approval"
	"github.com/sentinelops/orchestrator/audit"
	"github.com/sentinelops/orchestrator/batcher"
	"github.com/sentinelops/orchestrator/bus"
	"github.com/sentinelops/orchestrator/cache"
	"github.com/sentinelops/orchestrator/clock"
	"github.com/sentinelops/orchestrator/core"
	"github.com/sentinelops/orchestrator/orchestration"
	"github.com/sentinelops/orchestrator/recovery"
	"github.com/sentinelops/orchestrator/resilience"
	"github.com/sentinelops/orchestrator/store"
	"github.com/sentinelops/orchestrator/telemetry"
)

// Exit codes per the external interface: 0 clean shutdown, 1 fatal init
// failure, 2 audit-chain verification failure on startup.
const (
	exitOK               = 0
	exitInitFailure      = 1
	exitAuditChainFailed = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "path to a YAML config overlay")
	flag.Parse()

	cfg, logger, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinelops: config error: %v\n", err)
		return exitInitFailure
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		logger.Error("initialization failed", map[string]interface{}{"error": err.Error()})
		return exitInitFailure
	}
	defer app.telemetry.Shutdown(context.Background())

	if ok, _, err := app.auditLog.Verify(); err != nil || !ok {
		logger.Error("audit chain verification failed on startup", map[string]interface{}{"error": errString(err)})
		return exitAuditChainFailed
	}

	ctx, cancel := context.WithCancel(context.Background())
	app.dispatcher.Start(ctx)

	srv := app.httpServer()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down", nil)
	cancel()
	app.dispatcher.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = app.writeBatcher.Close(shutdownCtx)

	return exitOK
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// loadConfig builds a core.Config from defaults, an optional YAML
// overlay, environment variables, and development-mode detection, and
// the structured logger configured from it.
func loadConfig(configFile string) (*core.Config, core.Logger, error) {
	opts := []core.Option{}
	if os.Getenv(core.EnvDevMode) != "" {
		opts = append(opts, core.WithDevelopmentMode())
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, nil, err
	}
	// The file overlay runs after NewConfig's defaults-then-env pass, so
	// a deployment file wins over an environment variable covering the
	// same field; Validate then re-checks the combined result.
	if configFile != "" {
		if err := cfg.LoadFromYAMLFile(configFile); err != nil {
			return nil, nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, nil, err
		}
	}

	logger := telemetry.NewStructuredLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logger, nil
}

// app holds every wired collaborator main needs to start serving and to
// shut down cleanly.
type app struct {
	cfg          *core.Config
	logger       core.Logger
	telemetry    *telemetry.Provider
	metrics      *telemetry.Sink
	breakers     *resilience.Registry
	auditLog     *audit.Log
	writeBatcher *batcher.Batcher
	dispatcher   *orchestration.Dispatcher
	engine       *orchestration.Engine
}

func buildApp(cfg *core.Config, logger core.Logger) (*app, error) {
	ctx := context.Background()

	provider, err := telemetry.NewProvider(ctx, "sentinelops-orchestrator", "")
	if err != nil {
		return nil, fmt.Errorf("telemetry provider: %w", err)
	}
	metricsSink := telemetry.NewSink("sentinelops-orchestrator")
	core.SetMetricsRegistry(metricsSink)

	clk := clock.New()

	baseStore, baseBus, err := buildBackends(cfg, logger)
	if err != nil {
		return nil, err
	}

	breakers, err := resilience.NewRegistry(func(name string) *resilience.CircuitBreakerConfig {
		c := resilience.DefaultConfig()
		c.ErrorThreshold = cfg.Circuit.ErrorRateThreshold
		c.VolumeThreshold = cfg.Circuit.MinSamples
		c.SleepWindow = cfg.Circuit.OpenCooldown
		c.HalfOpenRequests = cfg.Circuit.HalfOpenProbes
		c.Logger = logger
		if name == resilience.DependencyStore {
			// A version conflict means another writer raced ahead, not
			// that the store is unhealthy.
			c.ErrorClassifier = store.BreakerErrorClassifier
		}
		return c
	})
	if err != nil {
		return nil, fmt.Errorf("circuit breaker registry: %w", err)
	}

	guardedStore := store.WithCircuitBreaker(baseStore, breakers.Get(resilience.DependencyStore))
	guardedBus := bus.NewDependencyRouting(baseBus, breakers, orchestration.TopicDependency)

	var signKey []byte
	if cfg.Audit.SigningEnabled {
		signKey = []byte(cfg.Audit.SigningKey)
	}
	auditLog := audit.New(clk, signKey)

	resultCache := cache.NewLRUCache(cfg.Cache.MaxEntries)
	writeBatcher := batcher.New(guardedStore, cfg.Batcher.FlushInterval, logger)
	rateLimiter := resilience.NewRateLimiter(50, 100)

	approvalCfg := approval.DefaultConfig()
	approvalCfg.DefaultMaxRisk = cfg.Approval.MaxRisk
	approvalEngine := approval.New(approvalCfg, clk)

	recoveryPolicy := recovery.New(recovery.RetryPolicy{
		Base:        cfg.Recovery.InitialDelay,
		Factor:      cfg.Recovery.BackoffFactor,
		MaxDelay:    cfg.Recovery.MaxDelay,
		MaxAttempts: cfg.Recovery.MaxAttempts,
	})

	admission := orchestration.NewAdmission(cfg.Admission.MaxConcurrentIncidents, cfg.Admission.MaxQueueSize, logger, metricsSink)

	engine := orchestration.NewEngine(orchestration.EngineConfig{
		Store:                 guardedStore,
		Bus:                   guardedBus,
		Approval:              approvalEngine,
		Recovery:              recoveryPolicy,
		Audit:                 auditLog,
		Admission:             admission,
		Clock:                 clk,
		ResultCache:           resultCache,
		WriteBatcher:          writeBatcher,
		RateLimiter:           rateLimiter,
		Logger:                logger,
		Metrics:               metricsSink,
		AnalysisTimeout:       cfg.Timeouts.AnalysisTimeout,
		RemediationTimeout:    cfg.Timeouts.RemediationTimeout,
		ApprovalTimeout:       cfg.Timeouts.ApprovalTimeout,
		WorkflowTimeout:       cfg.Timeouts.WorkflowTimeout,
		ConfidenceThreshold:    cfg.Approval.MinConfidence,
		EscalateLowConfidence:  cfg.Approval.EscalateOnLowConfidence,
		AllowPartialResolution: cfg.Approval.AllowPartialResolution,
	})

	dispatcher := orchestration.NewDispatcher(guardedBus, engine, auditLog, logger, metricsSink, 5*time.Second)

	return &app{
		cfg:          cfg,
		logger:       logger,
		telemetry:    provider,
		metrics:      metricsSink,
		breakers:     breakers,
		auditLog:     auditLog,
		writeBatcher: writeBatcher,
		dispatcher:   dispatcher,
		engine:       engine,
	}, nil
}

// buildBackends returns the unwrapped store/bus: Redis-backed when a
// Redis URL is configured, in-memory only in development mode with no
// Redis URL.
func buildBackends(cfg *core.Config, logger core.Logger) (store.Store, bus.Bus, error) {
	if cfg.Development.Enabled && cfg.RedisURL == "" {
		return store.NewInMemory(), bus.NewInMemory(), nil
	}
	if cfg.RedisURL == "" {
		return nil, nil, fmt.Errorf("%w: redis url required outside development mode", core.ErrMissingConfiguration)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)

	st := store.NewRedis(client, store.RedisConfig{Namespace: cfg.Namespace, Logger: logger})
	b := bus.NewRedis(client, bus.RedisConfig{Namespace: cfg.Namespace, Logger: logger})
	return st, b, nil
}

// httpServer exposes the administrative control surface: /healthz,
// /readyz, /config (secrets redacted), and /metrics (a JSON snapshot of
// the circuit breakers, since this module's OpenTelemetry export is
// push-based rather than pull-scraped).
func (a *app) httpServer() *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ok, _, err := a.auditLog.Verify()
		if err != nil || !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("audit chain invalid"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(redactedConfig(a.cfg))
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"circuit_breakers": a.breakers.Snapshot(),
		})
	})

	return &http.Server{Addr: ":8080", Handler: mux}
}

// redactedConfig mirrors cfg with every secret-bearing field blanked.
func redactedConfig(cfg *core.Config) map[string]interface{} {
	return map[string]interface{}{
		"namespace":   cfg.Namespace,
		"admission":   cfg.Admission,
		"timeouts":    cfg.Timeouts,
		"approval":    cfg.Approval,
		"recovery":    cfg.Recovery,
		"circuit":     cfg.Circuit,
		"cache":       cfg.Cache,
		"batcher":     cfg.Batcher,
		"audit":       map[string]interface{}{"signing_enabled": cfg.Audit.SigningEnabled},
		"logging":     cfg.Logging,
		"development": cfg.Development,
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/config"
	dbRedis "github.com/chunkforge/chunkdex/internal/db/redis"
	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
	"github.com/chunkforge/chunkdex/internal/engine"
	logpkg "github.com/chunkforge/chunkdex/internal/logger"
	"github.com/chunkforge/chunkdex/internal/metrics"
	"github.com/chunkforge/chunkdex/internal/rank"
	"github.com/chunkforge/chunkdex/internal/repository/embcache"
	"github.com/chunkforge/chunkdex/internal/store"
	"github.com/chunkforge/chunkdex/internal/transport/httpapi"
	openaiEmb "github.com/chunkforge/chunkdex/internal/transport/openai"
	embeddinguc "github.com/chunkforge/chunkdex/internal/usecase/embedding"
	healthuc "github.com/chunkforge/chunkdex/internal/usecase/health"
	ingestuc "github.com/chunkforge/chunkdex/internal/usecase/ingest"
	usageuc "github.com/chunkforge/chunkdex/internal/usecase/usage"
	"github.com/chunkforge/chunkdex/internal/version"
)

const usageRefreshInterval = 15 * time.Second

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting chunkdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Int("dimensions", cfg.Schema.Dimensions),
		zap.Int("content_nodes", len(topologyFromConfig(cfg).ContentNodes())),
	)

	// Register Prometheus engine metrics explicitly (no init())
	metrics.RegisterEngineMetrics()

	eng, err := engine.New(topologyFromConfig(cfg), schemaFromConfig(cfg), engine.Options{
		Limits: store.Limits{
			DiskRatio: cfg.Limits.DiskRatio,
			MemRatio:  cfg.Limits.MemRatio,
		},
		Probes:      probesFromConfig(cfg),
		Profiles:    rank.NewRegistry(),
		EfSearch:    cfg.Index.EfSearch,
		SnapshotDir: cfg.Storage.SnapshotPath,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}

	// Keep the coordinator's admission gate fed with fresh usage readings.
	stopRefresh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(usageRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				eng.RefreshUsage()
			case <-stopRefresh:
				return
			}
		}
	}()

	// Optional embedding provider: enables POST /ingest and the embedding
	// health check. Without it the engine still serves writes and queries
	// with caller-supplied embeddings.
	var ingestSvc httpapi.IngestService
	var usageSvc httpapi.UsageService
	var embChecker healthuc.EmbeddingChecker
	var cachePinger healthuc.CachePinger
	if cfg.Embedding.Provider.APIKey != "" {
		base := openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     cfg.Embedding.Provider.APIKey,
			BaseURL:    cfg.Embedding.Provider.BaseURL,
			Model:      cfg.Embedding.Provider.Model,
			Dimensions: cfg.Schema.Dimensions,
			Provider:   "openai",
			Logger:     logger,
		})
		embChecker = base

		var kv *dbRedis.Store
		var embedder domain.Embedder = base
		if len(cfg.Embedding.Cache.Addrs) > 0 {
			kv, err = dbRedis.NewStore(dbRedis.Config{
				Addrs:    cfg.Embedding.Cache.Addrs,
				Password: cfg.Embedding.Cache.Password,
			})
			if err != nil {
				logger.Fatal("Failed to create embedding cache store", zap.Error(err))
			}
			defer kv.Close()
			if err := kv.WaitForReady(context.Background(), 10*time.Second); err != nil {
				logger.Fatal("Embedding cache not ready", zap.Error(err))
			}
			ttl := time.Duration(cfg.Embedding.Cache.TTLSec) * time.Second
			embedder = embcache.New(base, kv, ttl, metrics.EmbeddingCacheTotal, logger)
			cachePinger = kv
			logger.Info("Embedding cache connected", zap.Strings("addrs", cfg.Embedding.Cache.Addrs))
		}

		budgetCfg := cfg.Embedding.Provider.Budget
		budget := embeddinguc.NewBudget("openai",
			budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit,
			budgetCfg.Action == "reject", logger)
		if kv != nil {
			// Counters survive restarts when a key-value store is around.
			budget.Restore(context.Background(), kv)
		}
		embedder = embeddinguc.NewBudgetedEmbedder(embedder, budget, logger)
		usageSvc = usageuc.New(budget, "openai")

		ingestSvc = ingestuc.New(eng, embedder, nil, logger)
		logger.Info("Embedding provider configured",
			zap.String("model", cfg.Embedding.Provider.Model),
			zap.Int64("daily_token_limit", budgetCfg.DailyTokenLimit),
			zap.Int64("monthly_token_limit", budgetCfg.MonthlyTokenLimit))
	}

	healthSvc := healthuc.New(eng, cachePinger, embChecker)
	server := httpapi.NewServer(eng, eng, ingestSvc, healthSvc, eng, usageSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(httpapi.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")
	close(stopRefresh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	if cfg.Storage.SnapshotPath != "" {
		if err := eng.SaveSnapshots(cfg.Storage.SnapshotPath); err != nil {
			logger.Error("Failed to save snapshots", zap.Error(err))
		} else {
			logger.Info("Snapshots saved", zap.String("dir", cfg.Storage.SnapshotPath))
		}
	}

	logger.Info("Server stopped gracefully")
}

func schemaFromConfig(cfg config.Config) schema.Schema {
	sc := schema.DefaultChunkSchema()
	sc.Vector.Dims = cfg.Schema.Dimensions
	sc.Vector.MaxLinksPerNode = cfg.Index.MaxLinksPerNode
	sc.Vector.NeighborsToExploreAtInsert = cfg.Index.NeighborsToExploreAtInsert
	sc.RankProfile = cfg.Schema.RankProfile
	return sc
}

func topologyFromConfig(cfg config.Config) cluster.Topology {
	nodes := make([]cluster.NodeSpec, len(cfg.Cluster.Nodes))
	for i, n := range cfg.Cluster.Nodes {
		nodes[i] = cluster.NodeSpec{ID: cluster.NodeID(n.ID), Role: cluster.Role(n.Role)}
	}
	return cluster.Topology{
		Nodes:      nodes,
		Redundancy: cfg.Cluster.Redundancy,
		Thresholds: cluster.Thresholds{
			DiskRatio: cfg.Limits.DiskRatio,
			MemRatio:  cfg.Limits.MemRatio,
		},
	}
}

// probesFromConfig gives every content node the same host probe; all nodes
// of one process share the machine's disk and memory.
func probesFromConfig(cfg config.Config) map[cluster.NodeID]store.UsageProbe {
	probe := &engine.SystemProbe{Path: cfg.Storage.SnapshotPath}
	probes := make(map[cluster.NodeID]store.UsageProbe, len(cfg.Cluster.Nodes))
	for _, n := range cfg.Cluster.Nodes {
		if n.Role == "content" {
			probes[cluster.NodeID(n.ID)] = probe
		}
	}
	return probes
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisstack/aegis-detect/internal/api"
	"github.com/aegisstack/aegis-detect/internal/cache"
	"github.com/aegisstack/aegis-detect/internal/config"
	"github.com/aegisstack/aegis-detect/internal/engine"
	"github.com/aegisstack/aegis-detect/internal/metrics"
	"github.com/aegisstack/aegis-detect/internal/repo"
	"github.com/aegisstack/aegis-detect/internal/scheduler"
	"github.com/aegisstack/aegis-detect/internal/services"
	"github.com/aegisstack/aegis-detect/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting aegis-detect", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("redis cache unavailable, using in-memory cache", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	history, err := repo.OpenHistory(cfg.History.Path)
	if err != nil {
		logger.Error("failed to open history store", slog.Any("error", err))
		os.Exit(1)
	}
	defer history.Close()

	telemetry := repo.NewTelemetryClient(
		cfg.Clients.Telemetry.BaseURL,
		cfg.Clients.Telemetry.MetricsPath,
		cfg.Clients.Telemetry.LogsPath,
		cfg.Clients.Telemetry.Timeout,
		cacheProvider,
		cfg.Cache.TelemetryTTL,
	)

	orchestrator := engine.NewOrchestrator(logger,
		cfg.Detection.Contamination(), cfg.Detection.LogWindow, cfg.Detection.MinTrainingRows, history)
	service := services.NewDetectionService(logger, orchestrator, history, services.Options{
		Retention:   cfg.History.Retention,
		Cache:       cacheProvider,
		PatternsTTL: cfg.Cache.PatternsTTL,
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := service.Initialize(initCtx); err != nil {
		logger.Warn("initial training failed, running with heuristic defaults", slog.Any("error", err))
	}
	cancelInit()

	server := api.NewServer(cfg.Server, logger, service)

	healthServer, err := api.NewHealthServer(cfg.Server.HealthAddress, service.Ready)
	if err != nil {
		logger.Error("failed to create health server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	if cfg.Scheduler.Enabled {
		policy := repo.NewPolicyClient(cfg.Clients.Policy.BaseURL, cfg.Clients.Policy.Timeout)
		executor := repo.NewExecutorClient(cfg.Clients.Executor.BaseURL, cfg.Clients.Executor.Token, cfg.Clients.Executor.Timeout)
		analyzer := scheduler.NewAnalyzer(logger, telemetry, service, policy, executor,
			cfg.Scheduler.Interval, cfg.Scheduler.FetchWindow, cfg.Scheduler.AutoExecute)
		go func() {
			if err := analyzer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("analysis loop exited", slog.Any("error", err))
			}
		}()

		if cfg.Scheduler.RetrainEvery > 0 {
			go retrainLoop(ctx, logger, service, cfg.Scheduler.RetrainEvery)
		}
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()
	go func() {
		if serveErr := healthServer.Start(); serveErr != nil {
			logger.Error("health server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("aegis-detect stopped")
}

func retrainLoop(ctx context.Context, logger *slog.Logger, service *services.DetectionService, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			retrainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := service.Initialize(retrainCtx); err != nil {
				logger.Warn("retrain failed", slog.Any("error", err))
			} else {
				logger.Info("detectors retrained from history")
			}
			cancel()
		}
	}
}

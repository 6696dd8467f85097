package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nextgen/internal/common/cache"
	commonmw "nextgen/internal/common/http/middleware"
	"nextgen/internal/common/ratelimit"
	"nextgen/internal/execution/controller"
	"nextgen/internal/execution/service"
	"nextgen/internal/sandbox"
	"nextgen/internal/sandbox/config"
	"nextgen/internal/sandbox/engine"
	"nextgen/internal/sandbox/observer"
	"nextgen/internal/sandbox/runner"
	"nextgen/internal/sandbox/workspace"
	"nextgen/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/runner_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	appCfg, err := loadAppConfig(*configPath, explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "runner service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	workspaces, err := workspace.NewManager(appCfg.Sandbox.WorkRoot)
	if err != nil {
		return fmt.Errorf("init workspace manager failed: %w", err)
	}
	if appCfg.Sandbox.SweepOnStart {
		if _, err := workspaces.Sweep(ctx, 0); err != nil {
			logger.Warn(ctx, "sweep work root failed", zap.Error(err))
		}
	}

	eng, err := engine.NewEngine(engine.Config{
		KillOnOutputLimit:     !appCfg.Sandbox.KeepRunningOnOutputLimit,
		EnableRlimits:         appCfg.Sandbox.EnableRlimits,
		CgroupRoot:            appCfg.Sandbox.CgroupRoot,
		PIDsLimit:             appCfg.Sandbox.PIDsLimit,
		PIDNamespace:          *appCfg.Sandbox.PIDNamespace,
		WaitDelay:             appCfg.Sandbox.WaitDelay,
		DefaultMaxOutputBytes: appCfg.Limits.MaxOutputBytes,
	})
	if err != nil {
		return fmt.Errorf("init sandbox engine failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observer.NewPrometheusRecorder(registry)
	if err != nil {
		return fmt.Errorf("init metrics failed: %w", err)
	}

	langRepo := config.NewLocalRepository(appCfg.Language.Languages)
	jobRunner := runner.NewRunnerWithObserver(eng, metrics)
	worker := sandbox.NewWorker(jobRunner, langRepo, workspaces)
	worker.SetStatusReporter(metrics)
	pool := service.NewPool(worker, service.PoolConfig{
		Workers:       appCfg.Worker.MaxConcurrentJobs,
		QueueSize:     appCfg.Worker.QueueSize,
		AdmissionWait: appCfg.Worker.AdmissionWait,
	}, metrics)
	intake := service.NewIntake(service.IntakeConfig{
		MaxSourceBytes: appCfg.Limits.MaxSourceBytes,
		MaxInputBytes:  appCfg.Limits.MaxInputBytes,
		Limits:         appCfg.jobLimits(),
	})
	runSvc, err := service.NewService(service.Config{
		Intake:   intake,
		Pool:     pool,
		LangRepo: langRepo,
	})
	if err != nil {
		pool.Close()
		return fmt.Errorf("init runner service failed: %w", err)
	}
	defer runSvc.Close()

	limiter, closeLimiter := buildLimiter(appCfg)
	defer closeLimiter()

	httpServer := buildHTTPServer(appCfg, runSvc, limiter, registry)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "runner http server started",
			zap.String("addr", listener.Addr().String()),
			zap.String("work_root", workspaces.Root()),
			zap.Int("workers", appCfg.Worker.MaxConcurrentJobs),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server stopped: %w", err)
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownTimeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownTimeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	return serveErr
}

// buildLimiter prefers a shared Redis counter and falls back to an in-process limiter.
func buildLimiter(appCfg *AppConfig) (ratelimit.Limiter, func()) {
	policy := appCfg.RateLimit.policy()
	if !policy.Enabled() {
		return nil, func() {}
	}
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(appCfg.Redis)
		if err == nil {
			limiter := ratelimit.NewRedisLimiter(redisCache, policy, appCfg.RateLimit.KeyPrefix, appCfg.RateLimit.RedisTimeout)
			return limiter, func() { _ = redisCache.Close() }
		}
		logger.Warn(context.Background(), "init redis failed, using local rate limiter", zap.Error(err))
	}
	return ratelimit.NewLocalLimiter(policy), func() {}
}

func buildHTTPServer(appCfg *AppConfig, runSvc controller.Runner, limiter ratelimit.Limiter, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      buildRouter(appCfg, runSvc, limiter, gatherer),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func buildRouter(appCfg *AppConfig, runSvc controller.Runner, limiter ratelimit.Limiter, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))
	router.Use(requestLogger())

	runController := controller.NewRunController(runSvc, appCfg.Server.MaxBodyBytes)
	throttle := commonmw.RateLimitMiddleware(limiter)

	router.POST("/run", throttle, runController.Run)
	router.GET("/languages", runController.Languages)
	api := router.Group("/api/v1")
	api.POST("/run", throttle, runController.Run)
	api.GET("/languages", runController.Languages)

	router.GET("/healthz", runController.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

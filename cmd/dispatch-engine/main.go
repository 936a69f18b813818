// Command dispatch-engine wires the static-data cache, backend gateway,
// dispatch service, scheduler, and callback server together and runs them
// until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emergency-platform/dispatch-engine/internal/config"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/cache"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/dispatcher"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/gateway"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/scheduler"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/server"
	"github.com/emergency-platform/dispatch-engine/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// Exit codes distinguish configuration failure from a failed initial cache
// load, matching spec.md §6's startup contract.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitCacheError    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return exitConfigError
	}

	zapLog, err := buildZapLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return exitConfigError
	}
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	gw := gateway.New(gateway.Config{
		BaseURL:         cfg.Backend.BaseURL,
		ConnectTimeout:  cfg.Backend.ConnectTimeout,
		ReadTimeout:     cfg.Backend.ReadTimeout,
		WriteTimeout:    cfg.Backend.WriteTimeout,
		OIDCTokenURL:    cfg.OIDC.TokenURL,
		OIDCClientID:    cfg.OIDC.ClientID,
		OIDCClientSecret: cfg.OIDC.ClientSecret,
		OIDCScopes:      cfg.OIDC.Scopes,
	}, log)

	dataCache := cache.New(gw, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := dataCache.Refresh(ctx); err != nil {
		cancel()
		log.Error(err, "initial static-data cache load failed")
		return exitCacheError
	}
	cancel()

	locker := buildLocker(cfg.Dispatch, log)

	dispatchSvc := dispatcher.New(gw, dataCache, locker, log)

	sched := scheduler.New(dispatchSvc, cfg.Scheduler.Interval, log)

	srv := server.New(server.Config{
		Addr:                  cfg.Server.Addr,
		MaxConcurrentDispatch: cfg.Server.MaxConcurrentDispatch,
		DispatchTimeout:       cfg.Server.DispatchTimeout,
	}, dispatchSvc, dataCache, log)

	metricsSrv := metrics.NewServer(cfg.Metrics.Addr, log)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	sched.Start(runCtx)
	srv.StartAsync()
	metricsSrv.StartAsync()

	log.Info("dispatch engine started",
		"server_addr", cfg.Server.Addr,
		"metrics_addr", cfg.Metrics.Addr,
		"scheduler_interval", cfg.Scheduler.Interval.String())

	waitForShutdownSignal(log)

	runCancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error(err, "callback server shutdown did not complete cleanly")
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		log.Error(err, "metrics server shutdown did not complete cleanly")
	}

	log.Info("dispatch engine stopped")
	return exitOK
}

func buildZapLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}

func buildLocker(cfg config.DispatchConfig, log logr.Logger) dispatcher.Locker {
	if !cfg.UseRedisLock {
		return dispatcher.NoopLocker{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return dispatcher.NewRedisLocker(client, cfg.LockTTL)
}

func waitForShutdownSignal(log logr.Logger) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	<-sigCh
	log.Info("shutdown signal received, starting graceful shutdown")

	go func() {
		<-sigCh
		log.Info("second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}

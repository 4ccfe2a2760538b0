package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/policyedge/gateway/config"
	"github.com/policyedge/gateway/internal/api"
	"github.com/policyedge/gateway/internal/attrsync"
	"github.com/policyedge/gateway/internal/decision"
	"github.com/policyedge/gateway/internal/engine"
	"github.com/policyedge/gateway/internal/health"
	"github.com/policyedge/gateway/internal/logging"
	"github.com/policyedge/gateway/internal/metrics"
	"github.com/policyedge/gateway/internal/syncer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.GetConfigure()
	if err != nil {
		panic(fmt.Errorf("config.GetConfigure: %w", err))
	}

	logger := logging.NewLogger(cfg.LogFormat, logrus.InfoLevel)

	registry := metrics.NewRegistry(logger)
	syncMetrics := metrics.NewSyncMetrics()
	syncMetrics.Register(registry)
	decisionMetrics := metrics.NewDecisionMetrics()
	decisionMetrics.Register(registry)
	httpMetrics := metrics.NewHTTPMetrics()
	httpMetrics.Register(registry)

	engineClient := engine.NewClient(cfg.Engine.URL, logger)

	policySyncer := syncer.NewSyncer(
		logger,
		engineClient,
		cfg.Policies.BaseDir,
		cfg.Policies.DynamicDir,
		cfg.Policies.PollInterval,
		syncMetrics,
	)
	if cfg.Policies.AutoStart {
		policySyncer.Start(ctx)
	}

	router := decision.NewRouter(logger, engineClient, decisionMetrics)

	var attrEngine api.AttributeEngine
	if cfg.Attributes.BackendsFile != "" {
		eng := attrsync.NewEngine(logger)
		if err := attrsync.LoadBackends(eng, cfg.Attributes.BackendsFile, logger); err != nil {
			logger.Fatalf("failed to load attribute backends: %v", err)
		}
		attrEngine = eng
	}

	server := api.NewServer(*cfg, logger, router, policySyncer, attrEngine, httpMetrics)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, logger, registry)
		metricsServer.Start()
	}

	healthServer := health.New(int(cfg.HealthPort), func() bool {
		return !policySyncer.Status().LastFullSync.IsZero()
	})

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := server.StartServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return healthServer.Start(egCtx, logger)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		policySyncer.Stop()
		if metricsServer != nil {
			if err := metricsServer.Stop(shutdownCtx); err != nil {
				logger.Errorf("metrics server shutdown error: %v", err)
			}
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Fatalf("gateway exited: %v", err)
	}
	logger.Info("gateway stopped")
}

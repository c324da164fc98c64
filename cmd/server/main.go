// Watchpost continuously monitors a runtime-configurable set of API
// endpoints, IP addresses, and hostnames, alerting when a target
// crosses its failure threshold and recovering when it comes back.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/watchpost/watchpost/internal/alert"
	"github.com/watchpost/watchpost/internal/api"
	"github.com/watchpost/watchpost/internal/checker"
	"github.com/watchpost/watchpost/internal/config"
	"github.com/watchpost/watchpost/internal/logging"
	"github.com/watchpost/watchpost/internal/metrics"
	"github.com/watchpost/watchpost/internal/metricslog"
	"github.com/watchpost/watchpost/internal/notify"
	"github.com/watchpost/watchpost/internal/registry"
	"github.com/watchpost/watchpost/internal/scheduler"
	"github.com/watchpost/watchpost/internal/storage"
	"github.com/watchpost/watchpost/pkg/models"
)

func main() {
	configPath := flag.String("config", "config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.InitLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Fields: cfg.Logging.Fields,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	metricsInstance := metrics.NewMetrics(promRegistry)

	store, err := registry.NewStore(registry.Config{
		DataDir:               cfg.Storage.DataDir,
		BackupRetention:       cfg.Storage.BackupRetention,
		DefaultCheckInterval:  cfg.Monitoring.DefaultCheckInterval,
		DefaultAlertThreshold: cfg.Monitoring.DefaultAlertThreshold,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize target registry")
	}

	notifier := notify.FromConfig(cfg.Notifications, logger)
	gate := alert.NewGate(notifier, metricsInstance, logger)

	mlog, err := metricslog.NewLog(filepath.Join(cfg.Storage.DataDir, "metrics"), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics log")
	}

	recorders := []scheduler.ResultRecorder{metricsRecorder{mlog}}

	var history *storage.HistoryStore
	if cfg.Storage.History.Enabled {
		history, err = storage.NewHistoryStore(cfg.Storage.History.Path, cfg.Storage.History.RetentionDays, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize check history")
		}
		recorders = append(recorders, historyRecorder{history})
	} else {
		logger.Info("Running without check history (results kept in memory only)")
	}

	factory := checker.NewFactory(logger, cfg.Monitoring.DefaultCheckTimeout)
	sched := scheduler.NewScheduler(cfg.Monitoring, store, factory, gate, metricsInstance, logger, recorders...)

	server := api.NewServer(cfg, api.Deps{
		Registry:   store,
		Scheduler:  sched,
		History:    history,
		MetricsLog: mlog,
	}, logger, promRegistry)

	if err := sched.Start(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	logger.Info("Watchpost started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Watchpost...")

	if err := sched.Stop(); err != nil {
		logger.WithError(err).Error("Failed to stop scheduler gracefully")
	}
	if err := server.Stop(); err != nil {
		logger.WithError(err).Error("Failed to shutdown server gracefully")
	}
	if history != nil {
		if err := history.Close(); err != nil {
			logger.WithError(err).Error("Failed to close check history")
		}
	}

	logger.Info("Watchpost stopped")
}

// metricsRecorder feeds raw check results into the per-day JSON log.
type metricsRecorder struct {
	log *metricslog.Log
}

func (r metricsRecorder) Record(target *models.Target, result *models.CheckResult) {
	r.log.Append(target, result)
}

// historyRecorder feeds raw check results into the BadgerDB history.
// Store errors are already logged by the store.
type historyRecorder struct {
	store *storage.HistoryStore
}

func (r historyRecorder) Record(target *models.Target, result *models.CheckResult) {
	_ = r.store.StoreRecord(&storage.CheckRecord{
		TargetID: target.ID,
		Status:   result.Status,
		Metrics:  result.Metrics,
	})
}

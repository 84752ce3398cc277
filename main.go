package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/joho/godotenv"

	"optionflow/config"
	"optionflow/internal/dashboard"
	"optionflow/internal/feed"
	"optionflow/internal/metrics"
	"optionflow/internal/retention"
	"optionflow/internal/scheduler"
	"optionflow/internal/state"
	"optionflow/internal/transport"
	"optionflow/internal/wire"
	"optionflow/logger"
	"optionflow/processor"
	"optionflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Optionflow.Name,
		"version": cfg.Optionflow.Version,
		"feed":    cfg.Feed.URL,
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	encoding, err := wire.ParseEncoding(cfg.Feed.Encoding)
	if err != nil {
		log.WithError(err).Error("invalid feed encoding")
		os.Exit(1)
	}
	keys, err := processor.ParseKeyStyle(cfg.Feed.KeyStyle)
	if err != nil {
		log.WithError(err).Error("invalid key style")
		os.Exit(1)
	}

	clk := clock.New()
	sched := scheduler.New(clk)
	container := state.New(clk)
	recorder := metrics.NewRecorder(log, clk)
	monitor := metrics.NewMonitor(clk)

	var archiver *writer.ArchiveWriter
	if cfg.Archive.Enabled {
		archiver, err = writer.NewArchiveWriter(ctx, cfg.Archive,
			writer.WithLogger(log),
			writer.WithRecorder(recorder),
			writer.WithVersion(cfg.Optionflow.Version),
		)
		if err != nil {
			log.WithError(err).Error("failed to create archive writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("archive disabled; cleared trades are discarded")
	}

	storeOpts := []retention.Option{retention.WithRecorder(recorder), retention.WithLogger(log)}
	if archiver != nil {
		storeOpts = append(storeOpts, retention.WithArchiver(archiver))
	}
	store := retention.New(container, sched, retention.Config{
		RecordLimit:     cfg.Retention.RecordLimit,
		ResetLimit:      cfg.Retention.ResetLimit,
		ResetClearDelay: cfg.Retention.ResetClearDelay,
		ResetReason:     cfg.Retention.ResetReason,
	}, storeOpts...)

	var exporter *metrics.Exporter
	if cfg.Metrics.Prometheus {
		exporter, err = metrics.NewExporter(monitor, container.Len)
		if err != nil {
			log.WithError(err).Error("failed to register prometheus collectors")
			os.Exit(1)
		}
		recorder.Register(exporter.Observe)
	}

	proc := processor.New(encoding, keys, store, container,
		processor.WithMonitor(monitor),
		processor.WithRecorder(recorder),
		processor.WithClock(clk),
		processor.WithLogger(log),
	)

	dialer := transport.NewWebSocket(transport.Options{
		URL:            cfg.Feed.URL,
		ConnectTimeout: cfg.Feed.ConnectTimeout,
		Subprotocols:   []string{string(encoding)},
		UserAgent:      cfg.Feed.UserAgent,
		LocalIP:        cfg.Feed.LocalIP,
		ReadLimit:      cfg.Feed.ReadLimit,
	})

	manager := feed.New(feed.Config{
		ReconnectAttempts:   cfg.Feed.ReconnectAttempts,
		InitialRetryDelay:   cfg.Feed.InitialRetryDelay,
		MaxRetryDelay:       cfg.Feed.MaxRetryDelay,
		RetryDelay:          cfg.Feed.RetryDelay,
		Backoff:             cfg.Feed.Backoff,
		HeartbeatInterval:   cfg.Feed.HeartbeatInterval,
		MaxMissedHeartbeats: cfg.Feed.MaxMissedHeartbeats,
		Encoding:            encoding,
	}, dialer, container, proc, sched, feed.WithRecorder(recorder), feed.WithLogger(log))

	server, err := dashboard.NewServer(cfg.Dashboard, dashboard.Deps{
		State:    container,
		Store:    store,
		Monitor:  monitor,
		Events:   recorder,
		Exporter: exporter,
		Clock:    clk,
	}, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard")
		os.Exit(1)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(ctx, cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}
	if logger.ReportEnabled(cfg.Logging.Level) {
		logger.StartReport(ctx, log, cfg.Metrics.ReportInterval, func() map[string]float64 {
			perf := monitor.Metrics()
			processed, invalid, failed := proc.Counts()
			return map[string]float64{
				"retained_trades":     float64(container.Len()),
				"messages_per_second": perf.MessagesPerSecond,
				"messages_total":      float64(perf.TotalMessages),
				"processed_total":     float64(processed),
				"invalid_total":       float64(invalid),
				"failed_total":        float64(failed),
				"reconnect_attempt":   float64(container.Connection().ReconnectAttempt),
			}
		})
	}

	var wg sync.WaitGroup

	if archiver != nil {
		if err := archiver.Start(ctx); err != nil {
			log.WithError(err).Warn("archive writer failed to start")
		}
	}

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx); err != nil {
				log.WithError(err).Error("dashboard stopped with error")
			}
		}()
	}

	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed manager")
		os.Exit(1)
	}
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")

	log.Info("stopping feed manager")
	manager.Stop()

	log.Info("closing retention store")
	store.Close()

	cancel()

	if archiver != nil {
		log.Info("stopping archive writer")
		archiver.Stop()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("optionflow stopped")
}

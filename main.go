package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookflow/config"
	"bookflow/internal/channel"
	"bookflow/internal/dashboard"
	"bookflow/internal/metrics"
	"bookflow/internal/session"
	"bookflow/logger"
	"bookflow/processor"
	"bookflow/reader/coinbase"
	"bookflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":  cfg.Bookflow.Name,
		"version":  cfg.Bookflow.Version,
		"products": cfg.Coinbase.Products,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	metrics.Configure(cfg.Metrics)
	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Address)
	}
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(
			cfg.Metrics.CloudWatch.Region,
			cfg.Metrics.CloudWatch.Namespace,
			cfg.Logging.DashboardName,
			cfg.Metrics.CloudWatch.Interval.Std(),
		)
	}

	channels := channel.NewChannels(
		cfg.Channels.RawBuffer,
		cfg.Channels.EventBuffer,
		cfg.Channels.ControlBuffer,
	)
	defer channels.Close()

	channels.StartMetricsReporting(ctx)

	// The update stream is telemetry for downstream consumers; without
	// kafka there is no consumer and sessions skip emission entirely.
	var updates chan session.Update
	var kafkaWriter *writer.KafkaWriter
	if cfg.Kafka.Enabled {
		updates = make(chan session.Update, cfg.Channels.UpdateBuffer)
		kafkaWriter, err = writer.NewKafkaWriter(cfg, updates)
		if err != nil {
			log.WithError(err).Error("failed to create kafka writer")
			os.Exit(1)
		}
	} else {
		log.WithComponent("main").Info("kafka disabled; session updates will not be exported")
	}

	snapshots := coinbase.NewSnapshotClient(cfg)
	manager := session.NewManager(cfg, channels, snapshots, updates)
	feedProcessor := processor.NewFeedProcessor(cfg, channels)
	feedReader := coinbase.NewFeedReader(cfg, channels)

	// Consumers start before their producers so nothing backs up while
	// the pipeline comes online.
	if kafkaWriter != nil {
		if err := kafkaWriter.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start kafka writer")
			os.Exit(1)
		}
	}
	if err := manager.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start session manager")
		os.Exit(1)
	}
	if err := feedProcessor.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed processor")
		os.Exit(1)
	}
	if err := feedReader.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start feed reader")
		os.Exit(1)
	}

	dash, err := dashboard.NewServer(cfg.Dashboard, manager, log)
	if err != nil {
		log.WithError(err).Error("failed to create dashboard server")
		os.Exit(1)
	}

	var wg sync.WaitGroup
	if dash != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := dash.Run(ctx, cfg.Bookflow.Name); err != nil {
				log.WithError(err).Warn("dashboard server exited with error")
			}
		}()
		log.WithComponent("main").WithFields(logger.Fields{
			"address": dash.Address(),
		}).Info("dashboard available")
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping feed reader")
	feedReader.Stop()

	log.Info("stopping feed processor")
	feedProcessor.Stop()

	log.Info("stopping session manager")
	manager.Stop()

	if kafkaWriter != nil {
		log.Info("stopping kafka writer")
		kafkaWriter.Stop()
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

	log.Info("bookflow stopped")
}

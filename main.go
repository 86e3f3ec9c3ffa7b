package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hezlepinc/lead-ingestor-v2/config"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/auth"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/claim"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/hub"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/session"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/status"
	"github.com/Hezlepinc/lead-ingestor-v2/internal/worker"
	"github.com/Hezlepinc/lead-ingestor-v2/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	format := cfg.Logging.Format
	if format == "" && config.IsProductionLike(config.AppEnvironment()) {
		format = "json"
	}
	if err := log.Configure(cfg.Logging.Level, format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.LeadIngestor.Name,
		"version": cfg.LeadIngestor.Version,
		"region":  cfg.Region.Name,
		"dealer":  cfg.Region.DealerID,
	}).Info("starting lead ingestor")

	if os.Getenv("CLOUDWATCH_ENABLED") == "true" {
		logger.InitCloudWatch(os.Getenv("AWS_REGION"), cfg.LeadIngestor.Name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	refresher := auth.NewCommandRefresher(
		cfg.Auth.RefreshCommand,
		cfg.Auth.TokenPath,
		cfg.Auth.CookiePath,
		cfg.Region.Name,
	)
	credentials := auth.NewCache(cfg, refresher)

	// No credential means nothing else can function.
	if err := credentials.Load(); err != nil {
		log.WithError(err).Error("failed to load initial credential")
		os.Exit(1)
	}
	credentials.ScheduleRefresh()
	defer credentials.Close()

	claimer := claim.NewCoordinator(cfg, credentials.Token)
	w := worker.New(cfg, claimer)
	subscriber := hub.NewSubscriber(cfg, credentials.Token, w.Handler(ctx))

	go func() {
		if err := subscriber.Start(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("hub subscriber stopped")
			cancel()
		}
	}()

	if statusServer := status.NewServer(cfg, credentials); statusServer != nil {
		go func() {
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Error("status server failed")
			}
		}()
	}

	if cfg.Session.RenewalEnabled && cfg.Auth.CookiePath != "" {
		renewal := session.NewRenewal(cfg)
		go renewal.Run(ctx)
	}

	logger.StartReport(ctx, log, 30*time.Second)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	time.Sleep(500 * time.Millisecond)
	log.Info("shutdown complete")
}

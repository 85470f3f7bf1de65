package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mediaguard/reviewcenter/config"
	"github.com/mediaguard/reviewcenter/database"
	"github.com/mediaguard/reviewcenter/events"
	"github.com/mediaguard/reviewcenter/metrics"
	"github.com/mediaguard/reviewcenter/models"
	"github.com/mediaguard/reviewcenter/repository"
	"github.com/mediaguard/reviewcenter/service"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func autoMigrate(db *gorm.DB) {
	if err := db.AutoMigrate(&models.ReviewTask{}, &models.ReviewFile{}, &models.ReviewResult{}); err != nil {
		log.Fatalf("auto migrate failed: %v", err)
	}
}

func splitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	cfg := config.Load()
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	metrics.StartMetricsServer(cfg.MetricsPort)
	logger.Infof("metrics server started on :%s", cfg.MetricsPort)

	db, err := database.InitDB(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	autoMigrate(db)

	taskRepo := repository.NewTaskRepository(db)
	fileRepo := repository.NewFileRepository(db)
	resultRepo := repository.NewResultRepository(db)

	blobs, err := service.NewMinioBlobStore(cfg)
	if err != nil {
		log.Fatalf("blob store: %v", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	brokers := splitBrokers(cfg.Kafka.Brokers)
	if len(brokers) > 0 {
		publisher = events.NewKafkaPublisher(brokers, cfg.Kafka.EventTopic, logger)
	} else {
		logger.Warn("kafka publisher disabled (missing config)")
	}
	defer publisher.Close()

	timeout := time.Duration(cfg.AI.TimeoutSecond) * time.Second
	extractor := service.NewHTTPExtractor(cfg.AI.ExtractorEndpoint, timeout)
	vision := service.NewOpenRouterScorer(cfg.AI.ScorerEndpoint, cfg.AI.APIKey, cfg.AI.VisionModel, timeout)
	text := service.NewOpenRouterScorer(cfg.AI.ScorerEndpoint, cfg.AI.APIKey, cfg.AI.TextModel, timeout)

	tracker := service.NewProgressTracker(taskRepo, publisher, logger)
	processor := service.NewFileProcessor(
		fileRepo, resultRepo, blobs, extractor, vision, text,
		service.NewResultAggregator(), tracker,
		service.FileProcessorConfig{
			VisionConcurrency: cfg.Pipeline.VisionConcurrency,
			TextConcurrency:   cfg.Pipeline.TextConcurrency,
			MaxAttempts:       cfg.Pipeline.MaxAttempts,
			CallTimeout:       timeout,
			FrameInterval:     cfg.Pipeline.FrameInterval,
			MaxVideoFrames:    cfg.Pipeline.MaxVideoFrames,
		},
		logger,
	)
	orchestrator := service.NewTaskOrchestrator(taskRepo, fileRepo, processor, publisher, cfg.Pipeline.Workers, logger)

	// Tasks left processing by a previous run need operator attention; they
	// are not auto-resumed.
	if stale, err := taskRepo.ListByStatus(models.TaskStatusProcessing, 100, 0); err == nil && len(stale) > 0 {
		logger.Warnf("%d tasks were left in processing by a previous run", len(stale))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(brokers) > 0 {
		consumer := events.NewCommandConsumer(brokers, cfg.Kafka.CommandTopic, cfg.Kafka.GroupID, orchestrator, logger)
		go consumer.Run(ctx)
	} else {
		logger.Warn("task command consumer disabled (missing config)")
	}

	logger.Info("review pipeline ready")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown timed out with files in flight")
	}
	logger.Info("review pipeline stopped")
}

package main

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/database/kafka"
	"SignalFlow/backend/go/internal/database/mongo"
	"SignalFlow/backend/go/internal/database/redis"
	"SignalFlow/backend/go/internal/datasource"
	"SignalFlow/backend/go/internal/embedding"
	"SignalFlow/backend/go/internal/housekeeping"
	"SignalFlow/backend/go/internal/judgment"
	"SignalFlow/backend/go/internal/kv"
	"SignalFlow/backend/go/internal/llm"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline"
	"SignalFlow/backend/go/internal/pipeline/api"
	"SignalFlow/backend/go/internal/pipeline/publisher"
	"SignalFlow/backend/go/internal/pipeline/service"
	"SignalFlow/backend/go/internal/pipeline/store"
	"SignalFlow/backend/go/internal/similarity"
	"SignalFlow/backend/go/internal/tracking"
	pkghttp "SignalFlow/backend/go/pkg/http"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New(cfg.App.Name, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Key-value store: Redis when reachable, memory otherwise
	kvStore, persistent := kv.Open(&cfg.Databases.Redis, serviceLogger)

	// Judgment capability
	judge, err := newJudgment(ctx, cfg)
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to create judgment client")
	}

	simStore := similarity.NewStore(kvStore, cfg.Similarity.KeyPrefix, cfg.Embedding.Dimensions, serviceLogger.Component("similarity"))

	var tracker *tracking.Tracker
	if cfg.Tracking.Enabled {
		tracker = tracking.NewTracker(kvStore, tracking.NewRegistry(), tracking.Options{
			TraceTTL:     config.Duration(cfg.Tracking.TraceTTL, tracking.DefaultTraceTTL),
			HistoryLimit: cfg.Tracking.HistoryLimit,
		}, serviceLogger)
	}

	p := pipeline.New(judge, simStore, tracker, pipeline.ConfigFromApp(cfg.Pipeline), serviceLogger)

	// Downstream Kafka topics
	kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
	switch {
	case err == nil:
		p.Bus().AddSink(publisher.NewEventPublisher(kafkaClient.Writer, cfg.Databases.Kafka.Topics, serviceLogger))
		serviceLogger.Info("Kafka event publisher attached")
	case errors.Is(err, kafka.ErrNotConfigured):
		serviceLogger.Info("Kafka not configured, events stay in process")
	default:
		serviceLogger.WithError(models.NewErrorInfo(err, "kafka_unavailable")).Warn("Kafka unavailable, events stay in process")
	}

	// Signal archive
	var signalStore store.SignalStore
	collection, err := mongo.Collection(&cfg.Databases.MongoDB)
	mongoReady := err == nil
	switch {
	case mongoReady:
		signalStore = store.NewMongoSignalStore(collection)
		serviceLogger.Info("Signals archived to MongoDB")
	default:
		if !errors.Is(err, mongo.ErrNotConfigured) {
			serviceLogger.WithError(models.NewErrorInfo(err, "mongo_unavailable")).Warn("MongoDB unavailable, archiving signals in memory")
		}
		signalStore = store.NewMemorySignalStore()
	}
	store.NewArchiver(signalStore, serviceLogger).Subscribe(p.Bus())

	// Upstream subscriptions
	var manager *datasource.Manager
	if cfg.DataSource.BaseURL != "" {
		client, err := datasource.NewClient(cfg.DataSource, serviceLogger)
		if err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to create data source client")
		}
		cursors := datasource.NewCursorStore(kvStore, cfg.DataSource.KeyPrefix, persistent && !cfg.DataSource.DisableTimestampCache, serviceLogger)
		manager = datasource.NewManager(client, cursors, datasource.NewEntityRegistry(), datasource.OptionsFromConfig(cfg.DataSource), serviceLogger)
	} else {
		serviceLogger.Warn("datasource.baseURL not set, upstream subscriptions disabled")
	}

	var subs service.Subscriptions
	if manager != nil {
		subs = manager
	}
	svc := service.NewSignalFlowService(p, tracker, subs, simStore, signalStore, serviceLogger)
	if persistent {
		svc.AddDependency("redis", redis.HealthCheck)
	}
	if mongoReady {
		svc.AddDependency("mongodb", mongo.HealthCheck)
	}
	if kafkaClient != nil {
		svc.AddDependency("kafka", kafkaClient.HealthCheck)
	}

	// Setup HTTP server
	gin.SetMode(cfg.Server.GinMode)
	router := api.NewRouter(api.NewAPI(svc, serviceLogger))
	srv, err := pkghttp.NewServer(cfg, pkghttp.WithAddress(cfg.Server.Address), pkghttp.WithLogger(serviceLogger.Component("http")))
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to create HTTP server")
	}
	srv.Handle("/", router)

	// Start pipeline stages
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Run(ctx)
	}()

	if manager != nil {
		go func() {
			if _, err := manager.Initialize(ctx); err != nil {
				serviceLogger.WithError(models.NewErrorInfo(err, "upstream_failed")).Error("Failed to load data source entities")
				return
			}
			var started int
			if len(cfg.DataSource.Subscriptions) > 0 {
				started = manager.StartEnabled(ctx, cfg.DataSource.Subscriptions, p.Pump().Handle)
			} else {
				started = manager.StartAllSubscriptions(ctx, p.Pump().Handle)
			}
			serviceLogger.WithField("subscriptions", started).Info("Data source subscriptions scheduled")
		}()
	}

	var reporter *housekeeping.Reporter
	if cfg.Housekeeping.Enabled {
		reporter = housekeeping.NewReporter(svc, p.DedupPartition(), cfg.Housekeeping.Schedule, serviceLogger)
		if err := reporter.Start(ctx); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to start housekeeping")
		}
	}

	// Start server
	go func() {
		serviceLogger.Info("Starting HTTP server on " + cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err, "server_failed")).Fatal("HTTP server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down...")

	if manager != nil {
		manager.StopAllSubscriptions()
	}
	if reporter != nil {
		reporter.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Server forced to shutdown")
	}

	// Stages flush whatever is still queued before Run returns.
	cancel()
	wg.Wait()

	if kafkaClient != nil {
		if err := kafkaClient.Close(); err != nil {
			serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error closing Kafka client")
		}
	}
	if err := mongo.Close(context.Background()); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error disconnecting from MongoDB")
	}
	if err := redis.Close(); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error closing Redis")
	}
	serviceLogger.Info("SignalFlow gracefully stopped")
}

// newJudgment builds the judge and analysis models plus the embedder.
func newJudgment(ctx context.Context, cfg *config.AppConfig) (*judgment.Client, error) {
	judgeModel, err := llm.NewClient(ctx, cfg.LLM.Provider, cfg.LLM.Judge.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}
	analysisModel, err := llm.NewClient(ctx, cfg.LLM.Provider, cfg.LLM.Analysis.Model, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		return nil, err
	}

	timeout := config.Duration(cfg.LLM.Timeout, time.Minute)
	embedder, err := embedding.New(cfg.Embedding, timeout)
	if err != nil {
		return nil, err
	}

	judgeTemp, analysisTemp := cfg.LLM.Judge.Temperature, cfg.LLM.Analysis.Temperature
	return judgment.NewClient(
		judgment.Profile{Model: judgeModel, Temperature: &judgeTemp},
		judgment.Profile{Model: analysisModel, Temperature: &analysisTemp},
		embedder,
		timeout,
	), nil
}

package main

import (
	"SignalFlow/backend/go/internal/config"
	"SignalFlow/backend/go/internal/database/kafka"
	"SignalFlow/backend/go/internal/database/mongo"
	"SignalFlow/backend/go/internal/models"
	"SignalFlow/backend/go/internal/pipeline/consumer"
	"SignalFlow/backend/go/internal/pipeline/store"
	"SignalFlow/backend/go/pkg/logger"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
)

// signal_archiver consumes DATA_SOURCE_SIGNAL_GENERATED envelopes from Kafka and stores them in MongoDB.
func main() {
	configPath := flag.String("config", "backend/go/internal/config/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logger.Level))
	serviceLogger := logger.New(cfg.App.Name, "signal-archiver")

	collection, err := mongo.Collection(&cfg.Databases.MongoDB)
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to connect to MongoDB")
	}
	kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
	if err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "startup_failed")).Fatal("Failed to connect to Kafka")
	}
	topic := cfg.Databases.Kafka.Topics.Signal
	if topic == "" {
		serviceLogger.Fatal("databases.kafka.topics.signal is not configured")
	}

	archiver := store.NewArchiver(store.NewMongoSignalStore(collection), serviceLogger)
	eventConsumer := consumer.NewEventConsumer(kafkaClient.NewReader(topic), serviceLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		eventConsumer.Run(ctx, archiver.Handle)
	}()
	serviceLogger.WithField("topic", topic).WithField("group", cfg.Databases.Kafka.ConsumerGroup).Info("Signal archiver started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	serviceLogger.Info("Shutting down signal archiver...")

	cancel()
	<-done
	if err := eventConsumer.Close(); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error closing Kafka consumer")
	}
	if err := kafkaClient.Close(); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error closing Kafka client")
	}
	if err := mongo.Close(context.Background()); err != nil {
		serviceLogger.WithError(models.NewErrorInfo(err, "shutdown_failed")).Error("Error disconnecting from MongoDB")
	}
	serviceLogger.Info("Signal archiver stopped")
}

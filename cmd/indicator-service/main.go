package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/indicators/pkg/common/config"
	"github.com/synaptica-ai/indicators/pkg/common/database"
	"github.com/synaptica-ai/indicators/pkg/common/kafka"
	"github.com/synaptica-ai/indicators/pkg/common/logger"
	"github.com/synaptica-ai/indicators/pkg/gateway/middleware"
	"github.com/synaptica-ai/indicators/pkg/gateway/routes"
	"github.com/synaptica-ai/indicators/pkg/indicator"
	"github.com/synaptica-ai/indicators/pkg/storage"
	"github.com/synaptica-ai/indicators/pkg/terminology"
)

func main() {
	logger.Init()
	cfg := config.Load()
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	db, err := database.OpenPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.ClosePostgres(db)

	eventStore := storage.NewEventStore(db, cfg.RetrievalChunk)
	if cfg.EventsMigrate {
		if err := eventStore.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("Failed to migrate clinical event table")
		}
	}
	runRepo := indicator.NewRunRepository(db)
	if err := runRepo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate run table")
	}

	catalog := terminology.DefaultCatalog()
	if cfg.TerminologyPath != "" {
		if catalog, err = terminology.Load(cfg.TerminologyPath); err != nil {
			logger.Log.WithError(err).Fatal("Failed to load terminology catalog")
		}
	}
	var resolver terminology.Resolver = catalog
	if redisClient := database.OpenRedis(ctx, cfg); redisClient != nil {
		defer redisClient.Close()
		resolver = terminology.NewCachedResolver(catalog, redisClient, cfg.TerminologyCacheTTL)
	}

	registry := indicator.NewRegistry()
	reportsPath := cfg.ReportsPath
	if reportsPath == "" {
		reportsPath = "configs/reports"
	}
	if err := indicator.LoadReports(ctx, reportsPath, resolver, registry); err != nil {
		logger.Log.WithError(err).Fatal("Failed to load report definitions")
	}

	service := indicator.NewService(registry, eventStore, indicator.WithMaxPopulation(cfg.MaxPopulation))

	producer := kafka.NewProducer(cfg, cfg.EvaluationTopic)
	defer producer.Close()
	runner := indicator.NewRunner(runRepo, service, producer, cfg.RunWorkers, cfg.RunTimeout)

	if cfg.KafkaConsumerOn {
		consumer := kafka.NewConsumer(cfg, cfg.RunRequestTopic, "")
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, runner.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
				logger.Log.WithError(err).Error("Run request consumer stopped")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	routes.NewMetricsHandler().Register(router)
	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	routes.NewIndicatorHandler(registry, runner).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"reports": len(registry.List()),
		}).Info("Indicator Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Indicator Service...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}
	runner.Wait()

	logger.Log.Info("Indicator Service stopped")
}

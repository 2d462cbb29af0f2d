package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goldmap-platform/internal/config"
	"goldmap-platform/internal/handlers"
	"goldmap-platform/internal/models"
	"goldmap-platform/internal/queue"
	"goldmap-platform/internal/repository"
	"goldmap-platform/internal/services"
	"goldmap-platform/internal/wfs"
	"goldmap-platform/pkg/database"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("goldmap-api", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting goldmap platform API server", logging.Fields{
		"version":     "1.0.0",
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"db_host":     cfg.Database.Host,
		"db_name":     cfg.Database.Database,
		"sources":     cfg.SourceNames(),
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("goldmap_platform")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Duration,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime.Duration,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository
	locationRepo := repository.NewLocationRepository(db, logger, metricsCollector)

	// Build WFS clients from configuration
	registered := make([]services.RegisteredSource, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		client := wfs.NewHTTPClient(wfs.Source{
			Name:        src.Name,
			Kind:        src.Kind,
			BaseURL:     src.BaseURL,
			TypeName:    src.TypeName,
			Version:     src.Version,
			SRSName:     src.SRSName,
			MaxFeatures: src.MaxFeatures,
			Timeout:     src.Timeout.Duration,
			DefaultBBox: src.DefaultBBox,
		}, nil, logger, metricsCollector)

		registered = append(registered, services.RegisteredSource{
			Client:      client,
			Description: src.Description,
			URL:         src.BaseURL,
		})
	}

	// Initialize services
	ingestionService := services.NewIngestionService(locationRepo, registered, logger, metricsCollector)
	locationService := services.NewLocationService(locationRepo, logger, metricsCollector)
	maintenanceService := services.NewMaintenanceService(locationRepo, logger, metricsCollector)

	// Initialize queue manager and processors
	manager := queue.NewManager(queue.Options{
		Concurrency:   cfg.Queue.Concurrency,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		BackoffDelay:  cfg.Queue.BackoffDelay.Duration,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
	}, logger, metricsCollector)
	queue.RegisterProcessors(manager, ingestionService, maintenanceService)
	manager.Start(ctx)

	// Register the recurring jobs. A broken maintenance schedule is
	// logged but must not take down the collection queues.
	if _, err := manager.Schedule(cfg.Queue.CollectionCron, models.QueueDataCollection, models.JobFetchAllSources, models.IngestPayload{}); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to register collection schedule", logging.Fields{
			"spec": cfg.Queue.CollectionCron,
		}, err)
	}

	maintenance := []struct {
		spec    string
		jobType string
	}{
		{cfg.Queue.CleanupCron, models.JobCleanupOldData},
		{cfg.Queue.OptimizeCron, models.JobOptimizeIndexes},
	}
	for _, s := range maintenance {
		if _, err := manager.Schedule(s.spec, models.QueueSystemMaintenance, s.jobType, nil); err != nil {
			logger.Error(ctx, "[STARTUP_ERROR] Failed to register maintenance schedule", logging.Fields{
				"spec": s.spec,
				"type": s.jobType,
			}, err)
		}
	}

	// Initialize handlers
	locationHandler := handlers.NewLocationHandler(locationService, locationRepo, logger, metricsCollector)
	queueHandler := handlers.NewQueueHandler(manager, ingestionService, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()

	// Attach a request ID to every request for log correlation
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = fmt.Sprintf("%d", time.Now().UnixNano())
			}
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), requestID)))
		})
	})

	// Register routes
	locationHandler.RegisterRoutes(router)
	queueHandler.RegisterRoutes(router)

	// API documentation
	router.HandleFunc("/api/docs", handlers.SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", handlers.OpenAPISpec).Methods("GET")

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Queue manager forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}

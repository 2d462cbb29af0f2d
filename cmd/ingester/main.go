package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"goldmap-platform/internal/config"
	"goldmap-platform/internal/models"
	"goldmap-platform/internal/repository"
	"goldmap-platform/internal/services"
	"goldmap-platform/internal/wfs"
	"goldmap-platform/pkg/database"
	"goldmap-platform/pkg/logging"
	"goldmap-platform/pkg/metrics"
)

func main() {
	sourcesFlag := flag.String("sources", "", "Comma-separated source names (default: all configured sources)")
	bboxFlag := flag.String("bbox", "", "Bounding box as minLon,minLat,maxLon,maxLat (default: per-source default)")
	timeoutFlag := flag.Duration("timeout", 10*time.Minute, "Overall run timeout")
	flag.Parse()

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
	logger := logging.NewStructuredLogger("goldmap-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var bbox *models.BoundingBox
	if *bboxFlag != "" {
		parsed, err := models.ParseBoundingBox(*bboxFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid bounding box: %v\n", err)
			os.Exit(1)
		}
		bbox = &parsed
	}

	var sourceNames []string
	if *sourcesFlag != "" {
		for _, name := range strings.Split(*sourcesFlag, ",") {
			sourceNames = append(sourceNames, strings.TrimSpace(name))
		}
	}

	logger.Info(ctx, "[INGESTER_START] Starting one-shot ingestion", logging.Fields{
		"sources": sourceNames,
		"bbox":    *bboxFlag,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("goldmap_ingester")

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
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository and service
	locationRepo := repository.NewLocationRepository(db, logger, metricsCollector)

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

	ingestionService := services.NewIngestionService(locationRepo, registered, logger, metricsCollector)

	// Run ingestion
	result, err := ingestionService.Run(ctx, sourceNames, bbox)
	if err != nil {
		logger.Error(ctx, "[INGESTER_ERROR] Ingestion run failed", logging.Fields{}, err)
		os.Exit(1)
	}

	fmt.Printf("\nIngestion completed in %s\n", result.Duration.Round(time.Millisecond))
	fmt.Printf("Total locations: %d\n", result.TotalLocations)
	for source, count := range result.BySource {
		fmt.Printf("  %-15s %d\n", source, count)
	}
	for _, failure := range result.Failures {
		fmt.Printf("  FAILED %-8s %s\n", failure.Source, failure.Error)
	}

	if len(result.Failures) > 0 {
		os.Exit(2)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/traffic-signal-service/apperrors"
	"github.com/Tutortoise/traffic-signal-service/cache"
	"github.com/Tutortoise/traffic-signal-service/classifier"
	"github.com/Tutortoise/traffic-signal-service/colordb"
	"github.com/Tutortoise/traffic-signal-service/config"
	"github.com/Tutortoise/traffic-signal-service/detections"
	"github.com/Tutortoise/traffic-signal-service/distance"
	"github.com/Tutortoise/traffic-signal-service/logger"
	"github.com/Tutortoise/traffic-signal-service/metrics"
	"github.com/Tutortoise/traffic-signal-service/pipeline"
	"github.com/Tutortoise/traffic-signal-service/store"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	ctx := context.Background()

	colors, err := loadColors(ctx, cfg)
	if err != nil {
		logger.Logger.WithError(err).Fatal("Failed to load color table")
	}

	strategy, err := classifier.New(cfg.ClassifierStrategy, colors)
	if err != nil {
		logger.Logger.WithError(err).Fatal("Failed to create classifier")
	}

	results := cache.New(cfg.CacheSize)

	modelPath, libPath, err := resolveRuntimeFiles(cfg.ModelPath, cfg.OnnxRuntimeLib)
	if err != nil {
		logger.Logger.WithError(err).Fatal("Failed to locate model files")
	}
	if err := detections.InitRuntime(libPath); err != nil {
		logger.Logger.WithError(err).Fatal("Failed to initialize ONNX environment")
	}
	defer detections.ShutdownRuntime()

	detector, err := detections.NewDetector(detections.Config{
		ModelPath: modelPath,
		Device:    cfg.Device,
		PoolSize:  cfg.PoolSize,
	})
	if err != nil {
		logger.Logger.WithError(err).Fatal("Failed to create detector")
	}
	defer detector.Close()

	state := &AppState{
		Pool:           detector,
		MaxBodySize:    cfg.MaxRequestBodySize,
		RequestTimeout: cfg.RequestTimeout,
	}

	var recorder pipeline.Recorder
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Logger.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		repo := store.NewDetectionRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Logger.WithError(err).Fatal("Failed to apply schema")
		}
		recorder = repo
		state.History = repo
	}

	state.Pipeline, err = pipeline.New(pipeline.Options{
		Detector:        detector,
		Cache:           results,
		Colors:          colors,
		Classifier:      strategy,
		Estimator:       distance.Estimator{FixtureHeightM: cfg.FixtureHeightM, FocalLengthPx: cfg.FocalLengthPx},
		ConfidenceFloor: cfg.ConfidenceFloor,
		FixtureClass:    cfg.FixtureClass,
		Latency:         metrics.NewLatencyTracker(0.01),
		Recorder:        recorder,
		CPUFeatures:     detections.CPUFeatures(),
	})
	if err != nil {
		logger.Logger.WithError(err).Fatal("Failed to create pipeline")
	}

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      state.Routes(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"address":    cfg.ServerAddress(),
			"device":     detector.Device(),
			"classifier": strategy.Name(),
			"colors":     colors.Len(),
			"color_db":   colors.Source(),
			"history":    recorder != nil,
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// loadColors reads the reference table. A missing table leaves the service
// running with an empty one, so color lookups report unknown.
func loadColors(ctx context.Context, cfg *config.Config) (*colordb.Store, error) {
	colors, err := colordb.Load(ctx, cfg.ColorDB, colordb.Options{
		AWSRegion:                    cfg.AWSRegion,
		AzureStorageConnectionString: cfg.AzureStorageConnectionString,
	})
	if errors.Is(err, apperrors.ErrDataUnavailable) {
		logger.WithError(err).WithField("source", cfg.ColorDB).Warn("Color table unavailable, continuing without it")
		return colordb.Empty(), nil
	}
	return colors, err
}

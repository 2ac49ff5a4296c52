package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/config"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/consumer"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/handlers"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/metrics"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/middleware"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/processor"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/publisher"
	"github.com/XavierBriggs/fortuna/services/fml-engine/internal/weights"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/fml"
	"github.com/XavierBriggs/fortuna/services/fml-engine/pkg/oddsmath"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	oddsmath.SetLogger(logger.WithField("component", "oddsmath"))
	logger.Info("=== Fortuna FML Engine ===")

	engineMetrics := metrics.NewEngineMetrics()

	// Initialize engine
	service, err := fml.NewService(fml.NewNormalModel(), cfg.EngineConfig(), logger, engineMetrics)
	if err != nil {
		logger.WithError(err).Fatal("failed to create FML service")
	}
	engineMetrics.SetConfigVersion(service.Config().Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// Book weights from Alexandria, defaults otherwise
	if cfg.Alexandria.DSN != "" {
		alexandriaDB, err := sql.Open("postgres", cfg.Alexandria.DSN)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to Alexandria")
		}
		defer alexandriaDB.Close()

		if err := alexandriaDB.PingContext(ctx); err != nil {
			logger.WithError(err).Fatal("failed to ping Alexandria")
		}
		logger.Info("connected to Alexandria DB")

		refresher := weights.NewRefresher(
			weights.NewAlexandriaProvider(alexandriaDB, cfg.Stream.Sports),
			service,
			engineMetrics,
			logger,
			cfg.Alexandria.RefreshInterval,
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			refresher.Run(ctx)
		}()
	} else {
		logger.Info("no Alexandria DSN configured, using default book weights")
	}

	// Stream processing
	var redisClient *redis.Client
	if cfg.Stream.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("failed to connect to Redis")
		}
		logger.WithField("addr", cfg.Redis.URL).Info("connected to Redis")

		streamProcessor := processor.NewProcessor(
			consumer.NewStreamConsumer(redisClient, cfg.Stream.ConsumerID, cfg.Stream.GroupName, cfg.Stream.BatchSize),
			publisher.NewStreamPublisher(redisClient),
			service,
			engineMetrics,
			logger,
			processor.Config{
				Sports:        cfg.Stream.Sports,
				BatchSize:     cfg.Stream.BatchSize,
				FlushInterval: cfg.Stream.FlushInterval,
				MinBestEdge:   cfg.Engine.MinBestEdge,
			},
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := streamProcessor.Start(ctx); err != nil {
				logger.WithError(err).Error("stream processor stopped")
			}
		}()

		// Metrics reporter
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					processed, failed, batches := streamProcessor.GetMetrics()
					logger.WithFields(logrus.Fields{
						"processed":      processed,
						"failed":         failed,
						"batches":        batches,
						"config_version": service.Config().Version,
					}).Info("stream metrics")
				}
			}
		}()

		logger.WithFields(logrus.Fields{
			"consumer_id":    cfg.Stream.ConsumerID,
			"group_name":     cfg.Stream.GroupName,
			"sports":         cfg.Stream.Sports,
			"batch_size":     cfg.Stream.BatchSize,
			"flush_interval": cfg.Stream.FlushInterval.String(),
		}).Info("stream processing started")
	}

	// HTTP API
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.Metrics(engineMetrics))
	r.Use(middleware.RateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))

	handler := handlers.NewHandler(service, logger, engineMetrics, cfg.Engine.MinBestEdge)
	handler.Routes(r)
	r.Method(http.MethodGet, "/metrics", engineMetrics.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		engine := service.Config()
		logger.WithFields(logrus.Fields{
			"port":         cfg.Server.Port,
			"blend_alpha":  engine.BlendAlpha,
			"min_books":    engine.MinBooks,
			"devig_method": engine.DevigMethod,
			"line_range":   fmt.Sprintf("[%g, %g] step %g", engine.LineRange.Min, engine.LineRange.Max, engine.LineRange.Step),
		}).Info("FML engine HTTP API started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("shutting down gracefully")
	case err := <-errChan:
		logger.WithError(err).Error("server error")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	wg.Wait()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("error closing Redis")
		}
	}

	logger.Info("FML engine stopped")
}

// newLogger builds the process logger from config
func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithField("level", cfg.Level).Warn("unknown log level, using info")
	}
	logger.SetLevel(level)

	return logger
}

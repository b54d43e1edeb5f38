/**
 * Vision Read Worker - Main Entry Point
 *
 * Consumes document jobs from Redis (plain list or asynq), recognizes them
 * with the Computer Vision Read API, legacy OCR or local Tesseract, runs the
 * requested pattern queries and records job status.
 *
 * Serves /healthz and /metrics on METRICS_ADDR.
 */

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/config"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
	"github.com/adverant/nexus/vision-read-worker/internal/queue"
	"github.com/adverant/nexus/vision-read-worker/internal/storage"
)

// queueConsumer is implemented by both queue backends.
type queueConsumer interface {
	Start() error
	Stop() error
}

func main() {
	logger := logging.NewLogger("Worker")
	if err := run(logger); err != nil {
		logger.Error("Worker exited with error", "error", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	if err := config.LoadEnvFiles(); err != nil {
		return err
	}
	cfg, err := config.Load(config.NewViper(), os.Getenv("CONFIG_FILE"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	logging.SetLevel(cfg.LogLevel)

	logger.Info("Vision Read worker starting",
		"endpoint", cfg.VisionEndpoint,
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"mode", cfg.RecognitionMode)

	var store *storage.PostgresClient
	if cfg.DatabaseURL != "" {
		store, err = storage.NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to job store: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("Job store initialized")
	} else {
		logger.Info("DATABASE_URL not set, job status is kept in Redis only")
	}

	procCfg := &processor.ProcessorConfig{
		Service:     clients.NewVisionClient(cfg.VisionConfig()),
		Engine:      cfg.MatchEngine(),
		Policy:      cfg.PollPolicy(),
		ReadOptions: cfg.ReadOptions(),
		Limits:      cfg.PreflightLimits(),
		DefaultMode: cfg.Mode(),
	}
	var db pinger
	if store != nil {
		procCfg.Store = store
		db = store
	}
	tess, err := processor.NewTesseractOCR(&processor.TesseractConfig{Languages: cfg.Languages()})
	switch {
	case err == nil:
		procCfg.Local = tess
		logger.Info("Local Tesseract recognizer enabled", "languages", cfg.TesseractLanguages)
	case errors.Is(err, processor.ErrTesseractNotEnabled):
		logger.Debug("Local Tesseract recognizer not built in")
	default:
		logger.Warn("Local Tesseract recognizer unavailable", "error", err)
	}

	proc, err := processor.NewDocumentProcessor(procCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize document processor: %w", err)
	}

	var (
		consumer queueConsumer
		stats    func(ctx context.Context) (map[string]interface{}, error)
	)
	switch cfg.QueueBackend {
	case config.BackendAsynq:
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
		consumer = c
		stats = func(context.Context) (map[string]interface{}, error) { return c.GetStatistics(), nil }
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.ProcessingTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize queue consumer: %w", err)
		}
		consumer = c
		stats = func(ctx context.Context) (map[string]interface{}, error) {
			s, err := c.GetStats(ctx)
			if err != nil {
				return nil, err
			}
			out := make(map[string]interface{}, len(s))
			for k, v := range s {
				out[k] = v
			}
			return out, nil
		}
	}

	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           newMux(db, stats),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("Serving health and metrics", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()

	if err := consumer.Start(); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	logger.Info("Worker ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal, shutting down", "signal", sig.String())

	if err := consumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error stopping metrics server", "error", err)
	}

	logger.Info("Shutdown complete")
	return logger.Sync()
}

// pinger is the part of the job store the health check needs.
type pinger interface {
	Ping(ctx context.Context) error
}

func newMux(db pinger, stats func(ctx context.Context) (map[string]interface{}, error)) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{"status": "ok"}
		status := http.StatusOK

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				body["status"] = "degraded"
				body["database"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		if stats != nil {
			if s, err := stats(ctx); err != nil {
				body["status"] = "degraded"
				body["queue"] = err.Error()
				status = http.StatusServiceUnavailable
			} else {
				body["queue"] = s
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

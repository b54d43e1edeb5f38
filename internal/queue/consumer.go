/**
 * Queue Consumer for the Vision Read worker
 *
 * Consumes ocr:read-document tasks with asynq and runs them through the
 * document processor. Permanent failures skip asynq's retry schedule.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

const backendAsynq = "asynq"

// Consumer handles task consumption through asynq
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	runner *jobRunner
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// 5s, 10s, 20s, ... capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second || delay <= 0 {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				logger.Warn("Task processing error",
					"type", task.Type(), "retried", retried, "error", err)
			}),
			Logger: logger.Sugared(),
		},
	)

	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		config: cfg,
		logger: logger,
		runner: &jobRunner{
			processor: cfg.Processor,
			timeout:   cfg.ProcessingTimeout,
			logger:    logger,
		},
	}
	consumer.mux.HandleFunc(TaskTypeReadDocument, consumer.handleReadDocument)

	return consumer, nil
}

// Start starts the asynq server in the background.
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	return nil
}

// Stop waits for active tasks and shuts the server down.
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleReadDocument processes one ocr:read-document task
func (c *Consumer) handleReadDocument(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		metrics.QueueJobsTotal.WithLabelValues(backendAsynq, "rejected").Inc()
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Validate(); err != nil {
		metrics.QueueJobsTotal.WithLabelValues(backendAsynq, "rejected").Inc()
		return fmt.Errorf("invalid job: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	logger := c.logger.With("jobId", payload.JobID, "attempt", retried+1)
	logger.Info("Processing document", "filename", payload.Filename, "mode", payload.Mode)

	start := time.Now()
	result, req, err := c.runner.process(ctx, &payload)
	if err != nil {
		if IsPermanent(err) || retried >= maxRetry {
			logger.Error("Job failed", "elapsed", time.Since(start), "error", err)
			metrics.QueueJobsTotal.WithLabelValues(backendAsynq, "failed").Inc()
			c.runner.fail(ctx, req, err)
			if IsPermanent(err) {
				return fmt.Errorf("document processing failed: %v: %w", err, asynq.SkipRetry)
			}
			return fmt.Errorf("document processing failed: %w", err)
		}

		logger.Warn("Job failed, will retry", "elapsed", time.Since(start), "maxRetry", maxRetry, "error", err)
		metrics.QueueJobsTotal.WithLabelValues(backendAsynq, "retried").Inc()
		c.runner.retrying(ctx, req, err, retried+1)
		return fmt.Errorf("document processing failed: %w", err)
	}

	c.runner.complete(ctx, req, result)
	metrics.QueueJobsTotal.WithLabelValues(backendAsynq, "completed").Inc()
	logger.Info("Job completed",
		"elapsed", time.Since(start),
		"pages", result.PageCount,
		"words", result.WordCount,
		"matches", result.MatchCount)
	return nil
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"backend":     backendAsynq,
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
	}
}

// NewReadTask builds an ocr:read-document task for payload.
func NewReadTask(payload *JobPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(TaskTypeReadDocument, data, opts...), nil
}

// Producer enqueues ocr:read-document tasks for the asynq consumer.
type Producer struct {
	client    *asynq.Client
	queueName string
}

// NewProducer creates a Producer for queueName.
func NewProducer(redisURL, queueName string) (*Producer, error) {
	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{client: asynq.NewClient(redisOpt), queueName: queueName}, nil
}

// Enqueue submits payload with the given retry budget. A missing job id is
// generated. The job id doubles as the task id, so enqueuing the same job
// twice fails with asynq.ErrTaskIDConflict.
func (p *Producer) Enqueue(ctx context.Context, payload *JobPayload, maxRetries int) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}
	task, err := NewReadTask(payload,
		asynq.Queue(p.queueName),
		asynq.MaxRetry(maxRetries),
		asynq.TaskID(payload.JobID),
	)
	if err != nil {
		return "", err
	}
	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info.ID, nil
}

// Close closes the underlying client.
func (p *Producer) Close() error {
	return p.client.Close()
}

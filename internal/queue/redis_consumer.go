/**
 * Direct Redis Queue Consumer for the Vision Read worker
 *
 * Uses plain Redis LIST, HASH and SET operations:
 *   <queue>             list of job ids (LPUSH by producers, BRPOP here)
 *   <queue>:data        hash job id -> RedisJobData JSON
 *   <queue>:processing  set, and likewise :completed and :failed
 *   <queue>:results     hash job id -> ProcessResult JSON
 *   <queue>:errors      hash job id -> error JSON
 *   <queue>:events      pub/sub channel of job:<status> events
 */

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

const backendRedis = "redis"

// DefaultRedisQueue is used when no queue name is configured.
const DefaultRedisQueue = "vision:read:jobs"

var errNoJobs = errors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// JobEvent is published on <queue>:events for every status change.
type JobEvent struct {
	Event     string `json:"event"`
	JobID     string `json:"jobId"`
	Timestamp string `json:"timestamp"`
}

type queueKeys struct {
	list, data, processing, completed, failed, results, errors, events string
}

func keysFor(queue string) queueKeys {
	return queueKeys{
		list:       queue,
		data:       queue + ":data",
		processing: queue + ":processing",
		completed:  queue + ":completed",
		failed:     queue + ":failed",
		results:    queue + ":results",
		errors:     queue + ":errors",
		events:     queue + ":events",
	}
}

// RedisConsumer handles job consumption from Redis queue
type RedisConsumer struct {
	client *redis.Client
	runner *jobRunner
	config *RedisConsumerConfig
	keys   queueKeys
	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.DocumentProcessorInterface
	ProcessingTimeout time.Duration
	PollTimeout       time.Duration // BRPOP block time, default 5s
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultRedisQueue
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger := logging.NewLogger("RedisConsumer")
	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client: client,
		config: cfg,
		keys:   keysFor(cfg.QueueName),
		logger: logger,
		ctx:    consumerCtx,
		cancel: cancel,
		runner: &jobRunner{
			processor: cfg.Processor,
			timeout:   cfg.ProcessingTimeout,
			logger:    logger,
		},
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return nil
}

// Stop cancels in-flight jobs, waits for the workers and closes the client.
// Cancelled jobs are pushed back onto the queue.
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", "worker", id)

	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("Worker stopping", "worker", id)
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if errors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			c.logger.Error("Worker error", "worker", id, "error", err)
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// bookkeepingTimeout bounds Redis writes made after a job left the list.
const bookkeepingTimeout = 5 * time.Second

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, c.config.PollTimeout, c.keys.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}
	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	return c.handleJob(result[1])
}

// bookkeeping returns a context for Redis and status writes about a popped
// job. It outlives the consumer context so a job is never lost on shutdown.
func (c *RedisConsumer) bookkeeping() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), bookkeepingTimeout)
}

// handleJob runs a job whose id was already removed from the list.
func (c *RedisConsumer) handleJob(id string) error {
	ctx, cancel := c.bookkeeping()
	raw, err := c.client.HGet(ctx, c.keys.data, id).Result()
	cancel()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.pushBack(id)
		}
		return fmt.Errorf("failed to get job data for %s: %w", id, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		metrics.QueueJobsTotal.WithLabelValues(backendRedis, "rejected").Inc()
		c.markFailed(id, map[string]interface{}{"error": err.Error(), "attempts": 0})
		return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}
	if err := job.Payload.Validate(); err != nil {
		metrics.QueueJobsTotal.WithLabelValues(backendRedis, "rejected").Inc()
		c.markFailed(id, map[string]interface{}{"error": err.Error(), "attempts": job.Attempts})
		return fmt.Errorf("invalid job %s: %w", id, err)
	}

	logger := c.logger.With("jobId", job.Payload.JobID, "attempt", job.Attempts+1)
	if c.ctx.Err() != nil {
		c.requeue(id, &job)
		logger.Info("Job requeued on shutdown")
		return nil
	}

	c.markProcessing(id)
	logger.Info("Processing job", "filename", job.Payload.Filename, "mode", job.Payload.Mode)

	start := time.Now()
	processResult, req, err := c.runner.process(c.ctx, &job.Payload)

	statusCtx, cancelStatus := c.bookkeeping()
	defer cancelStatus()

	if err != nil {
		if c.ctx.Err() != nil {
			// Shutdown, not a job failure.
			c.requeue(id, &job)
			logger.Info("Job requeued on shutdown")
			return nil
		}

		job.Attempts++
		if !IsPermanent(err) && job.Attempts < job.MaxRetries {
			c.requeue(id, &job)
			metrics.QueueJobsTotal.WithLabelValues(backendRedis, "retried").Inc()
			c.runner.retrying(statusCtx, req, err, job.Attempts)
			logger.Warn("Job re-queued for retry", "attempts", job.Attempts, "maxRetries", job.MaxRetries, "error", err)
			return nil
		}

		metrics.QueueJobsTotal.WithLabelValues(backendRedis, "failed").Inc()
		c.runner.fail(statusCtx, req, err)
		c.markFailed(id, map[string]interface{}{"error": err.Error(), "attempts": job.Attempts})
		logger.Error("Job failed", "elapsed", time.Since(start), "error", err)
		return nil
	}

	c.runner.complete(statusCtx, req, processResult)
	c.markCompleted(id, processResult)
	metrics.QueueJobsTotal.WithLabelValues(backendRedis, "completed").Inc()
	logger.Info("Job completed", "elapsed", time.Since(start), "words", processResult.WordCount, "matches", processResult.MatchCount)
	return nil
}

// pushBack returns an id whose data could not be read to the list.
func (c *RedisConsumer) pushBack(id string) {
	ctx, cancel := c.bookkeeping()
	defer cancel()
	if err := c.client.LPush(ctx, c.keys.list, id).Err(); err != nil {
		c.logger.Error("Failed to push job back", "jobId", id, "error", err)
	}
}

// requeue stores job and pushes it back.
func (c *RedisConsumer) requeue(id string, job *RedisJobData) {
	ctx, cancel := c.bookkeeping()
	defer cancel()

	data, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to marshal job for requeue", "jobId", id, "error", err)
		return
	}
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.keys.data, id, data)
		pipe.SRem(ctx, c.keys.processing, id)
		pipe.LPush(ctx, c.keys.list, id)
		return nil
	}); err != nil {
		c.logger.Error("Failed to requeue job", "jobId", id, "error", err)
	}
}

func (c *RedisConsumer) markProcessing(id string) {
	ctx, cancel := c.bookkeeping()
	defer cancel()
	if err := c.client.SAdd(ctx, c.keys.processing, id).Err(); err != nil {
		c.logger.Warn("Failed to mark job processing", "jobId", id, "error", err)
	}
	c.publish(ctx, id, "processing")
}

func (c *RedisConsumer) markCompleted(id string, result *processor.ProcessResult) {
	ctx, cancel := c.bookkeeping()
	defer cancel()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("Failed to marshal result", "jobId", id, "error", err)
	}
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.keys.processing, id)
		pipe.SAdd(ctx, c.keys.completed, id)
		if data != nil {
			pipe.HSet(ctx, c.keys.results, id, data)
		}
		return nil
	}); err != nil {
		c.logger.Error("Failed to mark job completed", "jobId", id, "error", err)
	}
	c.publish(ctx, id, "completed")
}

func (c *RedisConsumer) markFailed(id string, details map[string]interface{}) {
	ctx, cancel := c.bookkeeping()
	defer cancel()
	data, _ := json.Marshal(details)
	if _, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, c.keys.processing, id)
		pipe.SAdd(ctx, c.keys.failed, id)
		pipe.HSet(ctx, c.keys.errors, id, data)
		return nil
	}); err != nil {
		c.logger.Error("Failed to mark job failed", "jobId", id, "error", err)
	}
	c.publish(ctx, id, "failed")
}

func (c *RedisConsumer) publish(ctx context.Context, id, status string) {
	event, _ := json.Marshal(JobEvent{
		Event:     "job:" + status,
		JobID:     id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err := c.client.Publish(ctx, c.keys.events, event).Err(); err != nil {
		c.logger.Debug("Failed to publish job event", "jobId", id, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, c.client, c.keys)
}

func queueStats(ctx context.Context, client *redis.Client, keys queueKeys) (map[string]int64, error) {
	pipe := client.Pipeline()
	waiting := pipe.LLen(ctx, keys.list)
	processing := pipe.SCard(ctx, keys.processing)
	completed := pipe.SCard(ctx, keys.completed)
	failed := pipe.SCard(ctx, keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// RedisProducer enqueues jobs for the RedisConsumer.
type RedisProducer struct {
	client *redis.Client
	keys   queueKeys
}

// NewRedisProducer creates a RedisProducer for queueName.
func NewRedisProducer(redisURL, queueName string) (*RedisProducer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if queueName == "" {
		queueName = DefaultRedisQueue
	}
	return &RedisProducer{client: redis.NewClient(opt), keys: keysFor(queueName)}, nil
}

// Enqueue stores payload and pushes its id. A missing job id is generated.
func (p *RedisProducer) Enqueue(ctx context.Context, payload *JobPayload, maxRetries int) (string, error) {
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	if err := payload.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(RedisJobData{
		ID:         payload.JobID,
		Type:       TaskTypeReadDocument,
		Payload:    *payload,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	if _, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.keys.data, payload.JobID, data)
		pipe.LPush(ctx, p.keys.list, payload.JobID)
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return payload.JobID, nil
}

// Stats returns the queue statistics seen by consumers of the same queue.
func (p *RedisProducer) Stats(ctx context.Context) (map[string]int64, error) {
	return queueStats(ctx, p.client, p.keys)
}

// Close closes the underlying client.
func (p *RedisProducer) Close() error {
	return p.client.Close()
}

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/vision-read-worker/internal/config"
	"github.com/adverant/nexus/vision-read-worker/internal/queue"
)

// producer is implemented by both queue backends.
type producer interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload, maxRetries int) (string, error)
	Close() error
}

func newEnqueueCmd(c *cli) *cobra.Command {
	var (
		q          queryFlags
		backend    string
		mode       string
		jobID      string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <file|url>",
		Short: "Queue a document for the worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := buildPayload(args[0])
			if err != nil {
				return err
			}
			payload.JobID = jobID
			payload.Mode = mode
			payload.Patterns = q.patterns
			payload.Literals = q.literals

			if backend == "" {
				backend = c.cfg.QueueBackend
			}
			if !cmd.Flags().Changed("max-retries") {
				maxRetries = c.cfg.QueueMaxRetries
			}

			var p producer
			switch backend {
			case config.BackendAsynq:
				p, err = queue.NewProducer(c.cfg.RedisURL, c.cfg.QueueName)
			case config.BackendRedis:
				p, err = queue.NewRedisProducer(c.cfg.RedisURL, c.cfg.QueueName)
			default:
				return fmt.Errorf("unknown queue backend %q", backend)
			}
			if err != nil {
				return err
			}
			defer p.Close()

			id, err := p.Enqueue(cmd.Context(), payload, maxRetries)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	q.register(cmd)
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "queue backend (redis, asynq); defaults to QUEUE_BACKEND")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "recognition mode (read, ocr, tesseract)")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id; generated when empty")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 3, "attempts after the first failure")
	return cmd
}

// buildPayload references a URL or inlines a local file.
func buildPayload(arg string) (*queue.JobPayload, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		name := arg
		if i := strings.LastIndex(arg, "/"); i >= 0 && i < len(arg)-1 {
			name = arg[i+1:]
		}
		return &queue.JobPayload{Filename: name, FileURL: arg}, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return &queue.JobPayload{Filename: filepath.Base(arg), FileBuffer: data}, nil
}

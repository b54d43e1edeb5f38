/**
 * Job payloads shared by the asynq and Redis list consumers
 *
 * Both backends carry the same JSON payload. The fileBuffer field accepts a
 * base64 string or a Node.js Buffer object so producers written in other
 * languages can enqueue without re-encoding.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/processor"
)

// TaskTypeReadDocument is the task type of a document recognition job.
const TaskTypeReadDocument = "ocr:read-document"

// DefaultProcessingTimeout bounds one job when nothing is configured.
const DefaultProcessingTimeout = 5 * time.Minute

// JobPayload contains the actual job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	UserID     string                 `json:"userId,omitempty"`
	Filename   string                 `json:"filename"`
	MimeType   string                 `json:"mimeType,omitempty"`
	FileURL    string                 `json:"fileUrl,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"` // set by UnmarshalJSON
	Mode       string                 `json:"mode,omitempty"`
	Patterns   []string               `json:"patterns,omitempty"`
	Literals   []string               `json:"literals,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes fileBuffer from either a base64 string or a
// {"type":"Buffer","data":[...]} object.
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		bufferType, _ := v["type"].(string)
		if bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks the fields every job needs.
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if p.FileURL == "" && len(p.FileBuffer) == 0 {
		return fmt.Errorf("job %s has neither fileUrl nor fileBuffer", p.JobID)
	}
	if _, err := processor.ParseMode(p.Mode); err != nil {
		return err
	}
	return nil
}

// ToRequest converts the payload into a processor request.
func (p *JobPayload) ToRequest() (*processor.ProcessRequest, error) {
	mode, err := processor.ParseMode(p.Mode)
	if err != nil {
		return nil, err
	}
	metadata := make(map[string]interface{}, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	if p.UserID != "" {
		metadata["userId"] = p.UserID
	}
	return &processor.ProcessRequest{
		JobID:      p.JobID,
		Filename:   p.Filename,
		MimeType:   p.MimeType,
		FileURL:    p.FileURL,
		FileBuffer: p.FileBuffer,
		Mode:       mode,
		Patterns:   p.Patterns,
		Literals:   p.Literals,
		Metadata:   metadata,
	}, nil
}

// IsPermanent reports whether retrying the job cannot change its outcome:
// unreadable input, bad patterns, a failed or unparseable operation, or a
// submission rejected with a client error other than 408 and 429.
func IsPermanent(err error) bool {
	var pe *apperrors.ProcessingError
	if !errors.As(err, &pe) {
		return false
	}
	switch pe.Code {
	case apperrors.ErrorUnsupportedFormat,
		apperrors.ErrorInvalidPattern,
		apperrors.ErrorJobFailed,
		apperrors.ErrorParseFailed:
		return true
	case apperrors.ErrorSubmissionFailed:
		return pe.StatusCode >= 400 && pe.StatusCode < 500 &&
			pe.StatusCode != http.StatusRequestTimeout &&
			pe.StatusCode != http.StatusTooManyRequests
	}
	return false
}

// jobRunner runs one job against the processor and keeps the job row in step.
// Both consumers share it.
type jobRunner struct {
	processor processor.DocumentProcessorInterface
	timeout   time.Duration
	logger    *logging.Logger
}

// process marks the job as processing and runs it under the processing timeout.
func (r *jobRunner) process(ctx context.Context, payload *JobPayload) (*processor.ProcessResult, *processor.ProcessRequest, error) {
	req, err := payload.ToRequest()
	if err != nil {
		return nil, &processor.ProcessRequest{JobID: payload.JobID, Filename: payload.Filename}, err
	}

	if err := r.processor.UpdateJobStatus(ctx, payload.JobID, "processing", map[string]interface{}{
		"filename": payload.Filename,
		"mode":     string(req.Mode),
	}); err != nil {
		// The row is created on the next successful update.
		r.logger.Warn("Failed to update status to processing", "jobId", payload.JobID, "error", err)
	}

	timeout := r.timeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := r.processor.ProcessDocument(processCtx, req)
	if err != nil {
		if errors.Is(processCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.Error("Processing timed out", "jobId", payload.JobID, "elapsed", time.Since(start), "timeout", timeout)
		}
		return nil, req, err
	}
	return result, req, nil
}

func (r *jobRunner) complete(ctx context.Context, req *processor.ProcessRequest, result *processor.ProcessResult) {
	if err := r.processor.UpdateJobStatus(ctx, req.JobID, "completed", processor.ResultMetadata(req, result)); err != nil {
		r.logger.Error("Failed to update status to completed", "jobId", req.JobID, "error", err)
	}
}

func (r *jobRunner) fail(ctx context.Context, req *processor.ProcessRequest, cause error) {
	if err := r.processor.UpdateJobStatus(ctx, req.JobID, "failed", processor.ErrorMetadata(req, cause)); err != nil {
		r.logger.Error("Failed to update status to failed", "jobId", req.JobID, "error", err)
	}
}

func (r *jobRunner) retrying(ctx context.Context, req *processor.ProcessRequest, cause error, attempt int) {
	metadata := processor.ErrorMetadata(req, cause)
	metadata["attempt"] = attempt
	if err := r.processor.UpdateJobStatus(ctx, req.JobID, "retrying", metadata); err != nil {
		r.logger.Warn("Failed to update status to retrying", "jobId", req.JobID, "error", err)
	}
}

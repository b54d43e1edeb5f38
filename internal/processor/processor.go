/**
 * Document Processor for the Vision Read worker
 *
 * Runs one document through the pipeline:
 * - load the file (buffer or URL download with backoff)
 * - preflight format, size and dimensions
 * - recognize it (Read API submit + poll, legacy OCR, or local Tesseract)
 * - run the requested pattern and literal queries
 * - report a summary and update the job row
 */

package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/match"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
	"github.com/adverant/nexus/vision-read-worker/internal/storage"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error)
	UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error
}

// JobStatusStore persists job status rows. *storage.PostgresClient implements it.
type JobStatusStore interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Service     ReadService     // required
	Local       LocalRecognizer // optional, enables ModeTesseract
	Store       JobStatusStore  // optional
	Engine      *match.Engine
	Policy      clients.PollPolicy
	ReadOptions clients.ReadOptions
	Limits      PreflightLimits
	DefaultMode Mode

	DownloadTimeout       time.Duration
	DownloadRetryInterval time.Duration
	DownloadMaxTries      uint
}

// ProcessRequest represents a document processing request
type ProcessRequest struct {
	JobID      string
	Filename   string
	MimeType   string
	FileURL    string
	FileBuffer []byte
	Mode       Mode
	Patterns   []string
	Literals   []string
	Metadata   map[string]interface{}
}

// ProcessResult represents the processing result
type ProcessResult struct {
	JobID            string                   `json:"jobId"`
	Mode             Mode                     `json:"mode"`
	OperationID      string                   `json:"operationId,omitempty"`
	MimeType         string                   `json:"mimeType"`
	PageCount        int                      `json:"pageCount"`
	LineCount        int                      `json:"lineCount"`
	WordCount        int                      `json:"wordCount"`
	Confidence       float64                  `json:"confidence"`
	HasConfidence    bool                     `json:"hasConfidence"`
	Text             string                   `json:"text"`
	PatternMatches   map[string]match.Records `json:"patternMatches,omitempty"`
	LiteralMatches   map[string]match.Records `json:"literalMatches,omitempty"`
	MatchCount       int                      `json:"matchCount"`
	ProcessingTimeMs int64                    `json:"processingTimeMs"`

	Document *document.Document `json:"-"`
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	config     *ProcessorConfig
	engine     *match.Engine
	httpClient *http.Client
	logger     *logging.Logger
}

// NewDocumentProcessor creates a new document processor
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("vision service is required")
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeRead
	}
	if cfg.Policy == (clients.PollPolicy{}) {
		cfg.Policy = clients.DefaultPollPolicy()
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 10 * time.Minute
	}
	if cfg.DownloadRetryInterval <= 0 {
		cfg.DownloadRetryInterval = time.Second
	}
	if cfg.DownloadMaxTries == 0 {
		cfg.DownloadMaxTries = 5
	}

	engine := cfg.Engine
	if engine == nil {
		engine = match.NewEngine()
	}

	return &DocumentProcessor{
		config:     cfg,
		engine:     engine,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		logger:     logging.NewLogger("DocumentProcessor"),
	}, nil
}

// NewWorkflow creates a Workflow sharing the processor's collaborators.
// Operation status changes are written to the job store under ctx.
func (p *DocumentProcessor) NewWorkflow(ctx context.Context, jobID string) *Workflow {
	logger := p.logger.With("jobId", jobID)
	return NewWorkflow(WorkflowConfig{
		Service:     p.config.Service,
		Local:       p.config.Local,
		Policy:      p.config.Policy,
		Engine:      p.engine,
		ReadOptions: p.config.ReadOptions,
		Logger:      logger,
		OnStatus: func(handle clients.JobHandle, status clients.JobStatus, attempt int) {
			if err := p.UpdateJobStatus(ctx, jobID, "ocr_"+status.String(), map[string]interface{}{
				"operationLocation": handle.URL(),
				"pollAttempt":       attempt,
			}); err != nil {
				logger.Warn("Failed to record operation status", "status", status.String(), "error", err)
			}
		},
	})
}

// ProcessDocument processes a document through the complete pipeline
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*ProcessResult, error) {
	startTime := time.Now()
	logger := p.logger.With("jobId", req.JobID)

	mode := req.Mode
	if mode == "" {
		mode = p.config.DefaultMode
	}

	logger.Info("Starting document processing", "filename", req.Filename, "mode", mode)

	// Reject bad patterns before anything is uploaded.
	for _, pattern := range req.Patterns {
		if _, err := p.engine.Compile(pattern); err != nil {
			return nil, p.fail(req.JobID, mode, startTime, err)
		}
	}

	fileData, err := p.loadFile(ctx, req)
	if err != nil {
		return nil, p.fail(req.JobID, mode, startTime, fmt.Errorf("failed to load file: %w", err))
	}

	info, err := Preflight(req.JobID, fileData, req.MimeType, p.config.Limits)
	if err != nil {
		return nil, p.fail(req.JobID, mode, startTime, err)
	}
	if info.MimeType != req.MimeType {
		logger.Info("Detected MIME type", "declared", req.MimeType, "detected", info.MimeType)
	}

	wf := p.NewWorkflow(ctx, req.JobID)
	doc, err := wf.Run(ctx, mode, fileData)
	if err != nil {
		return nil, p.fail(req.JobID, mode, startTime, err)
	}

	result := &ProcessResult{
		JobID:       req.JobID,
		Mode:        mode,
		OperationID: operationID(wf.Handle()),
		MimeType:    info.MimeType,
		PageCount:   doc.PageCount(),
		Text:        doc.Text(),
		Document:    doc,
	}
	result.LineCount, result.WordCount = doc.Stats()
	result.Confidence, result.HasConfidence = doc.AverageConfidence()

	if len(req.Patterns) > 0 {
		result.PatternMatches = make(map[string]match.Records, len(req.Patterns))
		for _, pattern := range req.Patterns {
			records, err := wf.FindByPattern(pattern)
			if err != nil {
				return nil, p.fail(req.JobID, mode, startTime, err)
			}
			result.PatternMatches[pattern] = records
			result.MatchCount += len(records)
		}
	}
	if len(req.Literals) > 0 {
		result.LiteralMatches = make(map[string]match.Records, len(req.Literals))
		for _, literal := range req.Literals {
			records, err := wf.FindByLiteral(literal)
			if err != nil {
				return nil, p.fail(req.JobID, mode, startTime, err)
			}
			result.LiteralMatches[literal] = records
			result.MatchCount += len(records)
		}
	}

	result.ProcessingTimeMs = time.Since(startTime).Milliseconds()

	metrics.DocumentsProcessedTotal.WithLabelValues(string(mode), "completed").Inc()
	metrics.ProcessingDuration.WithLabelValues(string(mode)).Observe(time.Since(startTime).Seconds())
	metrics.WordsRecognized.Observe(float64(result.WordCount))

	logger.Info("Document processing complete",
		"pages", result.PageCount,
		"words", result.WordCount,
		"matches", result.MatchCount,
		"processingTimeMs", result.ProcessingTimeMs)

	return result, nil
}

func (p *DocumentProcessor) fail(jobID string, mode Mode, start time.Time, err error) error {
	metrics.DocumentsProcessedTotal.WithLabelValues(string(mode), "failed").Inc()
	metrics.ProcessingDuration.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
	p.logger.Error("Document processing failed", "jobId", jobID, "mode", mode, "error", err)
	return err
}

// UpdateJobStatus updates the job row when a store is configured.
// Known metadata keys are lifted into columns.
func (p *DocumentProcessor) UpdateJobStatus(ctx context.Context, jobID string, status string, metadata map[string]interface{}) error {
	if p.config.Store == nil {
		p.logger.Debug("No job store configured, skipping status update", "jobId", jobID, "status", status)
		return nil
	}

	update := &storage.JobUpdate{
		JobID:    jobID,
		Status:   status,
		Metadata: metadata,
	}

	if metadata != nil {
		if v, ok := metadata["mode"].(string); ok {
			update.Mode = v
		}
		if v, ok := metadata["filename"].(string); ok {
			update.Filename = v
		}
		if v, ok := metadata["operationLocation"].(string); ok {
			update.OperationLocation = v
		}
		if v, ok := metadata["pageCount"].(int); ok {
			update.PageCount = v
		}
		if v, ok := metadata["wordCount"].(int); ok {
			update.WordCount = v
		}
		if v, ok := metadata["matchCount"].(int); ok {
			update.MatchCount = v
		}
		if v, ok := metadata["patterns"].([]string); ok {
			update.Patterns = v
		}
		if v, ok := metadata["confidence"].(float64); ok {
			update.Confidence = v
		}
		if v, ok := metadata["processingTime"].(int64); ok {
			update.ProcessingTimeMs = v
		}
		if v, ok := metadata["error"].(string); ok {
			update.ErrorCode = "PROCESSING_ERROR"
			update.ErrorMessage = v
		}
		if v, ok := metadata["errorCode"].(string); ok {
			update.ErrorCode = v
		}
	}

	if err := p.config.Store.UpdateJobStatus(ctx, update); err != nil {
		return apperrors.NewStorageFailedError(jobID, err)
	}
	return nil
}

// ResultMetadata converts a result into UpdateJobStatus metadata.
// Request metadata is carried along unless it collides with a result field.
func ResultMetadata(req *ProcessRequest, result *ProcessResult) map[string]interface{} {
	m := make(map[string]interface{}, len(req.Metadata)+8)
	for k, v := range req.Metadata {
		m[k] = v
	}
	m["mode"] = string(result.Mode)
	m["filename"] = req.Filename
	m["pageCount"] = result.PageCount
	m["wordCount"] = result.WordCount
	m["matchCount"] = result.MatchCount
	m["processingTime"] = result.ProcessingTimeMs
	if result.OperationID != "" {
		m["operationId"] = result.OperationID
	}
	if result.HasConfidence {
		m["confidence"] = result.Confidence
	}
	if len(req.Patterns) > 0 {
		m["patterns"] = req.Patterns
	}
	return m
}

// ErrorMetadata converts a processing error into UpdateJobStatus metadata.
func ErrorMetadata(req *ProcessRequest, err error) map[string]interface{} {
	m := map[string]interface{}{
		"filename": req.Filename,
		"error":    err.Error(),
	}
	if req.Mode != "" {
		m["mode"] = string(req.Mode)
	}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		m["errorCode"] = string(pe.Code)
		for k, v := range pe.ToMap() {
			if _, exists := m[k]; !exists {
				m[k] = v
			}
		}
	}
	return m
}

func operationID(h clients.JobHandle) string {
	if h == "" {
		return ""
	}
	return h.OperationID()
}

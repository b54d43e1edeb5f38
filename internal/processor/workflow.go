package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/adverant/nexus/vision-read-worker/internal/clients"
	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/match"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
)

// Mode selects how a document is recognized.
type Mode string

const (
	ModeRead      Mode = "read"      // asynchronous Read API: submit, then poll
	ModeOCR       Mode = "ocr"       // legacy synchronous OCR API
	ModeTesseract Mode = "tesseract" // local Tesseract
)

// ParseMode maps a configuration or request value to a Mode. Empty means ModeRead.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeRead:
		return ModeRead, nil
	case ModeOCR:
		return ModeOCR, nil
	case ModeTesseract:
		return ModeTesseract, nil
	}
	return "", fmt.Errorf("unknown recognition mode %q", s)
}

var (
	// ErrNoHandle is returned by Poll before a successful Submit.
	ErrNoHandle = errors.New("no read operation submitted")
	// ErrNoDocument is returned by queries before a document was recognized.
	ErrNoDocument = errors.New("no recognized document")
	// ErrNoLocalRecognizer is returned for ModeTesseract without a recognizer.
	ErrNoLocalRecognizer = errors.New("no local recognizer configured")
)

// ReadService is the remote recognizer. *clients.VisionClient implements it.
type ReadService interface {
	clients.ReadFetcher
	SubmitRead(ctx context.Context, image []byte, opts clients.ReadOptions) (clients.JobHandle, error)
	RecognizeOCR(ctx context.Context, image []byte) (*document.Document, error)
}

// LocalRecognizer recognizes an image without the remote service.
type LocalRecognizer interface {
	Recognize(ctx context.Context, image []byte) (*document.Document, error)
}

// WorkflowConfig holds the collaborators of a Workflow
type WorkflowConfig struct {
	Service     ReadService
	Local       LocalRecognizer // optional
	Policy      clients.PollPolicy
	Engine      *match.Engine
	ReadOptions clients.ReadOptions
	OnStatus    clients.StatusFunc // optional
	Logger      *logging.Logger    // optional
}

// Workflow carries one document from submission to queries. It is meant to be
// used from a single goroutine; run one Workflow per document.
type Workflow struct {
	service ReadService
	local   LocalRecognizer
	poller  *clients.Poller
	engine  *match.Engine
	opts    clients.ReadOptions
	logger  *logging.Logger
	errs    *apperrors.Channel

	handle clients.JobHandle
	doc    *document.Document
}

// NewWorkflow creates a Workflow
func NewWorkflow(cfg WorkflowConfig) *Workflow {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("Workflow")
	}
	engine := cfg.Engine
	if engine == nil {
		engine = match.NewEngine()
	}

	pollerOpts := []clients.PollerOption{clients.WithLogger(logger)}
	if cfg.OnStatus != nil {
		pollerOpts = append(pollerOpts, clients.WithStatusFunc(cfg.OnStatus))
	}

	return &Workflow{
		service: cfg.Service,
		local:   cfg.Local,
		poller:  clients.NewPoller(cfg.Service, cfg.Policy, pollerOpts...),
		engine:  engine,
		opts:    cfg.ReadOptions,
		logger:  logger,
		errs: apperrors.NewChannel(func(err error) {
			code := string(apperrors.CodeOf(err))
			if code == "" {
				code = "UNCLASSIFIED"
			}
			metrics.WorkflowErrorsTotal.WithLabelValues(code).Inc()
			logger.Warn("Workflow error recorded", "code", code, "error", err)
		}),
	}
}

// Submit uploads image to the Read API and keeps the returned handle.
func (w *Workflow) Submit(ctx context.Context, image []byte) (clients.JobHandle, error) {
	handle, err := w.service.SubmitRead(ctx, image, w.opts)
	if err != nil {
		return "", w.errs.Record(err)
	}
	w.handle = handle
	return handle, nil
}

// Poll waits for the submitted operation and keeps the resulting document.
func (w *Workflow) Poll(ctx context.Context) (*document.Document, error) {
	if w.handle == "" {
		return nil, w.errs.Record(ErrNoHandle)
	}
	doc, err := w.poller.Poll(ctx, w.handle)
	if err != nil {
		return nil, w.errs.Record(err)
	}
	w.doc = doc
	return doc, nil
}

// Run recognizes image in the given mode.
func (w *Workflow) Run(ctx context.Context, mode Mode, image []byte) (*document.Document, error) {
	switch mode {
	case ModeRead:
		if _, err := w.Submit(ctx, image); err != nil {
			return nil, err
		}
		return w.Poll(ctx)

	case ModeOCR:
		doc, err := w.service.RecognizeOCR(ctx, image)
		if err != nil {
			return nil, w.errs.Record(err)
		}
		w.doc = doc
		return doc, nil

	case ModeTesseract:
		if w.local == nil {
			return nil, w.errs.Record(ErrNoLocalRecognizer)
		}
		doc, err := w.local.Recognize(ctx, image)
		if err != nil {
			return nil, w.errs.Record(err)
		}
		w.doc = doc
		return doc, nil
	}
	return nil, w.errs.Record(fmt.Errorf("unknown recognition mode %q", mode))
}

// Document returns the recognized document, if any.
func (w *Workflow) Document() (*document.Document, bool) {
	return w.doc, w.doc != nil
}

// Handle returns the Read operation handle, empty before Submit.
func (w *Workflow) Handle() clients.JobHandle {
	return w.handle
}

// Errors returns the workflow's error channel.
func (w *Workflow) Errors() *apperrors.Channel {
	return w.errs
}

// FindByPattern runs match.Engine.FindByPattern on the recognized document.
func (w *Workflow) FindByPattern(pattern string) (match.Records, error) {
	if w.doc == nil {
		return nil, w.errs.Record(ErrNoDocument)
	}
	records, err := w.engine.FindByPattern(w.doc, pattern)
	if err != nil {
		return nil, w.errs.Record(err)
	}
	metrics.MatchesTotal.WithLabelValues("pattern").Add(float64(len(records)))
	return records, nil
}

// FindByLiteral runs match.Engine.FindByLiteral on the recognized document.
func (w *Workflow) FindByLiteral(literal string) (match.Records, error) {
	if w.doc == nil {
		return nil, w.errs.Record(ErrNoDocument)
	}
	records := w.engine.FindByLiteral(w.doc, literal)
	metrics.MatchesTotal.WithLabelValues("literal").Add(float64(len(records)))
	return records, nil
}

// FindFirstByPattern runs match.Engine.FindFirstByPattern on the recognized document.
func (w *Workflow) FindFirstByPattern(pattern string) (string, bool, error) {
	if w.doc == nil {
		return "", false, w.errs.Record(ErrNoDocument)
	}
	s, ok, err := w.engine.FindFirstByPattern(w.doc, pattern)
	if err != nil {
		return "", false, w.errs.Record(err)
	}
	return s, ok, nil
}

// CountByPattern runs match.Engine.CountByPattern on the recognized document.
func (w *Workflow) CountByPattern(pattern string) (int, error) {
	if w.doc == nil {
		return 0, w.errs.Record(ErrNoDocument)
	}
	n, err := w.engine.CountByPattern(w.doc, pattern)
	if err != nil {
		return 0, w.errs.Record(err)
	}
	return n, nil
}

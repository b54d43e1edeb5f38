/**
 * Vision Client - Computer Vision Read and OCR endpoints
 *
 * Read is asynchronous: SubmitRead posts the image and returns the
 * Operation-Location handle, FetchReadResult reads the operation once, and
 * Poller (poller.go) drives FetchReadResult until the operation finishes.
 *
 * RecognizeOCR is the legacy synchronous endpoint: one request, one result,
 * no confidences.
 */

package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
)

const (
	subscriptionKeyHeader   = "Ocp-Apim-Subscription-Key"
	operationLocationHeader = "Operation-Location"

	// DefaultAPIVersion is the Computer Vision API version used when none is configured.
	DefaultAPIVersion = "v3.2"

	maxErrorBody = 512
)

// VisionConfig configures a VisionClient
type VisionConfig struct {
	Endpoint        string
	SubscriptionKey string
	APIVersion      string
	HTTPTimeout     time.Duration
}

// ReadOptions are optional query parameters of the Read analyze call
type ReadOptions struct {
	Language     string // e.g. "en"; empty lets the service detect
	Pages        string // e.g. "1-3,5"
	ReadingOrder string // "basic" or "natural"
	ModelVersion string // e.g. "latest" or "2022-04-30"
}

func (o ReadOptions) query() url.Values {
	q := url.Values{}
	if o.Language != "" {
		q.Set("language", o.Language)
	}
	if o.Pages != "" {
		q.Set("pages", o.Pages)
	}
	if o.ReadingOrder != "" {
		q.Set("readingOrder", o.ReadingOrder)
	}
	if o.ModelVersion != "" {
		q.Set("model-version", o.ModelVersion)
	}
	return q
}

// StatusError is a non-200 answer to a status fetch.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration // zero when the service sent none
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("vision service returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("vision service returned status %d", e.StatusCode)
}

// VisionClient handles communication with the Computer Vision service
type VisionClient struct {
	endpoint   string
	key        string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewVisionClient creates a new Vision client
func NewVisionClient(cfg VisionConfig) *VisionClient {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VisionClient{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		key:        cfg.SubscriptionKey,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewLogger("VisionClient"),
	}
}

func (c *VisionClient) url(op string, q url.Values) string {
	u := fmt.Sprintf("%s/vision/%s/%s", c.endpoint, c.apiVersion, op)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *VisionClient) newRequest(ctx context.Context, method, target string, image []byte) (*http.Request, error) {
	var body io.Reader
	if image != nil {
		body = bytes.NewReader(image)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(subscriptionKeyHeader, c.key)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if image != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	return req, nil
}

// SubmitRead starts an asynchronous Read operation for image. Only a 202 with
// an Operation-Location header is a success; nothing is retried here.
func (c *VisionClient) SubmitRead(ctx context.Context, image []byte, opts ReadOptions) (JobHandle, error) {
	c.logger.Info("Submitting document to Read API",
		"imageSize", len(image),
		"language", opts.Language,
		"modelVersion", opts.ModelVersion)

	req, err := c.newRequest(ctx, http.MethodPost, c.url("read/analyze", opts.query()), image)
	if err != nil {
		return "", apperrors.NewSubmissionError(0, "failed to build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("read", "error").Inc()
		return "", apperrors.NewSubmissionError(0, "request to Read API failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.SubmissionsTotal.WithLabelValues("read", "rejected").Inc()
		return "", apperrors.NewSubmissionError(resp.StatusCode,
			fmt.Sprintf("Read API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}

	location := strings.TrimSpace(resp.Header.Get(operationLocationHeader))
	if location == "" {
		metrics.SubmissionsTotal.WithLabelValues("read", "rejected").Inc()
		return "", apperrors.NewSubmissionError(resp.StatusCode, "Read API accepted the document without an Operation-Location header", nil)
	}

	metrics.SubmissionsTotal.WithLabelValues("read", "accepted").Inc()
	handle := JobHandle(location)
	c.logger.Info("Read operation accepted", "operationId", handle.OperationID())
	return handle, nil
}

// FetchReadResult issues one GET on the operation. A non-200 answer is a
// *StatusError; decoding errors are ParseErrors.
func (c *VisionClient) FetchReadResult(ctx context.Context, handle JobHandle) (*ReadOperation, error) {
	req, err := c.newRequest(ctx, http.MethodGet, handle.URL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}

	return ParseReadOperation(body)
}

// RecognizeOCR runs the legacy synchronous OCR endpoint with automatic
// language and orientation detection.
func (c *VisionClient) RecognizeOCR(ctx context.Context, image []byte) (*document.Document, error) {
	c.logger.Info("Submitting document to OCR API", "imageSize", len(image))

	q := url.Values{}
	q.Set("language", "unk")
	q.Set("detectOrientation", "true")

	req, err := c.newRequest(ctx, http.MethodPost, c.url("ocr", q), image)
	if err != nil {
		return nil, apperrors.NewSubmissionError(0, "failed to build request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("ocr", "error").Inc()
		return nil, apperrors.NewSubmissionError(0, "request to OCR API failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewSubmissionError(resp.StatusCode, "failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		metrics.SubmissionsTotal.WithLabelValues("ocr", "rejected").Inc()
		return nil, apperrors.NewSubmissionError(resp.StatusCode,
			fmt.Sprintf("OCR API returned status %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), maxErrorBody)), nil)
	}
	metrics.SubmissionsTotal.WithLabelValues("ocr", "accepted").Inc()

	result, err := ParseOCRResult(body)
	if err != nil {
		return nil, err
	}
	doc, err := result.ToDocument()
	if err != nil {
		return nil, err
	}

	lines, words := doc.Stats()
	c.logger.Info("OCR complete",
		"language", result.Language,
		"orientation", result.Orientation,
		"regions", doc.PageCount(),
		"lines", lines,
		"words", words)
	return doc, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

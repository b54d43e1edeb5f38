package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// loadFile returns the request's buffer, or downloads FileURL.
func (p *DocumentProcessor) loadFile(ctx context.Context, req *ProcessRequest) ([]byte, error) {
	if len(req.FileBuffer) > 0 {
		p.logger.Debug("Using file buffer", "jobId", req.JobID, "bytes", len(req.FileBuffer))
		return req.FileBuffer, nil
	}

	if req.FileURL != "" {
		p.logger.Info("Downloading file", "jobId", req.JobID, "url", req.FileURL)
		fileData, err := p.downloadFile(ctx, req.JobID, req.FileURL)
		if err != nil {
			return nil, fmt.Errorf("failed to download file: %w", err)
		}
		p.logger.Info("File downloaded", "jobId", req.JobID, "bytes", len(fileData))
		return fileData, nil
	}

	return nil, fmt.Errorf("no file source provided (buffer or URL)")
}

// downloadFile fetches fileURL with exponential backoff. Client errors other
// than 408 and 429 and oversized files are not retried.
func (p *DocumentProcessor) downloadFile(ctx context.Context, jobID string, fileURL string) ([]byte, error) {
	maxSize := p.config.Limits.MaxFileSize

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
				resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		if maxSize > 0 && resp.ContentLength > maxSize {
			return nil, backoff.Permanent(fmt.Errorf("file size exceeds maximum: %d > %d bytes", resp.ContentLength, maxSize))
		}

		reader := io.Reader(resp.Body)
		if maxSize > 0 {
			reader = io.LimitReader(resp.Body, maxSize+1)
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		if maxSize > 0 && int64(len(data)) > maxSize {
			return nil, backoff.Permanent(fmt.Errorf("file size exceeds maximum: more than %d bytes", maxSize))
		}
		return data, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.DownloadRetryInterval
	b.MaxInterval = 32 * p.config.DownloadRetryInterval

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(p.config.DownloadMaxTries),
		backoff.WithMaxElapsedTime(p.config.DownloadTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("Download attempt failed, retrying",
				"jobId", jobID, "attempt", attempt, "retryIn", next, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("download failed after %d attempts: %w", attempt, err)
	}
	return data, nil
}

package clients

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/adverant/nexus/vision-read-worker/internal/document"
	apperrors "github.com/adverant/nexus/vision-read-worker/internal/errors"
	"github.com/adverant/nexus/vision-read-worker/internal/logging"
	"github.com/adverant/nexus/vision-read-worker/internal/metrics"
)

// PollPolicy bounds how a Read operation is polled.
type PollPolicy struct {
	InitialInterval     time.Duration
	Multiplier          float64
	MaxInterval         time.Duration
	RandomizationFactor float64       // 0 keeps the delay sequence deterministic
	Timeout             time.Duration // wall-clock budget, 0 for none
	MaxAttempts         int           // fetch budget, 0 for none
}

// DefaultPollPolicy returns the policy used when nothing is configured.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 500 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     10 * time.Second,
		Timeout:         2 * time.Minute,
		MaxAttempts:     120,
	}
}

func (p PollPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.RandomizationFactor,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	return b
}

// ReadFetcher fetches the current state of a Read operation once.
type ReadFetcher interface {
	FetchReadResult(ctx context.Context, handle JobHandle) (*ReadOperation, error)
}

// StatusFunc observes every accepted status transition.
type StatusFunc func(handle JobHandle, status JobStatus, attempt int)

// PollerOption configures a Poller
type PollerOption func(*Poller)

// WithStatusFunc registers fn to be called on every status change.
func WithStatusFunc(fn StatusFunc) PollerOption {
	return func(p *Poller) { p.onStatus = fn }
}

// WithLogger replaces the poller's logger.
func WithLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// Poller waits for Read operations to finish.
type Poller struct {
	fetcher  ReadFetcher
	policy   PollPolicy
	logger   *logging.Logger
	onStatus StatusFunc

	// wait suspends between fetches; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a Poller
func NewPoller(fetcher ReadFetcher, policy PollPolicy, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher: fetcher,
		policy:  policy,
		logger:  logging.NewLogger("Poller"),
		wait:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the poller's policy.
func (p *Poller) Policy() PollPolicy {
	return p.policy
}

// Poll fetches the operation until it succeeds or fails, the budget runs out
// or ctx is cancelled. It returns either a Document or an error, never both:
//
//   - JOB_FAILED when the service reports failed
//   - PARSE_FAILED when a succeeded operation has no usable analyzeResult
//   - POLL_CANCELLED when ctx is cancelled
//   - SERVICE_UNAVAILABLE when the budget runs out and the last fetch failed
//   - POLL_TIMEOUT when the budget runs out while the operation is still running
func (p *Poller) Poll(ctx context.Context, handle JobHandle) (*document.Document, error) {
	start := time.Now()
	doc, err := p.poll(ctx, handle)

	metrics.PollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PollOutcomesTotal.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
		return nil, err
	}
	metrics.PollOutcomesTotal.WithLabelValues(StatusSucceeded.String()).Inc()
	return doc, nil
}

func (p *Poller) poll(parent context.Context, handle JobHandle) (*document.Document, error) {
	start := time.Now()

	if err := parent.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, apperrors.NewPollCancelledError(handle.URL(), err)
		}
		return nil, apperrors.NewPollTimeoutError(handle.URL(), 0, 0)
	}

	ctx := parent
	if p.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, p.policy.Timeout)
		defer cancel()
	}

	b := p.policy.backOff()
	status := StatusNotStarted
	var lastErr error
	attempt := 0

	// exhausted is the result once the attempt or time budget is gone.
	exhausted := func() error {
		if lastErr != nil {
			p.logger.Warn("Read results unavailable", "operationId", handle.OperationID(), "attempts", attempt, "error", lastErr)
			return apperrors.NewUnavailableError(handle.URL(), attempt, lastErr)
		}
		p.logger.Warn("Read operation timed out", "operationId", handle.OperationID(), "attempts", attempt, "status", status.String())
		return apperrors.NewPollTimeoutError(handle.URL(), attempt, time.Since(start))
	}
	stopped := func(cause error) error {
		if errors.Is(parent.Err(), context.Canceled) {
			return apperrors.NewPollCancelledError(handle.URL(), cause)
		}
		return exhausted()
	}

	for {
		attempt++
		op, err := p.fetcher.FetchReadResult(ctx, handle)
		var retryAfter time.Duration

		switch {
		case err != nil:
			if ctx.Err() != nil {
				// lastErr keeps the previous fetch's outcome; the deadline is not a service failure.
				return nil, stopped(err)
			}
			lastErr = err
			metrics.PollAttemptsTotal.WithLabelValues("fetch_error").Inc()
			var se *StatusError
			if errors.As(err, &se) {
				retryAfter = se.RetryAfter
			}
			p.logger.Debug("Status fetch failed", "operationId", handle.OperationID(), "attempt", attempt, "error", err)

		default:
			observed, perr := ParseJobStatus(op.Status)
			if perr != nil {
				lastErr = apperrors.NewParseError("operation status", perr)
				metrics.PollAttemptsTotal.WithLabelValues("fetch_error").Inc()
				break
			}
			lastErr = nil
			metrics.PollAttemptsTotal.WithLabelValues(observed.String()).Inc()

			next, ok := status.Advance(observed)
			if !ok {
				p.logger.Warn("Ignoring backward status", "operationId", handle.OperationID(), "current", status.String(), "observed", observed.String())
			} else if next != status || attempt == 1 {
				if p.onStatus != nil {
					p.onStatus(handle, next, attempt)
				}
			}
			status = next

			switch status {
			case StatusSucceeded:
				doc, derr := op.ToDocument()
				if derr != nil {
					return nil, derr
				}
				lines, words := doc.Stats()
				p.logger.Info("Read operation succeeded",
					"operationId", handle.OperationID(),
					"attempts", attempt,
					"pages", doc.PageCount(),
					"lines", lines,
					"words", words)
				return doc, nil
			case StatusFailed:
				return nil, apperrors.NewJobFailedError(handle.URL())
			}
		}

		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			return nil, exhausted()
		}

		delay := b.NextBackOff()
		if retryAfter > delay {
			delay = retryAfter
		}
		if err := p.wait(ctx, delay); err != nil {
			return nil, stopped(err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

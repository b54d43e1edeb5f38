package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessingErrorIsMatchesByCode(t *testing.T) {
	err := NewPollTimeoutError("https://svc/operations/1", 3, 2*time.Second)

	assert.True(t, stderrors.Is(err, ErrTimeout))
	assert.False(t, stderrors.Is(err, ErrCancelled))

	wrapped := fmt.Errorf("document 42: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrTimeout))
	assert.Equal(t, ErrorPollTimeout, CodeOf(wrapped))
}

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := stderrors.New("connection reset by peer")
	err := NewUnavailableError("op-1", 5, cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestNonSentinelDoesNotMatchAsTarget(t *testing.T) {
	a := NewJobFailedError("op-a")
	b := NewJobFailedError("op-b")

	// b has a message, so it is not a sentinel.
	assert.False(t, stderrors.Is(a, b))
	assert.True(t, stderrors.Is(a, ErrJobFailed))
}

func TestSubmissionErrorCarriesStatus(t *testing.T) {
	err := NewSubmissionError(415, "unexpected status", nil)

	assert.Equal(t, 415, err.StatusCode)
	assert.True(t, stderrors.Is(err, ErrSubmission))
	assert.Equal(t, 415, err.ToMap()["status_code"])
}

func TestIndexErrorMessage(t *testing.T) {
	err := NewIndexError("word", 3, 3)

	assert.Equal(t, "INDEX_OUT_OF_RANGE: word index 3 out of range [0, 3)", err.Error())
	assert.Equal(t, 3, err.Details["count"])
}

func TestIsPollError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", NewPollTimeoutError("h", 1, time.Second), true},
		{"cancelled", NewPollCancelledError("h", nil), true},
		{"job failed", NewJobFailedError("h"), true},
		{"unavailable", NewUnavailableError("h", 1, nil), true},
		{"parse", NewParseError("read result", nil), true},
		{"index", NewIndexError("page", 1, 0), false},
		{"plain", stderrors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPollError(tc.err))
		})
	}
}

func TestToMapIncludesDetailsAndCause(t *testing.T) {
	err := NewPatternError("([a-z", stderrors.New("missing closing )"))
	m := err.ToMap()

	assert.Equal(t, "INVALID_PATTERN", m["error_code"])
	assert.Equal(t, "([a-z", m["pattern"])
	assert.Equal(t, "missing closing )", m["cause"])
}

func TestChannelKeepsLastError(t *testing.T) {
	var seen []error
	ch := NewChannel(func(err error) { seen = append(seen, err) })

	assert.False(t, ch.HasError())
	assert.Equal(t, "", ch.Message())
	assert.Nil(t, ch.Record(nil))

	first := NewSubmissionError(500, "unexpected status", nil)
	second := NewJobFailedError("op-9")

	assert.Same(t, first, ch.Record(first))
	ch.Record(second)

	require.True(t, ch.HasError())
	assert.Same(t, second, ch.Last())
	assert.Equal(t, ErrorJobFailed, ch.Code())
	assert.Equal(t, 2, ch.Count())
	assert.Len(t, seen, 2)

	m := ch.ToMap()
	assert.Equal(t, true, m["has_error"])
	assert.Equal(t, "JOB_FAILED", m["error_code"])

	ch.Reset()
	assert.False(t, ch.HasError())
	assert.Equal(t, 0, ch.Count())
	assert.Equal(t, map[string]interface{}{"has_error": false}, ch.ToMap())
}

func TestChannelConcurrentRecord(t *testing.T) {
	ch := NewChannel(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch.Record(fmt.Errorf("failure %d", i))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, ch.Count())
	assert.True(t, ch.HasError())
}

package errors

import (
	"sync"
	"time"
)

// Channel keeps the most recent failure of one workflow for logging and telemetry.
// It does not replace returned errors; callers still check every error they get.
type Channel struct {
	mu       sync.Mutex
	last     error
	at       time.Time
	count    int
	onRecord func(error)
}

// NewChannel creates a Channel. onRecord, if not nil, is called for every recorded error.
func NewChannel(onRecord func(error)) *Channel {
	return &Channel{onRecord: onRecord}
}

// Record stores err as the latest failure and returns it unchanged. A nil err is ignored.
func (c *Channel) Record(err error) error {
	if err == nil {
		return nil
	}

	c.mu.Lock()
	c.last = err
	c.at = time.Now()
	c.count++
	hook := c.onRecord
	c.mu.Unlock()

	if hook != nil {
		hook(err)
	}
	return err
}

// HasError reports whether any error was recorded since the last Reset.
func (c *Channel) HasError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil
}

// Last returns the most recent error, or nil.
func (c *Channel) Last() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Message returns the most recent error message, or "".
func (c *Channel) Message() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ""
	}
	return c.last.Error()
}

// Code returns the code of the most recent error, or "" if it has none.
func (c *Channel) Code() ErrorCode {
	return CodeOf(c.Last())
}

// Count returns how many errors were recorded since the last Reset.
func (c *Channel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Reset clears the channel.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = nil
	c.at = time.Time{}
	c.count = 0
}

// ToMap renders the channel state for job status metadata.
func (c *Channel) ToMap() map[string]interface{} {
	c.mu.Lock()
	last, at, count := c.last, c.at, c.count
	c.mu.Unlock()

	if last == nil {
		return map[string]interface{}{"has_error": false}
	}

	result := map[string]interface{}{
		"has_error":   true,
		"error":       last.Error(),
		"error_count": count,
		"recorded_at": at,
	}
	if code := CodeOf(last); code != "" {
		result["error_code"] = string(code)
	}
	return result
}

package clients

import "fmt"

// JobStatus is the state of an asynchronous Read operation.
type JobStatus int

const (
	StatusNotStarted JobStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

var statusNames = map[JobStatus]string{
	StatusNotStarted: "notStarted",
	StatusRunning:    "running",
	StatusSucceeded:  "succeeded",
	StatusFailed:     "failed",
}

func (s JobStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("JobStatus(%d)", int(s))
}

// ParseJobStatus maps the service's status string to a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	for status, name := range statusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown operation status %q", s)
}

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// rank orders statuses; succeeded and failed share the terminal rank.
func (s JobStatus) rank() int {
	if s.Terminal() {
		return 2
	}
	return int(s)
}

// Advance returns the status after observing next. Statuses only move forward;
// a backward or sideways observation keeps the current status and reports false.
func (s JobStatus) Advance(next JobStatus) (JobStatus, bool) {
	if s.Terminal() {
		return s, s == next
	}
	if next.rank() < s.rank() {
		return s, false
	}
	return next, true
}

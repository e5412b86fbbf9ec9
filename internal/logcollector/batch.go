package logcollector

import "time"

// State is the batch processing state (spec.md §4.9's five-state
// machine, grounded on original_source's http_state_t).
type State int

const (
	Idle State = iota
	Preparing
	Sending
	RetryWait
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Sending:
		return "sending"
	case RetryWait:
		return "retry_wait"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Defaults mirror original_source/apps/collector/collect.h (spec.md
// §4.9).
const (
	DefaultBatchSize      = 50
	DefaultBatchTimeout   = 10 * time.Second
	DefaultMaxRetries     = 2
	DefaultBaseRetryDelay = 2 * time.Second
	DefaultHTTPTimeout    = 30 * time.Second
	DefaultForceThreshold = 0.8
)

// batch is the single in-flight batch's state.
type batch struct {
	entries    []int // pool indices
	state      State
	retryCount int
	retryAt    time.Time
	payload    []byte
}

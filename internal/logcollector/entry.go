// Package logcollector implements the log-collector core (spec.md
// §4.9, C13): syslog ingest into a pre-allocated entry pool, a
// single-threaded circular queue, and a batching state machine that
// pushes batches to the control plane behind a token-gated admission
// check.
//
// Grounded on original_source/apps/collector/collect.h's single-core
// design: a fixed entry pool (ENTRY_POOL_SIZE), a simple circular
// queue sized to match, and the same five-state HTTP state machine
// (HTTP_IDLE/PREPARING/SENDING/RETRY_WAIT/FAILED) reproduced here as
// an explicit Go type rather than a C enum.
package logcollector

import "time"

// LogEntry is one pooled log record. Grounded on compact_log_entry_t;
// the pool-index/in_use bookkeeping the original used for manual
// memory management collapses here into pool's own slice and a
// parallel in-use flag slice.
type LogEntry struct {
	Program   string
	Message   string
	Facility  string
	Priority  string
	Timestamp time.Time
}

func (e *LogEntry) reset() {
	e.Program = ""
	e.Message = ""
	e.Facility = ""
	e.Priority = ""
	e.Timestamp = time.Time{}
}

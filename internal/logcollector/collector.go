package logcollector

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"wayru-agent/internal/httpclient"
)

// TokenProvider supplies the bearer token the collector authenticates
// its log pushes with, fetched over the local IPC (C14) per spec.md
// §4.11. Invalidate is called after an observed 401 so the next cycle
// forces a refresh.
type TokenProvider interface {
	CurrentToken() (token string, valid bool)
	Invalidate()
}

// Config holds the batching and retry parameters; zero values are
// replaced with their spec.md §4.9 defaults by New.
type Config struct {
	QueueCapacity    int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxRetries       int
	BaseRetryDelay   time.Duration
	ForceThreshold   float64
	Endpoint         string
	CollectorVersion string
}

func (c *Config) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultPoolSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = DefaultBatchTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.ForceThreshold <= 0 {
		c.ForceThreshold = DefaultForceThreshold
	}
}

// Collector owns the pool, queue, and batch state machine for one
// process's worth of log traffic.
type Collector struct {
	cfg    Config
	http   *httpclient.Client
	tokens TokenProvider
	logger *slog.Logger

	pool  *pool
	queue *queue
	batch batch
}

// New constructs a Collector. Pass a zero Config to accept every
// spec.md §4.9 default.
func New(http *httpclient.Client, tokens TokenProvider, logger *slog.Logger, cfg Config) *Collector {
	cfg.applyDefaults()
	return &Collector{
		cfg:    cfg,
		http:   http,
		tokens: tokens,
		logger: logger,
		pool:   newPool(cfg.QueueCapacity),
		queue:  newQueue(cfg.QueueCapacity),
		batch:  batch{state: Idle},
	}
}

// Enqueue admits one syslog record. Debug-severity records are
// dropped without touching the pool (spec.md §4.9: "drop if severity
// == debug"); everything else competes for a pool slot.
func (c *Collector) Enqueue(program, message, facility, priority string) {
	if strings.EqualFold(priority, "debug") {
		return
	}
	idx, ok := c.pool.acquire()
	if !ok {
		c.logger.Warn("log collector pool exhausted, dropping entry")
		return
	}
	entry := c.pool.get(idx)
	entry.Program = program
	entry.Message = message
	entry.Facility = facility
	entry.Priority = priority
	entry.Timestamp = time.Now()

	if !c.queue.push(idx) {
		c.logger.Warn("log collector queue full, dropping entry")
		c.pool.release(idx)
	}
}

// Dropped returns the number of entries dropped due to pool
// exhaustion.
func (c *Collector) Dropped() int64 {
	return c.pool.dropCount()
}

// QueueLen returns the number of entries currently queued.
func (c *Collector) QueueLen() int {
	return c.queue.len()
}

// State returns the current batch state machine state, for
// diagnostics.
func (c *Collector) State() State {
	return c.batch.state
}

// shouldForcePreparing reports whether Idle should transition to
// Preparing right now (spec.md §4.9, §8).
func (c *Collector) shouldForcePreparing() bool {
	if c.queue.len() >= c.cfg.BatchSize {
		return true
	}
	if c.queue.occupancy() >= c.cfg.ForceThreshold {
		return true
	}
	if c.queue.len() > 0 {
		if idx, ok := c.queue.peekHead(); ok {
			if time.Since(c.pool.get(idx).Timestamp) >= c.cfg.BatchTimeout {
				return true
			}
		}
	}
	return false
}

// Tick is the scheduler task body: advance the batch state machine
// until it reaches a state that must wait for external time (Idle
// with nothing due, or RetryWait before its deadline).
func (c *Collector) Tick(ctx context.Context) {
	for {
		switch c.batch.state {
		case Idle:
			if !c.shouldForcePreparing() {
				return
			}
			c.prepare()

		case Preparing:
			// prepare() always resolves Preparing synchronously; this
			// case only exists for completeness of the state type.
			return

		case Sending:
			c.send(ctx)

		case RetryWait:
			if time.Now().Before(c.batch.retryAt) {
				return
			}
			c.batch.state = Sending

		case Failed:
			c.dropBatch()
		}
	}
}

// prepare builds the JSON payload for the head of the queue
// (spec.md §4.9: "Preparing - build JSON payload - Sending; on
// alloc/encode failure - Failed").
func (c *Collector) prepare() {
	c.batch.state = Preparing
	indices := c.queue.popUpTo(c.cfg.BatchSize)
	c.batch.entries = indices

	logs := make([]logPayload, 0, len(indices))
	for _, idx := range indices {
		e := c.pool.get(idx)
		logs = append(logs, logPayload{
			Message:  e.Message,
			Priority: e.Priority,
			Source:   firstNonEmpty(e.Program, e.Facility),
			Time:     e.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	body := logsRequest{Logs: logs, Count: len(logs), CollectorVersion: c.cfg.CollectorVersion}
	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.Error("log collector: encoding batch failed", "error", err)
		c.batch.state = Failed
		return
	}
	c.batch.payload = payload
	c.batch.state = Sending
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

type logPayload struct {
	Message  string `json:"msg"`
	Priority string `json:"priority"`
	Source   string `json:"source"`
	Time     string `json:"time"`
}

type logsRequest struct {
	Logs             []logPayload `json:"logs"`
	Count            int          `json:"count"`
	CollectorVersion string       `json:"collector_version"`
}

// send performs the batch's HTTP POST and drives the Sending/
// RetryWait/Failed transitions (spec.md §4.9).
func (c *Collector) send(ctx context.Context) {
	token, valid := c.tokens.CurrentToken()
	if !valid {
		c.logger.Debug("log collector: no valid token, deferring batch")
		c.scheduleRetry()
		return
	}
	c.http.SetToken(token)

	sendCtx, cancel := context.WithTimeout(ctx, DefaultHTTPTimeout)
	defer cancel()

	err := c.http.PostJSON(sendCtx, c.cfg.Endpoint, json.RawMessage(c.batch.payload), nil)
	if err == nil {
		c.resetBatch()
		return
	}

	var apiErr *httpclient.APIError
	if asAPIError(err, &apiErr) && apiErr.Unauthorized() {
		c.tokens.Invalidate()
	}

	c.logger.Warn("log collector: batch send failed", "error", err, "retry_count", c.batch.retryCount)
	if c.batch.retryCount >= c.cfg.MaxRetries {
		c.batch.state = Failed
		return
	}
	c.batch.retryCount++
	c.scheduleRetry()
}

// scheduleRetry arms a fixed retry delay, matching the original's
// HTTP_RETRY_WAIT case (collect.c), which sleeps a constant
// HTTP_RETRY_DELAY_MS between attempts rather than growing it by
// attempt count.
func (c *Collector) scheduleRetry() {
	c.batch.retryAt = time.Now().Add(c.cfg.BaseRetryDelay)
	c.batch.state = RetryWait
}

// resetBatch returns every batch entry to the pool and resets the
// state machine to Idle (spec.md §4.9, §8: "a 2xx response resets the
// in-flight batch to Idle and returns every entry to the pool").
func (c *Collector) resetBatch() {
	for _, idx := range c.batch.entries {
		c.pool.release(idx)
	}
	c.batch = batch{state: Idle}
}

// dropBatch discards a Failed batch, returning its entries to the
// pool without sending them (spec.md §4.9: "drop batch, return pool
// entries").
func (c *Collector) dropBatch() {
	for _, idx := range c.batch.entries {
		c.pool.release(idx)
	}
	c.batch = batch{state: Idle}
}

func asAPIError(err error, target **httpclient.APIError) bool {
	ae, ok := err.(*httpclient.APIError)
	if !ok {
		return false
	}
	*target = ae
	return true
}

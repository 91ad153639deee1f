// Package delivery drains the durable queue into the upstream intake over
// HTTP. One worker goroutine serializes all posting, so at most one attempt
// is in flight and queue order is preserved per topic.
package delivery

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
	"github.com/FFTY50/micromanager-pos-sub000/internal/telemetry"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/metrics"
	"github.com/FFTY50/micromanager-pos-sub000/pkg/queue"
)

// Config tunes the delivery loop.
type Config struct {
	// RequestTimeout bounds each POST attempt.
	RequestTimeout time.Duration

	// PollInterval is how long the worker sleeps when the queue has nothing
	// eligible.
	PollInterval time.Duration

	// FailurePause is the short sleep after a failed attempt, on top of the
	// job's own backoff, so a dead upstream is not hammered in a tight loop.
	FailurePause time.Duration
}

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.FailurePause <= 0 {
		c.FailurePause = time.Second
	}
}

// Worker pulls due jobs from the queue and posts them upstream.
type Worker struct {
	cfg     Config
	queue   *queue.Queue
	client  *http.Client
	metrics *metrics.AgentMetrics
}

// NewWorker creates a delivery worker. metrics may be nil.
func NewWorker(cfg Config, q *queue.Queue, m *metrics.AgentMetrics) *Worker {
	cfg.applyDefaults()
	return &Worker{
		cfg:     cfg,
		queue:   q,
		client:  &http.Client{Timeout: cfg.RequestTimeout},
		metrics: m,
	}
}

// Run drains the queue until ctx is cancelled. It never returns a non-nil
// error from delivery failures; those only defer jobs.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("delivery worker started",
		"poll_interval", w.cfg.PollInterval, "request_timeout", w.cfg.RequestTimeout)

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("delivery worker stopped")
			return nil
		}

		delivered, err := w.Step(ctx)
		if err != nil {
			// Queue errors are unexpected; log and retry after a pause.
			logger.Error("delivery queue error", "error", err)
			if !sleep(ctx, w.cfg.FailurePause) {
				return nil
			}
			continue
		}

		switch delivered {
		case stepDelivered:
			// Immediately look for the next job.
		case stepFailed:
			if !sleep(ctx, w.cfg.FailurePause) {
				return nil
			}
		case stepIdle:
			if !sleep(ctx, w.cfg.PollInterval) {
				return nil
			}
		}
	}
}

type stepResult int

const (
	stepIdle stepResult = iota
	stepDelivered
	stepFailed
)

// Step performs at most one delivery attempt. Exposed for the shutdown drain
// and for tests.
func (w *Worker) Step(ctx context.Context) (stepResult, error) {
	job, err := w.queue.Due(ctx)
	if err != nil {
		return stepIdle, err
	}
	if job == nil {
		w.publishDepth(ctx)
		return stepIdle, nil
	}

	ok := w.post(ctx, job)
	if err := w.queue.Mark(ctx, job.ID, ok); err != nil {
		return stepIdle, err
	}
	w.publishDepth(ctx)

	if ok {
		return stepDelivered, nil
	}
	return stepFailed, nil
}

// post attempts one HTTP delivery. Any transport error or non-2xx status is
// a failure.
func (w *Worker) post(ctx context.Context, job *queue.Job) bool {
	ctx, span := telemetry.StartDeliverySpan(ctx, job.Topic, job.ID,
		telemetry.DeliveryURL(job.URL), telemetry.Attempt(job.Attempts+1))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(job.Body))
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Error("failed to build delivery request",
			logger.JobID(job.ID), logger.Topic(job.Topic), logger.Err(err))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := w.client.Do(req)
	w.metrics.ObservePostLatency(time.Since(start))

	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Warn("delivery attempt failed",
			logger.JobID(job.ID), logger.Topic(job.Topic),
			logger.Attempt(job.Attempts+1), logger.Err(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	telemetry.SetAttributes(ctx, telemetry.HTTPStatus(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		telemetry.SetStatus(ctx, codes.Error, "upstream rejected payload")
		logger.Warn("upstream rejected payload",
			logger.JobID(job.ID), logger.Topic(job.Topic),
			logger.Status(resp.StatusCode), logger.Attempt(job.Attempts+1))
		return false
	}

	telemetry.SetStatus(ctx, codes.Ok, "")
	logger.Debug("payload delivered",
		logger.JobID(job.ID), logger.Topic(job.Topic), logger.Status(resp.StatusCode))
	return true
}

func (w *Worker) publishDepth(ctx context.Context) {
	depth, err := w.queue.Depth(ctx)
	if err != nil {
		return
	}
	w.metrics.SetQueueDepth(depth)
}

// Drain attempts to deliver everything currently eligible, stopping at the
// first failure or when the context expires. Used during shutdown to flush
// final payloads without waiting out backoff schedules.
func (w *Worker) Drain(ctx context.Context) {
	for {
		res, err := w.Step(ctx)
		if err != nil || res != stepDelivered {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// sleep waits for d or until ctx is cancelled; it reports false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

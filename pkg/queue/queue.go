// Package queue is the durable outbound queue between the transaction
// pipeline and the HTTP delivery loop.
//
// Jobs are persisted in an embedded single-file SQLite database opened in
// WAL mode, so queued payloads survive crashes and multi-day upstream
// outages. If the file store cannot be opened at startup the queue falls
// back to an in-memory store with identical semantics; the fallback is
// logged and does not survive restart.
package queue

import (
	"context"
	"time"

	"github.com/FFTY50/micromanager-pos-sub000/internal/bytesize"
	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
)

// Topics routed through the queue.
const (
	TopicTransactionLine  = "transaction_line"
	TopicTransactionLines = "transaction_lines"
	TopicTransactions     = "transactions"
)

// Job is a unit of outbound work. A job is either pending (present in the
// store) or delivered (removed); there is no intermediate state.
type Job struct {
	ID           uint64            `gorm:"primaryKey;autoIncrement"`
	Topic        string            `gorm:"size:32;not null"`
	URL          string            `gorm:"not null"`
	Body         []byte            `gorm:"not null"`
	Headers      map[string]string `gorm:"serializer:json"`
	Attempts     int               `gorm:"not null;default:0"`
	NextEligible int64             `gorm:"index;not null"` // unix seconds
	CreatedAt    int64             `gorm:"index;not null"` // unix seconds
}

// Store is the persistence contract shared by the SQLite and in-memory
// implementations. Push and Mark are called from different goroutines and
// must serialize their writes.
type Store interface {
	// Push appends a job. The store assigns ID and CreatedAt.
	Push(ctx context.Context, job *Job) error

	// Due returns at most one job with NextEligible <= now, lowest id first,
	// or nil when nothing is eligible.
	Due(ctx context.Context, now time.Time) (*Job, error)

	// Mark resolves an attempt: on success the job is removed; on failure
	// its attempt counter is incremented and NextEligible advances per the
	// backoff rule, measured from now.
	Mark(ctx context.Context, id uint64, ok bool, now time.Time) error

	// Depth returns the pending job count.
	Depth(ctx context.Context) (int64, error)

	// List returns up to limit pending jobs in id order, for inspection.
	List(ctx context.Context, limit int) ([]Job, error)

	// Purge removes every pending job and returns the number removed.
	Purge(ctx context.Context) (int64, error)

	// EnforceLimits evicts jobs past the age limit, then trims the oldest
	// jobs while the store's footprint exceeds the byte cap. Returns the
	// number of jobs evicted.
	EnforceLimits(ctx context.Context, now time.Time) (int64, error)

	Close() error
}

// Config bounds the queue's disk usage.
type Config struct {
	// Path is the SQLite database file.
	Path string

	// MaxBytes caps the on-disk footprint. 0 disables size eviction.
	MaxBytes bytesize.ByteSize

	// MaxAge evicts jobs older than this. 0 disables age eviction.
	MaxAge time.Duration

	// TrimBatch is how many of the oldest jobs are removed per size-eviction
	// round.
	TrimBatch int
}

func (c *Config) applyDefaults() {
	if c.TrimBatch <= 0 {
		c.TrimBatch = 50
	}
}

// Queue wraps a Store with opportunistic eviction on push.
type Queue struct {
	store    Store
	cfg      Config
	fallback bool
}

// Open opens the durable queue at cfg.Path, falling back to an in-memory
// store if the database cannot be opened.
func Open(cfg Config) (*Queue, error) {
	cfg.applyDefaults()

	store, err := newSQLiteStore(&cfg)
	if err != nil {
		logger.Warn("queue database unavailable, falling back to in-memory store; queued payloads will not survive restart",
			"path", cfg.Path, "error", err)
		return &Queue{store: newMemoryStore(&cfg), cfg: cfg, fallback: true}, nil
	}
	return &Queue{store: store, cfg: cfg}, nil
}

// InMemory reports whether the queue is running on the volatile fallback.
func (q *Queue) InMemory() bool {
	return q.fallback
}

// Push durably enqueues a payload and opportunistically enforces limits.
func (q *Queue) Push(ctx context.Context, topic, url string, body []byte, headers map[string]string) error {
	job := &Job{
		Topic:   topic,
		URL:     url,
		Body:    body,
		Headers: headers,
	}
	if err := q.store.Push(ctx, job); err != nil {
		return err
	}
	if evicted, err := q.store.EnforceLimits(ctx, time.Now()); err != nil {
		logger.Warn("queue eviction failed", "error", err)
	} else if evicted > 0 {
		logger.Warn("queue evicted jobs on push", "evicted", evicted)
	}
	return nil
}

// Due returns the next eligible job, or nil.
func (q *Queue) Due(ctx context.Context) (*Job, error) {
	return q.store.Due(ctx, time.Now())
}

// Mark resolves a delivery attempt.
func (q *Queue) Mark(ctx context.Context, id uint64, ok bool) error {
	return q.store.Mark(ctx, id, ok, time.Now())
}

// Depth returns the pending job count.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.store.Depth(ctx)
}

// List returns up to limit pending jobs for inspection.
func (q *Queue) List(ctx context.Context, limit int) ([]Job, error) {
	return q.store.List(ctx, limit)
}

// Purge removes every pending job.
func (q *Queue) Purge(ctx context.Context) (int64, error) {
	return q.store.Purge(ctx)
}

// EnforceLimits runs one eviction round.
func (q *Queue) EnforceLimits(ctx context.Context) (int64, error) {
	return q.store.EnforceLimits(ctx, time.Now())
}

// Close releases the underlying store.
func (q *Queue) Close() error {
	return q.store.Close()
}

// backoffDelay implements the retry schedule: after attempt k the job waits
// min(2^(k-1), 60) seconds for k < 10 and 300 seconds from the tenth failure
// on.
func backoffDelay(attempts int) time.Duration {
	if attempts >= 10 {
		return 300 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(1<<uint(attempts-1)) * time.Second
	if d > 60*time.Second {
		d = 60 * time.Second
	}
	return d
}

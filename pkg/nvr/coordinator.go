package nvr

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/FFTY50/micromanager-pos-sub000/internal/logger"
	"github.com/FFTY50/micromanager-pos-sub000/internal/telemetry"
)

// EventRef is the handle a transaction holds on its recorder event. It is
// created unresolved at transaction start and resolves asynchronously when
// the recorder answers; if the create call fails it stays unresolved forever.
type EventRef struct {
	mu   sync.Mutex
	id   string
	url  string
	ok   bool
	done chan struct{}
}

func newEventRef() *EventRef {
	return &EventRef{done: make(chan struct{})}
}

// Event returns the recorder event id and URL once resolved. ok is false
// while the create call is in flight or after it failed.
func (r *EventRef) Event() (id, url string, ok bool) {
	if r == nil {
		return "", "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id, r.url, r.ok
}

// Wait blocks until the create call settles or ctx expires.
func (r *EventRef) Wait(ctx context.Context) {
	if r == nil {
		return
	}
	select {
	case <-r.done:
	case <-ctx.Done():
	}
}

func (r *EventRef) resolve(id, url string) {
	r.mu.Lock()
	r.id = id
	r.url = url
	r.ok = true
	r.mu.Unlock()
	close(r.done)
}

func (r *EventRef) fail() {
	close(r.done)
}

// Summary is what the coordinator stamps onto the recorder event when the
// transaction completes.
type Summary struct {
	TransactionNumber string
	TotalAmount       *float64
	ItemCount         int
}

// Coordinator ties recorder events to transaction lifecycles. All recorder
// traffic happens on short-lived goroutines so the ingest path never waits
// on the network.
type Coordinator struct {
	cfg    Config
	client *Client
}

// NewCoordinator creates a coordinator; returns nil when no recorder is
// configured. A nil coordinator is safe to call.
func NewCoordinator(cfg Config) *Coordinator {
	if !cfg.Enabled() {
		return nil
	}
	cfg.applyDefaults()
	return &Coordinator{cfg: cfg, client: NewClient(cfg)}
}

// Begin starts a recorder event for a new transaction and returns its
// unresolved handle. Returns nil when the coordinator is disabled.
func (c *Coordinator) Begin(ctx context.Context, txnID string) *EventRef {
	if c == nil {
		return nil
	}

	ref := newEventRef()
	go func() {
		ctx, span := telemetry.StartSpan(ctx, telemetry.SpanNVRCreate)
		defer span.End()
		telemetry.SetAttributes(ctx, telemetry.TxnID(txnID), telemetry.Camera(c.cfg.Camera))

		id, url, err := c.client.CreateEvent(ctx)
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.Warn("recorder event creation failed; transaction continues without video",
				logger.TxnID(txnID), logger.Camera(c.cfg.Camera), logger.Err(err))
			ref.fail()
			return
		}
		ref.resolve(id, url)
		telemetry.SetAttributes(ctx, telemetry.EventID(id))
		logger.Debug("recorder event started",
			logger.TxnID(txnID), logger.EventID(id), logger.Camera(c.cfg.Camera))
	}()
	return ref
}

// Finish annotates and ends the recorder event for a completed transaction.
// Every failure is logged and swallowed.
func (c *Coordinator) Finish(ctx context.Context, ref *EventRef, sum Summary) {
	if c == nil || ref == nil {
		return
	}

	ref.Wait(ctx)
	id, _, ok := ref.Event()
	if !ok {
		return
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanNVRFinish)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.EventID(id))

	if sum.TransactionNumber != "" {
		if err := c.client.SetSubLabel(ctx, id, "Txn "+sum.TransactionNumber); err != nil {
			logger.Warn("recorder sub_label failed", logger.EventID(id), logger.Err(err))
		}
	}

	if err := c.client.SetDescription(ctx, id, describe(sum)); err != nil {
		logger.Warn("recorder description failed", logger.EventID(id), logger.Err(err))
	}

	if c.cfg.Retain {
		if err := c.client.Retain(ctx, id); err != nil {
			logger.Warn("recorder retain failed", logger.EventID(id), logger.Err(err))
		}
	}

	if err := c.client.EndEvent(ctx, id); err != nil {
		logger.Warn("recorder event end failed", logger.EventID(id), logger.Err(err))
		return
	}
	logger.Debug("recorder event ended", logger.EventID(id))
}

func describe(sum Summary) string {
	num := sum.TransactionNumber
	if num == "" {
		num = "?"
	}
	total := "?"
	if sum.TotalAmount != nil {
		total = strconv.FormatFloat(*sum.TotalAmount, 'f', 2, 64)
	}
	return fmt.Sprintf("Txn %s | Total: %s | Items: %d", num, total, sum.ItemCount)
}

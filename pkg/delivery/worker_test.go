package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/FFTY50/micromanager-pos-sub000/pkg/queue"
)

// recordSpans routes spans to an in-memory recorder for the test's duration.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return sr
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.Open(queue.Config{Path: filepath.Join(t.TempDir(), "queue.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// intake is a fake upstream that can be flipped between accepting and
// rejecting.
type intake struct {
	mu       sync.Mutex
	up       bool
	received []map[string]any
	headers  []http.Header
}

func (i *intake) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i.mu.Lock()
		defer i.mu.Unlock()

		if !i.up {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		i.received = append(i.received, body)
		i.headers = append(i.headers, r.Header.Clone())
		w.WriteHeader(http.StatusOK)
	}
}

func (i *intake) setUp(up bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.up = up
}

func (i *intake) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.received)
}

func TestStepDeliversAndRemoves(t *testing.T) {
	in := &intake{up: true}
	srv := httptest.NewServer(in.handler())
	defer srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, queue.TopicTransactions, srv.URL,
		[]byte(`{"transaction_id":"t1"}`), map[string]string{"Authorization": "Bearer tok"}))

	w := NewWorker(Config{}, q, nil)
	res, err := w.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepDelivered, res)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)

	require.Equal(t, 1, in.count())
	assert.Equal(t, "t1", in.received[0]["transaction_id"])
	assert.Equal(t, "Bearer tok", in.headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", in.headers[0].Get("Content-Type"))
}

func TestStepKeepsJobOnRejection(t *testing.T) {
	in := &intake{up: false}
	srv := httptest.NewServer(in.handler())
	defer srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, queue.TopicTransactions, srv.URL, []byte(`{}`), nil))

	w := NewWorker(Config{}, q, nil)
	res, err := w.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepFailed, res)

	// The job survives for a later retry.
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestStepKeepsJobWhenUpstreamUnreachable(t *testing.T) {
	// A closed server yields a connection error rather than a status code.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, queue.TopicTransactions, url, []byte(`{}`), nil))

	w := NewWorker(Config{}, q, nil)
	res, err := w.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepFailed, res)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestOutageThenRecoveryPreservesOrder(t *testing.T) {
	in := &intake{up: false}
	srv := httptest.NewServer(in.handler())
	defer srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	w := NewWorker(Config{}, q, nil)

	// Transactions complete while the intake is down; everything queues.
	for _, id := range []string{"t1", "t2", "t3"} {
		body, _ := json.Marshal(map[string]string{"transaction_id": id})
		require.NoError(t, q.Push(ctx, queue.TopicTransactions, srv.URL, body, nil))
	}

	res, err := w.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, stepFailed, res)
	depth, _ := q.Depth(ctx)
	assert.Equal(t, int64(3), depth)

	// Intake comes back; the failed job waits out its one-second backoff,
	// then everything drains oldest-first.
	in.setUp(true)
	deadline := time.Now().Add(5 * time.Second)
	for {
		d, err := q.Depth(ctx)
		require.NoError(t, err)
		if d == 0 {
			break
		}
		require.True(t, time.Now().Before(deadline), "queue did not drain")
		_, err = w.Step(ctx)
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}

	require.Equal(t, 3, in.count())
	assert.Equal(t, "t1", in.received[0]["transaction_id"])
	assert.Equal(t, "t2", in.received[1]["transaction_id"])
	assert.Equal(t, "t3", in.received[2]["transaction_id"])
}

func TestPostEmitsDeliverySpans(t *testing.T) {
	sr := recordSpans(t)

	in := &intake{up: true}
	srv := httptest.NewServer(in.handler())
	defer srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	w := NewWorker(Config{}, q, nil)

	require.NoError(t, q.Push(ctx, queue.TopicTransactions, srv.URL, []byte(`{}`), nil))
	res, err := w.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, stepDelivered, res)

	in.setUp(false)
	require.NoError(t, q.Push(ctx, queue.TopicTransactionLines, srv.URL, []byte(`{"lines":[]}`), nil))
	res, err = w.Step(ctx)
	require.NoError(t, err)
	require.Equal(t, stepFailed, res)

	spans := sr.Ended()
	require.Len(t, spans, 2)

	delivered := spans[0]
	assert.Equal(t, "delivery.post", delivered.Name())
	assert.Equal(t, codes.Ok, delivered.Status().Code)
	assert.Contains(t, delivered.Attributes(), attribute.String("queue.topic", queue.TopicTransactions))
	assert.Contains(t, delivered.Attributes(), attribute.Int("delivery.attempt", 1))
	assert.Contains(t, delivered.Attributes(), attribute.Int("delivery.status", http.StatusOK))

	rejected := spans[1]
	assert.Equal(t, "delivery.post", rejected.Name())
	assert.Equal(t, codes.Error, rejected.Status().Code)
	assert.Contains(t, rejected.Attributes(), attribute.Int("delivery.status", http.StatusServiceUnavailable))
}

func TestRunStopsOnCancel(t *testing.T) {
	q := newTestQueue(t)
	w := NewWorker(Config{PollInterval: 10 * time.Millisecond}, q, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestDrainFlushesEligibleJobs(t *testing.T) {
	in := &intake{up: true}
	srv := httptest.NewServer(in.handler())
	defer srv.Close()

	q := newTestQueue(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, q.Push(ctx, queue.TopicTransactionLines, srv.URL, []byte(`{"lines":[]}`), nil))
	}

	w := NewWorker(Config{}, q, nil)
	w.Drain(ctx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Equal(t, 4, in.count())
}
